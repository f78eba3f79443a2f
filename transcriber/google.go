package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"ltkeeper/encoder"
	"ltkeeper/log"
)

// Google caps a streaming recognize call at about five minutes of audio;
// a talk that runs long would otherwise lose recognition mid-sentence.
const googleRotateAfter = 290 * time.Second

// speechStream is the part of a StreamingRecognize call the session uses.
type speechStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type speechClient interface {
	StreamingRecognize(ctx context.Context) (speechStream, error)
	Close() error
}

type cloudSpeechClient struct {
	c *speech.Client
}

func (c cloudSpeechClient) StreamingRecognize(ctx context.Context) (speechStream, error) {
	return c.c.StreamingRecognize(ctx)
}

func (c cloudSpeechClient) Close() error { return c.c.Close() }

func newCloudSpeechClient(ctx context.Context) (speechClient, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return cloudSpeechClient{c: c}, nil
}

type Google struct {
	baseTranscriber
	rotateAfter time.Duration
	newClient   func(context.Context) (speechClient, error)
}

func NewGoogle() *Google {
	return &Google{
		rotateAfter: googleRotateAfter,
		newClient:   newCloudSpeechClient,
	}
}

func (g *Google) Name() string { return "google" }

// googleLanguage maps short codes to the BCP-47 tags the API expects.
func googleLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "", "ja":
		return "ja-JP"
	case "en":
		return "en-US"
	}
	return lang
}

func (g *Google) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if cfg.Language == "" {
		cfg.Language = g.lang
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = encoder.SampleRate
	}
	return newStreamSession(g.Name(), func() (rawStreamSession, error) {
		return g.startStream(ctx, cfg)
	}), nil
}

type googleStreamSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	client      speechClient
	config      *speechpb.StreamingRecognitionConfig
	rotateAfter time.Duration

	mu       sync.Mutex
	stream   speechStream
	openedAt time.Time
	rotated  bool

	results   chan streamUpdate
	errs      chan error
	readers   sync.WaitGroup
	closeOnce sync.Once
}

func (g *Google) startStream(ctx context.Context, cfg SessionConfig) (rawStreamSession, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	client, err := g.newClient(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	s := &googleStreamSession{
		ctx:         streamCtx,
		cancel:      cancel,
		client:      client,
		rotateAfter: g.rotateAfter,
		config: &speechpb.StreamingRecognitionConfig{
			Config: &speechpb.RecognitionConfig{
				Encoding:                   speechpb.RecognitionConfig_LINEAR16,
				SampleRateHertz:            int32(cfg.SampleRate),
				AudioChannelCount:          int32(max(cfg.Channels, 1)),
				LanguageCode:               googleLanguage(cfg.Language),
				EnableAutomaticPunctuation: true,
			},
			InterimResults: true,
		},
		results: make(chan streamUpdate, 64),
		errs:    make(chan error, 1),
	}
	if err := s.open(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// open starts a new recognize call and its reader. Caller holds mu or is
// the constructor.
func (s *googleStreamSession) open() error {
	stream, err := s.client.StreamingRecognize(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to create streaming recognize: %w", err)
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: s.config,
		},
	}); err != nil {
		stream.CloseSend()
		return fmt.Errorf("failed to send streaming config: %w", err)
	}
	s.stream = stream
	s.openedAt = time.Now()
	s.readers.Add(1)
	go s.read(stream)
	return nil
}

func (s *googleStreamSession) read(stream speechStream) {
	defer s.readers.Done()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			select {
			case s.errs <- fmt.Errorf("failed to receive response: %w", err):
			default:
			}
			return
		}
		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			u := streamUpdate{Transcript: r.Alternatives[0].Transcript, IsFinal: r.IsFinal}
			s.mu.Lock()
			if s.rotated && r.IsFinal {
				u.Reconnected = true
				s.rotated = false
			}
			s.mu.Unlock()
			select {
			case s.results <- u:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *googleStreamSession) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.openedAt) >= s.rotateAfter {
		// the old reader drains its last finals on its own
		if err := s.stream.CloseSend(); err != nil {
			return fmt.Errorf("failed to rotate stream: %w", err)
		}
		if err := s.open(); err != nil {
			return err
		}
		s.rotated = true
		log.Info("google stream rotated")
	}
	if err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: pcm,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// CloseSend ends the current call. Once every reader has drained, Recv
// reports a finalize marker followed by io.EOF.
func (s *googleStreamSession) CloseSend() error {
	s.mu.Lock()
	err := s.stream.CloseSend()
	s.mu.Unlock()
	go func() {
		s.readers.Wait()
		select {
		case s.results <- streamUpdate{FromFinalize: true}:
		case <-s.ctx.Done():
		}
		close(s.results)
	}()
	return err
}

func (s *googleStreamSession) Recv() (streamUpdate, error) {
	select {
	case u, ok := <-s.results:
		if !ok {
			return streamUpdate{}, io.EOF
		}
		return u, nil
	case err := <-s.errs:
		return streamUpdate{}, err
	case <-s.ctx.Done():
		return streamUpdate{}, s.ctx.Err()
	}
}

func (s *googleStreamSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.client.Close()
	})
	return err
}
