package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ltkeeper/encoder"
)

const deepgramListenURL = "wss://api.deepgram.com/v1/listen"

type Deepgram struct {
	baseTranscriber
	apiKey   string
	model    string
	endpoint string
	dialer   *websocket.Dialer
}

func NewDeepgram(apiKey, model string) *Deepgram {
	if model == "" {
		model = "nova-2"
	}
	return &Deepgram{
		apiKey:   apiKey,
		model:    model,
		endpoint: deepgramListenURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if cfg.Language == "" {
		cfg.Language = d.lang
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = encoder.SampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = encoder.Channels
	}
	return newStreamSession(d.Name(), func() (rawStreamSession, error) {
		return d.startStream(ctx, cfg)
	}), nil
}

func (d *Deepgram) listenURL(cfg SessionConfig) (string, error) {
	endpoint, err := url.Parse(d.endpoint)
	if err != nil {
		return "", err
	}
	q := endpoint.Query()
	q.Set("model", d.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(cfg.Channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

type deepgramStreamResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStreamSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	cancel    context.CancelFunc
}

func (d *Deepgram) startStream(ctx context.Context, cfg SessionConfig) (rawStreamSession, error) {
	u, err := d.listenURL(cfg)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	conn, resp, err := d.dialer.DialContext(ctx, u, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram connect: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("deepgram connect: %w", err)
	}

	s := &deepgramStreamSession{conn: conn}
	// the socket follows the caller's context
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		<-streamCtx.Done()
		s.Close()
	}()
	return s, nil
}

func (s *deepgramStreamSession) write(kind int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(kind, data)
}

func (s *deepgramStreamSession) Send(pcm []byte) error {
	return s.write(websocket.BinaryMessage, pcm)
}

// CloseSend asks Deepgram to flush the utterance in progress. The socket
// stays open so the flushed result (from_finalize) can still arrive.
func (s *deepgramStreamSession) CloseSend() error {
	return s.write(websocket.TextMessage, []byte(`{"type":"Finalize"}`))
}

func (s *deepgramStreamSession) Recv() (streamUpdate, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return streamUpdate{}, err
		}

		var resp deepgramStreamResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return streamUpdate{}, fmt.Errorf("deepgram message: %w", err)
		}
		// Metadata, SpeechStarted and UtteranceEnd carry no text
		if resp.Type != "" && resp.Type != "Results" {
			continue
		}

		transcript := ""
		if len(resp.Channel.Alternatives) > 0 {
			transcript = resp.Channel.Alternatives[0].Transcript
		}
		return streamUpdate{
			Transcript:   strings.TrimSpace(transcript),
			IsFinal:      resp.IsFinal,
			SpeechFinal:  resp.SpeechFinal,
			FromFinalize: resp.FromFinalize,
		}, nil
	}
}

func (s *deepgramStreamSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}
