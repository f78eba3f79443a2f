package transcriber

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
)

type fakeSpeechStream struct {
	ctx       context.Context
	responses chan *speechpb.StreamingRecognizeResponse

	mu         sync.Mutex
	requests   []*speechpb.StreamingRecognizeRequest
	closedSend bool
}

func (f *fakeSpeechStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closedSend {
		return errors.New("send after CloseSend")
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeSpeechStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	select {
	case r, ok := <-f.responses:
		if !ok {
			return nil, io.EOF
		}
		return r, nil
	case <-f.ctx.Done():
		return nil, f.ctx.Err()
	}
}

func (f *fakeSpeechStream) CloseSend() error {
	f.mu.Lock()
	f.closedSend = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSpeechStream) sent() []*speechpb.StreamingRecognizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*speechpb.StreamingRecognizeRequest(nil), f.requests...)
}

// final pushes one final result as the server would.
func (f *fakeSpeechStream) final(text string) {
	f.responses <- &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
			IsFinal:      true,
		}},
	}
}

type fakeSpeechClient struct {
	streams chan *fakeSpeechStream
	closed  chan struct{}
}

func newFakeSpeechClient() *fakeSpeechClient {
	return &fakeSpeechClient{
		streams: make(chan *fakeSpeechStream, 4),
		closed:  make(chan struct{}),
	}
}

func (c *fakeSpeechClient) StreamingRecognize(ctx context.Context) (speechStream, error) {
	s := &fakeSpeechStream{ctx: ctx, responses: make(chan *speechpb.StreamingRecognizeResponse, 8)}
	c.streams <- s
	return s, nil
}

func (c *fakeSpeechClient) Close() error {
	close(c.closed)
	return nil
}

func (c *fakeSpeechClient) next(t *testing.T) *fakeSpeechStream {
	t.Helper()
	select {
	case s := <-c.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no stream opened")
		return nil
	}
}

func newTestGoogle(client *fakeSpeechClient) *Google {
	g := NewGoogle()
	g.newClient = func(context.Context) (speechClient, error) { return client, nil }
	return g
}

func recvUpdate(t *testing.T, s rawStreamSession) streamUpdate {
	t.Helper()
	type result struct {
		u   streamUpdate
		err error
	}
	ch := make(chan result, 1)
	go func() {
		u, err := s.Recv()
		ch <- result{u, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Recv: %v", r.err)
		}
		return r.u
	case <-time.After(2 * time.Second):
		t.Fatal("Recv timed out")
		return streamUpdate{}
	}
}

func streamingConfig(t *testing.T, req *speechpb.StreamingRecognizeRequest) *speechpb.StreamingRecognitionConfig {
	t.Helper()
	cfg := req.GetStreamingConfig()
	if cfg == nil {
		t.Fatalf("first request is %T, want the streaming config", req.GetStreamingRequest())
	}
	return cfg
}

func TestGoogleStreamRotation(t *testing.T) {
	client := newFakeSpeechClient()
	raw, err := newTestGoogle(client).startStream(context.Background(), SessionConfig{
		Language:   "en",
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	s := raw.(*googleStreamSession)

	first := client.next(t)
	if lang := streamingConfig(t, first.sent()[0]).GetConfig().GetLanguageCode(); lang != "en-US" {
		t.Fatalf("language = %q, want en-US", lang)
	}
	if err := s.Send([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	first.final("before rotation")
	if u := recvUpdate(t, s); u.Transcript != "before rotation" || !u.IsFinal {
		t.Fatalf("update = %+v", u)
	}

	// Age the call past the rotation point; the next Send moves to a new call.
	s.mu.Lock()
	s.openedAt = time.Now().Add(-2 * s.rotateAfter)
	s.mu.Unlock()
	if err := s.Send([]byte{3, 4}); err != nil {
		t.Fatal(err)
	}

	second := client.next(t)
	first.mu.Lock()
	oldClosed := first.closedSend
	first.mu.Unlock()
	if !oldClosed {
		t.Error("old call should be half-closed on rotation")
	}
	reqs := second.sent()
	if len(reqs) != 2 {
		t.Fatalf("new call got %d requests, want config and audio", len(reqs))
	}
	if lang := streamingConfig(t, reqs[0]).GetConfig().GetLanguageCode(); lang != "en-US" {
		t.Errorf("new call language = %q", lang)
	}
	if audio := reqs[1].GetAudioContent(); len(audio) != 2 || audio[0] != 3 {
		t.Errorf("new call audio = %v, want [3 4]", audio)
	}
	if n := len(first.sent()); n != 2 {
		t.Errorf("old call got %d requests after rotation, want 2", n)
	}

	// The old call's last final still arrives after the switch.
	first.final("old tail")
	close(first.responses)
	if u := recvUpdate(t, s); u.Transcript != "old tail" || !u.IsFinal {
		t.Fatalf("old tail update = %+v", u)
	}

	second.final("after rotation")
	if u := recvUpdate(t, s); u.Transcript != "after rotation" || !u.IsFinal {
		t.Fatalf("update = %+v", u)
	}

	if err := s.CloseSend(); err != nil {
		t.Fatal(err)
	}
	close(second.responses)
	if u := recvUpdate(t, s); !u.FromFinalize {
		t.Fatalf("update = %+v, want finalize marker", u)
	}
	if _, err := s.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("Recv after finalize = %v, want io.EOF", err)
	}
}

func TestGoogleStreamCloseReleasesClient(t *testing.T) {
	client := newFakeSpeechClient()
	raw, err := newTestGoogle(client).startStream(context.Background(), SessionConfig{Language: "ja"})
	if err != nil {
		t.Fatal(err)
	}
	first := client.next(t)
	if lang := streamingConfig(t, first.sent()[0]).GetConfig().GetLanguageCode(); lang != "ja-JP" {
		t.Errorf("language = %q, want ja-JP", lang)
	}
	if err := raw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := raw.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	select {
	case <-client.closed:
	default:
		t.Error("Close should close the speech client")
	}
}
