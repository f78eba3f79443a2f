package transcriber

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FakeTranscriber replays scripted segments. Each segment is delivered as an
// interim update followed by a final one.
type FakeTranscriber struct {
	baseTranscriber
	segments []string
	err      error
	Interval time.Duration

	mu       sync.Mutex
	sessions int
}

func NewFake(segments []string, err error) *FakeTranscriber {
	return &FakeTranscriber{segments: segments, err: err, Interval: 10 * time.Millisecond}
}

func (f *FakeTranscriber) Name() string { return "fake" }

// Sessions reports how many sessions have been opened.
func (f *FakeTranscriber) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

func (f *FakeTranscriber) NewSession(ctx context.Context, _ SessionConfig) (Session, error) {
	f.mu.Lock()
	f.sessions++
	f.mu.Unlock()

	s := &fakeSession{
		err:     f.err,
		updates: make(chan Update, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run(ctx, f.segments, f.Interval)
	return s, nil
}

type fakeSession struct {
	err     error
	updates chan Update
	stop    chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	fed      int
	emitted  []string
	stopOnce sync.Once
}

func (s *fakeSession) run(ctx context.Context, segments []string, interval time.Duration) {
	defer close(s.done)
	defer close(s.updates)
	for _, seg := range segments {
		select {
		case <-time.After(interval):
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
		select {
		case s.updates <- Update{Text: seg}:
		default:
		}
		s.mu.Lock()
		s.emitted = append(s.emitted, seg)
		s.mu.Unlock()
		s.updates <- Update{Text: seg, Final: true}
	}
	select {
	case <-s.stop:
	case <-ctx.Done():
	}
}

func (s *fakeSession) Feed(pcm []byte) {
	s.mu.Lock()
	s.fed += len(pcm)
	s.mu.Unlock()
}

func (s *fakeSession) Updates() <-chan Update { return s.updates }

func (s *fakeSession) Close() (SessionResult, error) {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	if s.err != nil {
		return SessionResult{NoSpeech: true}, fmt.Errorf("fake transcriber error: %w", s.err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := append([]string(nil), s.emitted...)
	return SessionResult{
		Text:     strings.Join(segs, " "),
		Segments: segs,
		NoSpeech: len(segs) == 0,
		Metrics:  []string{fmt.Sprintf("fed:        %d bytes (fake)", s.fed)},
	}, nil
}
