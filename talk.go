package main

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"ltkeeper/audio"
	"ltkeeper/beep"
	"ltkeeper/encoder"
	"ltkeeper/log"
	"ltkeeper/transcriber"
)

// Messages produced by a running talk. gen is the talk generation the
// message belongs to; the model drops anything from an older talk.
type transcriptMsg struct {
	gen    int
	update transcriber.Update
}

type sessionClosedMsg struct {
	gen    int
	result transcriber.SessionResult
	err    error
}

type soundPlayer interface {
	Warning()
	Bell()
}

type beepPlayer struct{}

func (beepPlayer) Warning() { go beep.PlayWarning() }
func (beepPlayer) Bell()    { go beep.PlayBell() }

// talk owns the microphone and the recognition session while the timer
// runs. Capture and recognition results reach the TUI through send.
type talk struct {
	capture     audio.CaptureDevice
	transcriber transcriber.Transcriber // nil when no provider is configured
	recordAudio bool
	send        func(tea.Msg)

	level atomic.Uint64 // float64 bits of the smoothed mic level

	mu       sync.Mutex
	sess     transcriber.Session
	sessGen  int
	pumpDone chan struct{}
	rec      *encoder.Recorder
}

func newTalk(capture audio.CaptureDevice, t transcriber.Transcriber, recordAudio bool, send func(tea.Msg)) *talk {
	return &talk{
		capture:     capture,
		transcriber: t,
		recordAudio: recordAudio,
		send:        send,
	}
}

// Level is the last microphone level, 0..1.
func (t *talk) Level() float64 {
	return math.Float64frombits(t.level.Load())
}

func (t *talk) onAudio(data []byte, _ uint32) {
	prev := t.Level()
	t.level.Store(math.Float64bits(prev*0.6 + audio.Level(data)*0.4))

	t.mu.Lock()
	sess, rec := t.sess, t.rec
	t.mu.Unlock()
	if sess != nil {
		sess.Feed(data)
	}
	if rec != nil {
		rec.Write(data)
	}
}

// Start opens the microphone and, if a provider is configured, a new
// recognition session tagged with gen. Capture keeps running when the
// session cannot be opened; the returned error explains why.
func (t *talk) Start(gen int) error {
	t.mu.Lock()
	if t.recordAudio && t.rec == nil {
		t.rec = encoder.NewRecorder()
	}
	t.mu.Unlock()

	var sessErr error
	if t.transcriber == nil {
		sessErr = transcriber.ErrNoProvider
	} else {
		sess, err := t.transcriber.NewSession(context.Background(), transcriber.SessionConfig{
			Language:   t.transcriber.GetLanguage(),
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
		})
		if err != nil {
			log.Errorf("transcription session error: %v", err)
			sessErr = err
		} else {
			done := make(chan struct{})
			t.mu.Lock()
			t.sess = sess
			t.sessGen = gen
			t.pumpDone = done
			t.mu.Unlock()
			go t.pump(gen, sess, done)
		}
	}

	t.capture.SetCallback(t.onAudio)
	if err := t.capture.Start(); err != nil {
		log.Errorf("capture start error: %v", err)
		t.capture.ClearCallback()
		t.Stop()
		return err
	}
	log.Info("recording_device: " + t.capture.DeviceName())
	return sessErr
}

func (t *talk) pump(gen int, sess transcriber.Session, done chan struct{}) {
	defer close(done)
	for u := range sess.Updates() {
		t.send(transcriptMsg{gen: gen, update: u})
	}
}

// Stop halts capture and finalizes the session in the background. The
// session's last segments and its result arrive as messages.
func (t *talk) Stop() {
	t.capture.Stop()
	t.capture.ClearCallback()
	t.level.Store(0)

	t.mu.Lock()
	sess, gen, done := t.sess, t.sessGen, t.pumpDone
	t.sess = nil
	t.pumpDone = nil
	t.mu.Unlock()
	if sess == nil {
		return
	}

	go func() {
		result, err := sess.Close()
		<-done
		if result.Stream != nil {
			st := result.Stream
			log.StreamMetrics(log.StreamMetricsData{
				Provider:     t.transcriber.Name(),
				ConnectMs:    st.ConnectMs,
				FinalizeMs:   st.FinalizeMs,
				TotalMs:      st.TotalMs,
				AudioS:       st.AudioS,
				SentChunks:   st.SentChunks,
				SentKB:       st.SentKB,
				RecvMessages: st.RecvMessages,
				RecvFinal:    st.RecvFinal,
				Segments:     len(result.Segments),
			})
		}
		t.send(sessionClosedMsg{gen: gen, result: result, err: err})
	}()
}

// Reset drops the recorded audio for the next talk.
func (t *talk) Reset() {
	t.mu.Lock()
	t.rec = nil
	t.mu.Unlock()
}

// Audio encodes the talk's recording, or returns nil when nothing was
// recorded.
func (t *talk) Audio() ([]byte, error) {
	t.mu.Lock()
	rec := t.rec
	t.mu.Unlock()
	if rec == nil || rec.Empty() {
		return nil, nil
	}
	return rec.FLAC()
}
