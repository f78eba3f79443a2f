package transcriber

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"ltkeeper/encoder"
	"ltkeeper/log"
)

const (
	streamChunkMs      = 200
	streamChunkBytes   = encoder.SampleRate * encoder.Channels * (encoder.BitsPerSample / 8) * streamChunkMs / 1000
	streamFinalizeIdle = 200 * time.Millisecond
	streamFinalizeMax  = 1000 * time.Millisecond
	streamDrainMax     = 2 * time.Second
)

type rawStreamSession interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Transcript   string
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
	Reconnected  bool
}

type streamSession struct {
	provider  string
	ws        rawStreamSession
	segments  []string
	audioCh   chan []byte
	updates   chan Update
	startedAt time.Time
	connected chan struct{} // closed when the stream is ready (or failed)

	sendDone      chan struct{}
	recvDone      chan struct{}
	finalized     chan struct{}
	finalizedOnce sync.Once

	feedBuf    []byte
	feedClosed bool
	feedMu     sync.Mutex

	mu      sync.Mutex
	err     error
	errOnce sync.Once
	closing bool
	stats   streamStats
}

type streamStats struct {
	ConnectDur   time.Duration
	SentChunks   int
	SentBytes    uint64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	Reconnects   int
	FinalizeWait time.Duration
	SessionDur   time.Duration
}

func (s streamStats) audioDuration() float64 {
	return float64(s.SentBytes) / float64(encoder.BytesPerSecond)
}

func newStreamSession(provider string, dial func() (rawStreamSession, error)) *streamSession {
	ss := &streamSession{
		provider:  provider,
		audioCh:   make(chan []byte, 128),
		updates:   make(chan Update, 64),
		startedAt: time.Now(),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		finalized: make(chan struct{}),
		connected: make(chan struct{}),
	}

	go func() {
		connectStart := time.Now()
		ws, err := dial()
		ss.mu.Lock()
		ss.stats.ConnectDur = time.Since(connectStart)
		ss.mu.Unlock()

		if err != nil {
			ss.setErr(err)
			close(ss.sendDone)
			close(ss.updates)
			close(ss.recvDone)
			close(ss.connected)
			return
		}

		ss.ws = ws
		close(ss.connected)
		go ss.runSender()
		go ss.runReceiver()
	}()

	return ss
}

func (s *streamSession) Feed(pcm []byte) {
	s.mu.Lock()
	failed := s.err != nil
	s.mu.Unlock()
	if failed {
		return
	}

	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.feedClosed {
		return
	}
	s.feedBuf = append(s.feedBuf, pcm...)
	for len(s.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, s.feedBuf[:streamChunkBytes])
		s.feedBuf = s.feedBuf[streamChunkBytes:]
		select {
		case s.audioCh <- chunk:
		default:
			// sender is stuck on the network; drop rather than stall capture
			log.Warn("stream audio queue full, dropping chunk")
		}
	}
}

func (s *streamSession) Updates() <-chan Update {
	return s.updates
}

func (s *streamSession) Close() (SessionResult, error) {
	<-s.connected

	s.mu.Lock()
	connErr := s.err
	s.mu.Unlock()
	if connErr != nil && s.ws == nil {
		s.feedMu.Lock()
		s.feedBuf = nil
		s.feedClosed = true
		s.feedMu.Unlock()
		return SessionResult{NoSpeech: true}, connErr
	}

	// flush the partial chunk
	s.feedMu.Lock()
	if len(s.feedBuf) > 0 {
		select {
		case s.audioCh <- s.feedBuf:
		default:
		}
		s.feedBuf = nil
	}
	s.feedClosed = true
	close(s.audioCh)
	s.feedMu.Unlock()
	finalizeStart := time.Now()

	<-s.sendDone

	// wait for the server to acknowledge the finalize, then a short quiet period
	select {
	case <-s.finalized:
		time.Sleep(streamFinalizeIdle)
	case <-s.recvDone:
	case <-time.After(streamFinalizeMax):
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.ws.Close()
	select {
	case <-s.recvDone:
	case <-time.After(streamDrainMax):
		log.Warn("stream receiver drain timeout")
	}

	s.mu.Lock()
	segments := append([]string(nil), s.segments...)
	stats := s.stats
	stats.FinalizeWait = time.Since(finalizeStart)
	stats.SessionDur = time.Since(s.startedAt)
	sessionErr := s.err
	s.mu.Unlock()

	text := strings.Join(segments, " ")
	sr := SessionResult{
		Text:     text,
		Segments: segments,
		NoSpeech: text == "",
		Metrics:  s.formatMetrics(stats),
		Stream: &StreamStats{
			ConnectMs:    float64(stats.ConnectDur.Milliseconds()),
			SentChunks:   stats.SentChunks,
			SentKB:       float64(stats.SentBytes) / 1024,
			RecvMessages: stats.RecvMessages,
			RecvFinal:    stats.RecvFinal,
			RecvInterim:  stats.RecvInterim,
			Reconnects:   stats.Reconnects,
			FinalizeMs:   float64(stats.FinalizeWait.Milliseconds()),
			TotalMs:      float64(stats.SessionDur.Milliseconds()),
			AudioS:       stats.audioDuration(),
		},
	}
	return sr, sessionErr
}

func (s *streamSession) runSender() {
	defer close(s.sendDone)
	for chunk := range s.audioCh {
		if err := s.ws.Send(chunk); err != nil {
			s.setErr(err)
			// keep draining so Close can finish
			for range s.audioCh {
			}
			return
		}
		s.mu.Lock()
		s.stats.SentChunks++
		s.stats.SentBytes += uint64(len(chunk))
		s.mu.Unlock()
	}
	if err := s.ws.CloseSend(); err != nil {
		s.setErr(err)
	}
}

func (s *streamSession) runReceiver() {
	defer close(s.recvDone)
	defer close(s.updates)
	for {
		update, err := s.ws.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				s.setErr(err)
			}
			return
		}

		if update.FromFinalize {
			s.finalizedOnce.Do(func() { close(s.finalized) })
		}

		isFinal := update.IsFinal || update.SpeechFinal || update.FromFinalize

		s.mu.Lock()
		s.stats.RecvMessages++
		if update.Reconnected {
			s.stats.Reconnects++
		}
		if isFinal {
			s.stats.RecvFinal++
		} else {
			s.stats.RecvInterim++
		}
		s.mu.Unlock()

		transcript := strings.TrimSpace(update.Transcript)

		if !isFinal {
			select {
			case s.updates <- Update{Text: transcript}:
			default:
			}
			continue
		}
		if transcript == "" {
			continue
		}

		s.mu.Lock()
		s.segments = append(s.segments, transcript)
		s.mu.Unlock()
		log.TranscriptSegment(transcript)

		s.updates <- Update{Text: transcript, Final: true}
	}
}

func (s *streamSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if s.ws != nil {
			s.ws.Close()
		}
	})
}

func (s *streamSession) formatMetrics(stats streamStats) []string {
	return []string{
		fmt.Sprintf("stream:     %s | PCM16 %dHz mono | %dms chunks", s.provider, encoder.SampleRate, streamChunkMs),
		fmt.Sprintf("audio:      %.1fs | %.1f KB sent in %d chunks", stats.audioDuration(), float64(stats.SentBytes)/1024, stats.SentChunks),
		fmt.Sprintf("connect:    %dms", stats.ConnectDur.Milliseconds()),
		fmt.Sprintf("recv:       %d msgs (%d final, %d interim)", stats.RecvMessages, stats.RecvFinal, stats.RecvInterim),
		fmt.Sprintf("reconnects: %d", stats.Reconnects),
		fmt.Sprintf("finalize:   %dms", stats.FinalizeWait.Milliseconds()),
		fmt.Sprintf("total:      %dms", stats.SessionDur.Milliseconds()),
	}
}
