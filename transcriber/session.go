package transcriber

type SessionConfig struct {
	Language   string
	SampleRate int
	Channels   int
}

// Update is one recognition result. Interim updates carry the current
// hypothesis for the utterance in progress; a Final update carries one
// committed segment.
type Update struct {
	Text  string
	Final bool
}

type StreamStats struct {
	ConnectMs    float64
	SentChunks   int
	SentKB       float64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	Reconnects   int
	FinalizeMs   float64
	TotalMs      float64
	AudioS       float64
}

type SessionResult struct {
	Text     string   // committed segments joined by spaces
	Segments []string // committed segments in order
	NoSpeech bool
	Stream   *StreamStats
	Metrics  []string // pre-formatted lines for the TUI
}

// Session is one continuous recognition run. Feed may be called from the
// audio callback. Consumers must read Updates until it is closed; final
// segments are delivered with a blocking send, interims are dropped when
// the consumer lags.
type Session interface {
	Feed(pcm []byte)
	Updates() <-chan Update
	Close() (SessionResult, error)
}
