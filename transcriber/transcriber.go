package transcriber

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoProvider = errors.New("no speech-to-text provider configured")

type Transcriber interface {
	Name() string
	SetLanguage(lang string)
	GetLanguage() string
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

type baseTranscriber struct {
	lang string
}

func (b *baseTranscriber) SetLanguage(lang string) { b.lang = lang }

func (b *baseTranscriber) GetLanguage() string { return b.lang }

type Options struct {
	Provider      string // "deepgram", "google" or "none"
	Language      string
	DeepgramKey   string
	DeepgramModel string
}

// New builds the transcriber for opts.Provider. "none" (or empty) returns
// ErrNoProvider so callers can run the timer without recognition.
func New(opts Options) (Transcriber, error) {
	var t Transcriber
	switch opts.Provider {
	case "deepgram":
		if opts.DeepgramKey == "" {
			return nil, fmt.Errorf("deepgram: DEEPGRAM_API_KEY is not set")
		}
		t = NewDeepgram(opts.DeepgramKey, opts.DeepgramModel)
	case "google":
		t = NewGoogle()
	case "", "none":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", opts.Provider)
	}
	t.SetLanguage(opts.Language)
	return t, nil
}
