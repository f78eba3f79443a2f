package summary

import "fmt"

type Options struct {
	Backend string

	DifyKey  string
	DifyURL  string
	DifyUser string

	OpenAIKey   string
	OpenAIURL   string
	OpenAIModel string

	GeminiKey   string
	GeminiModel string

	MaxTokens int
	ProxyURL  string
}

// New builds the summarizer for opts.Backend. Missing credentials surface
// when Summarize is called, the way the facilitator page reported them.
func New(opts Options) (Summarizer, error) {
	switch opts.Backend {
	case "dify":
		return NewDify(opts.DifyKey, opts.DifyURL, opts.DifyUser), nil
	case "proxy":
		return NewProxy(opts.ProxyURL), nil
	case "openai", "gemini":
		c, err := NewCompleter(opts)
		if err != nil {
			return nil, err
		}
		return NewPrompted(c), nil
	}
	return nil, fmt.Errorf("unknown summary backend %q", opts.Backend)
}

// NewCompleter builds a prompt completer for the openai or gemini backend.
func NewCompleter(opts Options) (Completer, error) {
	switch opts.Backend {
	case "openai":
		return NewOpenAI(opts.OpenAIKey, opts.OpenAIURL, opts.OpenAIModel, opts.MaxTokens), nil
	case "gemini":
		return NewGemini(opts.GeminiKey, opts.GeminiModel, opts.MaxTokens), nil
	}
	return nil, fmt.Errorf("backend %q cannot complete prompts", opts.Backend)
}
