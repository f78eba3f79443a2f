package config

import (
	"os"

	"github.com/joho/godotenv"
)

type Keys struct {
	Deepgram          string
	GoogleCredentials string
	DifyKey           string
	DifyURL           string
	OpenAI            string
	Gemini            string
}

// LoadDotenv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotenv(files ...string) {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// KeysFromEnv reads provider credentials. The NEXT_PUBLIC_* names are the
// ones used by the web version of this tool and are accepted as fallbacks.
func KeysFromEnv() Keys {
	return Keys{
		Deepgram:          os.Getenv("DEEPGRAM_API_KEY"),
		GoogleCredentials: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		DifyKey:           firstEnv("DIFY_API_KEY", "NEXT_PUBLIC_DIFY_API_KEY"),
		DifyURL:           firstEnv("DIFY_API_URL", "NEXT_PUBLIC_DIFY_API_URL"),
		OpenAI:            firstEnv("OPENAI_API_KEY", "NEXT_PUBLIC_API_KEY"),
		Gemini:            firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// TranscriptionProvider resolves an empty provider to the first one with
// credentials, or "none".
func (c *Config) TranscriptionProvider() string {
	if p := c.Transcription.Provider; p != "" {
		return p
	}
	switch {
	case c.Keys.Deepgram != "":
		return "deepgram"
	case c.Keys.GoogleCredentials != "":
		return "google"
	}
	return "none"
}

// SummaryBackend resolves an empty backend the same way. Dify comes first
// because it is what the facilitator page called directly.
func (c *Config) SummaryBackend() string {
	if b := c.Summary.Backend; b != "" {
		return b
	}
	switch {
	case c.Keys.DifyKey != "" || c.Keys.DifyURL != "":
		return "dify"
	case c.Keys.OpenAI != "":
		return "openai"
	case c.Keys.Gemini != "":
		return "gemini"
	}
	return "proxy"
}
