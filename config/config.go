package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCardColor   = "#ffffff"
	DefaultLanguage    = "ja"
	DefaultDeepgram    = "nova-2"
	DefaultOpenAIURL   = "https://api.openai.com/v1"
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultMaxTokens   = 6000
	DefaultServerAddr  = ":8080"
	DefaultProxyURL    = "http://localhost:8080/api/summary"
	MaxGain            = 16
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type Config struct {
	Timer         TimerConfig         `yaml:"timer"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Summary       SummaryConfig       `yaml:"summary"`
	Server        ServerConfig        `yaml:"server"`
	UI            UIConfig            `yaml:"ui"`
	Export        ExportConfig        `yaml:"export"`
	Audio         AudioConfig         `yaml:"audio"`

	// Secrets come from the environment only.
	Keys Keys `yaml:"-"`
}

type TimerConfig struct {
	Limit      time.Duration `yaml:"limit"`
	WarnBefore time.Duration `yaml:"warn_before"`
	// BellOnce rings the end bell once instead of every overtime second.
	BellOnce bool `yaml:"bell_once"`
}

type TranscriptionConfig struct {
	// Provider is "deepgram", "google", "none" or empty for auto-detect.
	Provider      string `yaml:"provider"`
	Language      string `yaml:"language"`
	DeepgramModel string `yaml:"deepgram_model"`
}

type SummaryConfig struct {
	// Backend is "dify", "openai", "gemini", "proxy" or empty for auto-detect.
	Backend     string `yaml:"backend"`
	OpenAIURL   string `yaml:"openai_url"`
	OpenAIModel string `yaml:"openai_model"`
	GeminiModel string `yaml:"gemini_model"`
	MaxTokens   int    `yaml:"max_tokens"`
	ProxyURL    string `yaml:"proxy_url"`
	DifyUser    string `yaml:"dify_user"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Backend is the completion backend behind the proxy: "openai" or "gemini".
	Backend string `yaml:"backend"`
}

type UIConfig struct {
	CardColor string `yaml:"card_color"`
}

type AudioConfig struct {
	// Gain multiplies quiet microphones; 0 or 1 leaves the signal as is.
	Gain int `yaml:"gain"`
}

type ExportConfig struct {
	Dir         string `yaml:"dir"`
	RecordAudio bool   `yaml:"record_audio"`
}

func Default() *Config {
	c := &Config{}
	// Validate on a zero config only fills defaults.
	_ = c.Validate()
	return c
}

// DefaultPath returns $XDG_CONFIG_HOME/ltkeeper/config.yaml (or the OS
// equivalent).
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "ltkeeper", "config.yaml"), nil
}

// Load reads the YAML file at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	c := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	c.Keys = KeysFromEnv()
	return c, nil
}

func ValidColor(s string) bool {
	return hexColor.MatchString(s)
}

func (c *Config) Validate() error {
	if c.Timer.Limit < 0 {
		return fmt.Errorf("timer.limit must be positive")
	}
	if c.Timer.WarnBefore < 0 {
		return fmt.Errorf("timer.warn_before must be positive")
	}
	if c.Timer.Limit == 0 {
		c.Timer.Limit = 5 * time.Minute
	}
	if c.Timer.WarnBefore == 0 {
		c.Timer.WarnBefore = time.Minute
	}
	if c.Timer.Limit%time.Second != 0 || c.Timer.WarnBefore%time.Second != 0 {
		return fmt.Errorf("timer durations must be whole seconds")
	}

	if c.Audio.Gain < 0 || c.Audio.Gain > MaxGain {
		return fmt.Errorf("audio.gain must be between 0 and %d", MaxGain)
	}

	switch c.Transcription.Provider {
	case "", "deepgram", "google", "none":
	default:
		return fmt.Errorf("unknown transcription.provider %q", c.Transcription.Provider)
	}
	if c.Transcription.Language == "" {
		c.Transcription.Language = DefaultLanguage
	}
	if c.Transcription.DeepgramModel == "" {
		c.Transcription.DeepgramModel = DefaultDeepgram
	}

	switch c.Summary.Backend {
	case "", "dify", "openai", "gemini", "proxy":
	default:
		return fmt.Errorf("unknown summary.backend %q", c.Summary.Backend)
	}
	if c.Summary.OpenAIURL == "" {
		c.Summary.OpenAIURL = DefaultOpenAIURL
	}
	if c.Summary.OpenAIModel == "" {
		c.Summary.OpenAIModel = DefaultOpenAIModel
	}
	if c.Summary.GeminiModel == "" {
		c.Summary.GeminiModel = DefaultGeminiModel
	}
	if c.Summary.MaxTokens == 0 {
		c.Summary.MaxTokens = DefaultMaxTokens
	}
	if c.Summary.MaxTokens < 0 {
		return fmt.Errorf("summary.max_tokens must be positive")
	}
	if c.Summary.ProxyURL == "" {
		c.Summary.ProxyURL = DefaultProxyURL
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	switch c.Server.Backend {
	case "":
		c.Server.Backend = "openai"
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown server.backend %q", c.Server.Backend)
	}

	if c.UI.CardColor == "" {
		c.UI.CardColor = DefaultCardColor
	}
	if !ValidColor(c.UI.CardColor) {
		return fmt.Errorf("ui.card_color %q is not a #rrggbb color", c.UI.CardColor)
	}

	if c.Export.Dir == "" {
		c.Export.Dir = "."
	}
	return nil
}
