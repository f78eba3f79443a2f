package summary

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

type Gemini struct {
	apiKey    string
	model     string
	maxTokens int

	once    sync.Once
	client  *genai.Client
	initErr error
}

func NewGemini(apiKey, model string, maxTokens int) *Gemini {
	return &Gemini{apiKey: apiKey, model: model, maxTokens: maxTokens}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) init(ctx context.Context) error {
	if g.apiKey == "" {
		return ErrNoGeminiKey
	}
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if g.initErr != nil {
			g.initErr = fmt.Errorf("create client: %w", g.initErr)
		}
	})
	return g.initErr
}

func (g *Gemini) config() *genai.GenerateContentConfig {
	if g.maxTokens <= 0 {
		return nil
	}
	return &genai.GenerateContentConfig{MaxOutputTokens: int32(g.maxTokens)}
}

func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	if err := g.init(ctx); err != nil {
		return "", err
	}
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.config())
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func (g *Gemini) CompleteStream(ctx context.Context, prompt string, onPartial func(string)) (string, error) {
	if err := g.init(ctx); err != nil {
		return "", err
	}
	var out strings.Builder
	for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), g.config()) {
		if err != nil {
			return out.String(), fmt.Errorf("gemini stream: %w", err)
		}
		if t := chunk.Text(); t != "" {
			out.WriteString(t)
			onPartial(out.String())
		}
	}
	return out.String(), nil
}
