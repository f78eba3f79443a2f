// Package summary turns a talk transcript into a short written summary
// using a hosted model.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorMessage replaces the summary when generation fails.
const ErrorMessage = "要約の生成中にエラーが発生しました。"

const promptTemplate = "以下は「%s」というタイトルの発表の文字起こしです。発表は%s続きました。下記内容を1200文字以内で要約してください：\n\n%s"

var (
	ErrEmpty       = errors.New("empty completion")
	ErrNoDifyKey   = errors.New("Dify API key is not set")
	ErrNoDifyURL   = errors.New("Dify API URL is not set")
	ErrNoOpenAIKey = errors.New("OpenAI API key is not set")
	ErrNoGeminiKey = errors.New("Gemini API key is not set")
)

// StatusError is an upstream response outside 2xx.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if r := []rune(body); len(r) > 200 {
		body = string(r[:200]) + "..."
	}
	return fmt.Sprintf("%s API error %d: %s", e.Backend, e.StatusCode, body)
}

type Request struct {
	Title       string
	Speaker     string
	Transcripts []string
	Duration    time.Duration
}

// Query is the transcript as one line: segments joined by a space with
// newlines flattened.
func (r Request) Query() string {
	return strings.ReplaceAll(strings.Join(r.Transcripts, " "), "\n", " ")
}

func (r Request) Prompt() string {
	return BuildPrompt(r.Title, FormatDuration(r.Duration), r.Query())
}

func BuildPrompt(title, duration, transcript string) string {
	return fmt.Sprintf(promptTemplate, title, duration, transcript)
}

func Header(title, speaker string) string {
	return fmt.Sprintf("# タイトル: %s\n#スピーカー: %s\n\n", title, speaker)
}

// Format is the text shown in the summary card.
func Format(title, speaker, body string) string {
	return Header(title, speaker) + body
}

// FormatDuration renders whole seconds as "M分S秒", or "S秒" under a minute.
func FormatDuration(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	if secs < 60 {
		return fmt.Sprintf("%d秒", secs)
	}
	return fmt.Sprintf("%d分%d秒", secs/60, secs%60)
}

// Summarizer produces a summary body. onPartial, when non-nil, receives the
// accumulated text as it streams in.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, req Request, onPartial func(string)) (string, error)
}

// Completer runs a single prompt against a model.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// StreamCompleter is implemented by completers that can report partial
// output.
type StreamCompleter interface {
	Completer
	CompleteStream(ctx context.Context, prompt string, onPartial func(string)) (string, error)
}

type prompted struct {
	c Completer
}

// NewPrompted summarizes by sending Request.Prompt to c.
func NewPrompted(c Completer) Summarizer {
	return &prompted{c: c}
}

func (p *prompted) Name() string { return p.c.Name() }

func (p *prompted) Summarize(ctx context.Context, req Request, onPartial func(string)) (string, error) {
	var (
		out string
		err error
	)
	if sc, ok := p.c.(StreamCompleter); ok && onPartial != nil {
		out, err = sc.CompleteStream(ctx, req.Prompt(), onPartial)
	} else {
		out, err = p.c.Complete(ctx, req.Prompt())
		if err == nil && onPartial != nil {
			onPartial(out)
		}
	}
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmpty
	}
	return out, nil
}
