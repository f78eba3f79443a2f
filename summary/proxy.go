package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Proxy calls a running `ltkeeper serve` (or the original web API route),
// keeping model credentials off the presenter's machine.
type Proxy struct {
	url    string
	client *http.Client
}

func NewProxy(url string) *Proxy {
	return &Proxy{url: url, client: &http.Client{Timeout: 5 * time.Minute}}
}

func (p *Proxy) Name() string { return "proxy" }

// ProxyRequest is the body accepted by the summary endpoint.
type ProxyRequest struct {
	Title      string `json:"title"`
	Transcript string `json:"transcript"`
	Duration   string `json:"duration"`
}

type ProxyResponse struct {
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (p *Proxy) Summarize(ctx context.Context, req Request, onPartial func(string)) (string, error) {
	body, err := json.Marshal(ProxyRequest{
		Title:      req.Title,
		Transcript: req.Query(),
		Duration:   FormatDuration(req.Duration),
	})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("proxy request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("proxy request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("proxy response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Backend: "proxy", StatusCode: resp.StatusCode, Body: string(b)}
	}
	var pr ProxyResponse
	if err := json.Unmarshal(b, &pr); err != nil {
		return "", fmt.Errorf("proxy response parse error: %w", err)
	}
	if pr.Summary == "" {
		return "", ErrEmpty
	}
	if onPartial != nil {
		onPartial(pr.Summary)
	}
	return pr.Summary, nil
}
