package summary

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Dify sends the raw transcript to a Dify chat app, which holds the
// summarization prompt itself, and reads the streamed answer.
type Dify struct {
	apiKey string
	apiURL string
	user   string
	client *http.Client
}

func NewDify(apiKey, apiURL, user string) *Dify {
	return &Dify{
		apiKey: apiKey,
		apiURL: apiURL,
		user:   user,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (d *Dify) Name() string { return "dify" }

type difyRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id"`
	User           string         `json:"user"`
}

type difyEvent struct {
	Event   string `json:"event"`
	Answer  string `json:"answer"`
	Message string `json:"message"`
}

func (d *Dify) Summarize(ctx context.Context, req Request, onPartial func(string)) (string, error) {
	if d.apiKey == "" {
		return "", ErrNoDifyKey
	}
	if d.apiURL == "" {
		return "", ErrNoDifyURL
	}

	body, err := json.Marshal(difyRequest{
		Inputs:       map[string]any{},
		Query:        req.Query(),
		ResponseMode: "streaming",
		User:         d.user,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("dify request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("dify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Backend: "dify", StatusCode: resp.StatusCode, Body: string(b)}
	}

	return readDifyStream(resp.Body, onPartial)
}

// readDifyStream accumulates the answer from "message" events of a
// server-sent event stream.
func readDifyStream(r io.Reader, onPartial func(string)) (string, error) {
	var result strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev difyEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return result.String(), fmt.Errorf("dify stream: %w", err)
		}
		switch ev.Event {
		case "message", "agent_message":
			result.WriteString(ev.Answer)
			if onPartial != nil {
				onPartial(result.String())
			}
		case "error":
			return result.String(), fmt.Errorf("dify stream error: %s", ev.Message)
		}
	}
	if err := sc.Err(); err != nil {
		return result.String(), fmt.Errorf("dify stream: %w", err)
	}
	return result.String(), nil
}
