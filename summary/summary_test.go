package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryFlattensNewlines(t *testing.T) {
	r := Request{Transcripts: []string{"一行目\n二行目", "三行目"}}
	assert.Equal(t, "一行目 二行目 三行目", r.Query())
	assert.Equal(t, "", Request{}.Query())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0秒"},
		{45 * time.Second, "45秒"},
		{60 * time.Second, "1分0秒"},
		{5*time.Minute + 7*time.Second, "5分7秒"},
		{-3 * time.Second, "0秒"},
		{1500 * time.Millisecond, "1秒"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in), tt.in.String())
	}
}

func TestPrompt(t *testing.T) {
	r := Request{Title: "Go入門", Transcripts: []string{"こんにちは"}, Duration: 125 * time.Second}
	want := "以下は「Go入門」というタイトルの発表の文字起こしです。発表は2分5秒続きました。下記内容を1200文字以内で要約してください：\n\nこんにちは"
	assert.Equal(t, want, r.Prompt())
}

func TestFormatHeader(t *testing.T) {
	got := Format("Go入門", "山田", "本文")
	assert.Equal(t, "# タイトル: Go入門\n#スピーカー: 山田\n\n本文", got)
}

func TestStatusErrorTruncates(t *testing.T) {
	err := &StatusError{Backend: "dify", StatusCode: 502, Body: strings.Repeat("x", 500)}
	msg := err.Error()
	assert.Contains(t, msg, "dify API error 502")
	assert.Less(t, len(msg), 260)
}

func difyServer(t *testing.T, handler func(w http.ResponseWriter, body difyRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer app-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body difyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDifyStreaming(t *testing.T) {
	var got difyRequest
	srv := difyServer(t, func(w http.ResponseWriter, body difyRequest) {
		got = body
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: ping\n\n")
		fmt.Fprint(w, `data: {"event":"message","answer":"Goの"}`+"\n\n")
		fmt.Fprint(w, `data: {"event":"workflow_started"}`+"\n\n")
		fmt.Fprint(w, `data: {"event":"message","answer":"発表でした。"}`+"\n\n")
		fmt.Fprint(w, `data: {"event":"message_end"}`+"\n\n")
	})

	d := NewDify("app-key", srv.URL, "lt-test")
	var partials []string
	out, err := d.Summarize(context.Background(), Request{
		Title:       "Go入門",
		Transcripts: []string{"a\nb", "c"},
	}, func(s string) { partials = append(partials, s) })

	require.NoError(t, err)
	assert.Equal(t, "Goの発表でした。", out)
	assert.Equal(t, []string{"Goの", "Goの発表でした。"}, partials)

	assert.Equal(t, "a b c", got.Query)
	assert.Equal(t, "streaming", got.ResponseMode)
	assert.Equal(t, "", got.ConversationID)
	assert.Equal(t, "lt-test", got.User)
	assert.NotNil(t, got.Inputs)
}

func TestDifyMissingConfig(t *testing.T) {
	_, err := NewDify("", "http://x", "u").Summarize(context.Background(), Request{}, nil)
	assert.EqualError(t, err, "Dify API key is not set")

	_, err = NewDify("k", "", "u").Summarize(context.Background(), Request{}, nil)
	assert.EqualError(t, err, "Dify API URL is not set")
}

func TestDifyNon2xx(t *testing.T) {
	srv := difyServer(t, func(w http.ResponseWriter, _ difyRequest) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":"too_many_requests"}`)
	})
	_, err := NewDify("app-key", srv.URL, "u").Summarize(context.Background(), Request{}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
}

func TestDifyMalformedEvent(t *testing.T) {
	srv := difyServer(t, func(w http.ResponseWriter, _ difyRequest) {
		fmt.Fprint(w, `data: {"event":"message","answer":"ok"}`+"\n")
		fmt.Fprint(w, "data: {not json\n")
	})
	out, err := NewDify("app-key", srv.URL, "u").Summarize(context.Background(), Request{}, nil)
	require.Error(t, err)
	assert.Equal(t, "ok", out)
}

func TestReadDifyStreamErrorEvent(t *testing.T) {
	in := `data: {"event":"error","message":"quota exceeded"}` + "\n"
	_, err := readDifyStream(strings.NewReader(in), nil)
	assert.ErrorContains(t, err, "quota exceeded")
}

func openAIServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAI("sk-test", srv.URL+"/v1/", "gpt-4o-mini", 6000)
}

func TestOpenAIComplete(t *testing.T) {
	o := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Equal(t, 6000, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "prompt", req.Messages[0].Content)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"  要約  "}}]}`)
	})
	out, err := o.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "  要約  ", out)
}

func TestOpenAIEmptyContent(t *testing.T) {
	o := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})
	_, err := o.Complete(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestOpenAIStream(t *testing.T) {
	o := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		fmt.Fprint(w, `data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"要"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"約"}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	var partials []string
	out, err := o.CompleteStream(context.Background(), "p", func(s string) { partials = append(partials, s) })
	require.NoError(t, err)
	assert.Equal(t, "要約", out)
	assert.Equal(t, []string{"要", "要約"}, partials)
}

func TestOpenAIMissingKey(t *testing.T) {
	_, err := NewOpenAI("", "http://x", "m", 1).Complete(context.Background(), "p")
	assert.ErrorIs(t, err, ErrNoOpenAIKey)
}

type stubCompleter struct {
	out    string
	err    error
	prompt string
}

func (s *stubCompleter) Name() string { return "stub" }

func (s *stubCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.out, s.err
}

func TestPromptedTrimsAndReportsPartial(t *testing.T) {
	c := &stubCompleter{out: "\n 要約です \n"}
	var partial string
	out, err := NewPrompted(c).Summarize(context.Background(), Request{
		Title: "T", Transcripts: []string{"x"}, Duration: 30 * time.Second,
	}, func(s string) { partial = s })
	require.NoError(t, err)
	assert.Equal(t, "要約です", out)
	assert.Equal(t, "\n 要約です \n", partial)
	assert.Contains(t, c.prompt, "発表は30秒続きました")
}

func TestPromptedEmpty(t *testing.T) {
	_, err := NewPrompted(&stubCompleter{out: "   "}).Summarize(context.Background(), Request{}, nil)
	assert.ErrorIs(t, err, ErrEmpty)

	boom := errors.New("boom")
	_, err = NewPrompted(&stubCompleter{err: boom}).Summarize(context.Background(), Request{}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var req ProxyRequest
		require.NoError(t, json.Unmarshal(b, &req))
		assert.Equal(t, "Go入門", req.Title)
		assert.Equal(t, "a b", req.Transcript)
		assert.Equal(t, "1分0秒", req.Duration)
		fmt.Fprint(w, `{"summary":"まとめ"}`)
	}))
	defer srv.Close()

	out, err := NewProxy(srv.URL).Summarize(context.Background(), Request{
		Title: "Go入門", Transcripts: []string{"a", "b"}, Duration: time.Minute,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "まとめ", out)
}

func TestProxyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"Failed to generate summary"}`)
	}))
	defer srv.Close()

	_, err := NewProxy(srv.URL).Summarize(context.Background(), Request{}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.StatusCode)
}

func TestNewBackends(t *testing.T) {
	for _, name := range []string{"dify", "openai", "gemini", "proxy"} {
		s, err := New(Options{Backend: name})
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name())
	}
	_, err := New(Options{Backend: "claude"})
	assert.Error(t, err)

	_, err = NewCompleter(Options{Backend: "dify"})
	assert.Error(t, err)
}

func TestGeminiMissingKey(t *testing.T) {
	_, err := NewGemini("", "gemini-2.5-flash", 0).Complete(context.Background(), "p")
	assert.ErrorIs(t, err, ErrNoGeminiKey)
}
