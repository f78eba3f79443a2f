package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	out     string
	err     error
	calls   int
	prompts []string
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.out, f.err
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSummaryOK(t *testing.T) {
	fc := &fakeCompleter{out: "\n  要約本文  \n"}
	s := New(":0", fc)

	rec := do(t, s, http.MethodPost, "/api/summary",
		`{"title":"Go入門","transcript":"こんにちは","duration":"5分0秒"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":"要約本文"}`, rec.Body.String())
	require.Equal(t, 1, fc.calls)
	assert.Equal(t,
		"以下は「Go入門」というタイトルの発表の文字起こしです。発表は5分0秒続きました。下記内容を1200文字以内で要約してください：\n\nこんにちは",
		fc.prompts[0])
}

func TestSummaryNumericDuration(t *testing.T) {
	fc := &fakeCompleter{out: "ok"}
	s := New(":0", fc)

	rec := do(t, s, http.MethodPost, "/api/claude-summary",
		`{"title":"T","transcript":"x","duration":300}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, fc.prompts[0], "発表は300続きました")
}

func TestSummaryUpstreamFailure(t *testing.T) {
	tests := []struct {
		name string
		fc   *fakeCompleter
	}{
		{"error", &fakeCompleter{err: errors.New("upstream 502")}},
		{"empty", &fakeCompleter{out: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, New(":0", tt.fc), http.MethodPost, "/api/summary",
				`{"title":"T","transcript":"x","duration":"1分"}`)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, `{"error":"Failed to generate summary"}`, rec.Body.String())
			assert.Equal(t, 1, tt.fc.calls, "exactly one upstream call, no retry")
		})
	}
}

func TestSummaryWhitespaceCompletion(t *testing.T) {
	fc := &fakeCompleter{out: " \n\t "}
	rec := do(t, New(":0", fc), http.MethodPost, "/api/summary",
		`{"title":"T","transcript":"x","duration":"1分"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":""}`, rec.Body.String())
}

func TestSummaryMalformedBody(t *testing.T) {
	fc := &fakeCompleter{out: "ok"}
	rec := do(t, New(":0", fc), http.MethodPost, "/api/summary", `{"title":`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to generate summary"}`, rec.Body.String())
	assert.Equal(t, 0, fc.calls)

	rec = do(t, New(":0", fc), http.MethodPost, "/api/summary", `{"duration":{"m":1}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec := do(t, New(":0", &fakeCompleter{}), m, "/api/summary", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, m)
		assert.Equal(t, "POST", rec.Header().Get("Allow"))
		assert.Equal(t, "Method "+m+" Not Allowed", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	rec := do(t, New(":0", &fakeCompleter{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestLooseString(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{`"3分"`, "3分", false},
		{`180`, "180", false},
		{`1.5`, "1.5", false},
		{`null`, "", false},
		{`true`, "true", false},
		{`[1]`, "", true},
	}
	for _, tt := range tests {
		var l looseString
		err := l.UnmarshalJSON([]byte(tt.in))
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, string(l))
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := New(addr, &fakeCompleter{out: "ok"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
