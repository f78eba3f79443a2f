// Package server is the stateless summary proxy behind `ltkeeper serve`.
// Each request makes exactly one upstream completion call.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"ltkeeper/log"
	"ltkeeper/summary"
)

const (
	failureMessage  = "Failed to generate summary"
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	e         *echo.Echo
	completer summary.Completer
	addr      string
}

func New(addr string, completer summary.Completer) *Server {
	s := &Server{e: echo.New(), completer: completer, addr: addr}
	s.e.HideBanner = true
	s.e.HidePort = true

	s.e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	s.e.Use(middleware.Recover())
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			l := log.Logger()
			l.Info().
				Str("id", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	s.e.Any("/api/summary", s.handleSummary)
	s.e.Any("/api/claude-summary", s.handleSummary)
	return s
}

func (s *Server) Handler() http.Handler { return s.e }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("summary proxy listening on %s (backend %s)", s.addr, s.completer.Name())
		if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down summary proxy")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// looseString accepts a JSON string or any other scalar, keeping the
// literal text of non-strings (the web client sent duration either way).
type looseString string

func (l *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*l = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = looseString(s)
		return nil
	}
	if len(b) > 0 && (b[0] == '{' || b[0] == '[') {
		return fmt.Errorf("duration must be a string or number")
	}
	*l = looseString(b)
	return nil
}

type summaryRequest struct {
	Title      string      `json:"title"`
	Transcript string      `json:"transcript"`
	Duration   looseString `json:"duration"`
}

func (s *Server) handleSummary(c echo.Context) error {
	method := c.Request().Method
	if method != http.MethodPost {
		c.Response().Header().Set("Allow", http.MethodPost)
		return c.String(http.StatusMethodNotAllowed, fmt.Sprintf("Method %s Not Allowed", method))
	}

	var req summaryRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		log.Errorf("summary request: invalid body: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": failureMessage})
	}

	prompt := summary.BuildPrompt(req.Title, string(req.Duration), req.Transcript)
	start := time.Now()
	out, err := s.completer.Complete(c.Request().Context(), prompt)
	if err != nil {
		log.Errorf("Error calling %s API: %v", s.completer.Name(), err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": failureMessage})
	}
	// Only a missing completion is a failure; whitespace trims to "".
	if out == "" {
		log.Errorf("Error calling %s API: invalid response format (empty content)", s.completer.Name())
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": failureMessage})
	}
	out = strings.TrimSpace(out)

	log.Summary(s.completer.Name(), req.Title, time.Since(start), out)
	return c.JSON(http.StatusOK, map[string]string{"summary": out})
}
