package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	diagFileName       = "diagnostics_log.txt"
	transcriptFileName = "transcript_log.txt"
	summaryFileName    = "summary_log.txt"
)

var (
	diagLog        zerolog.Logger
	diagWriter     *lumberjack.Logger
	transcriptFile *os.File
	summaryFile    *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
	console        io.Writer
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absFromWd(flagPath)
	}

	// Priority 2: LTKEEPER_LOG_PATH environment variable
	if envPath := os.Getenv("LTKEEPER_LOG_PATH"); envPath != "" {
		return absFromWd(envPath)
	}

	return getDefaultDir()
}

func absFromWd(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetConsole mirrors diagnostics to w (server mode). Must be called before Init.
func SetConsole(w io.Writer) {
	console = w
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	transcriptFile, err = openAppend(transcriptFileName)
	if err != nil {
		return err
	}
	summaryFile, err = openAppend(summaryFileName)
	if err != nil {
		transcriptFile.Close()
		return err
	}

	diagWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, diagFileName),
		MaxSize:    5, // MB
		MaxBackups: 3,
		MaxAge:     30,
	}

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        diagWriter,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	if console != nil {
		out = zerolog.MultiLevelWriter(out, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: "15:04:05",
		})
	}
	diagLog = zerolog.New(out).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func openAppend(name string) (*os.File, error) {
	return os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagWriter != nil {
		diagWriter.Close()
		diagWriter = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	if summaryFile != nil {
		summaryFile.Close()
		summaryFile = nil
	}
	logReady = false
}

// Logger exposes the diagnostics logger for libraries that want a
// zerolog.Logger (echo request logging). Returns a disabled logger before Init.
func Logger() zerolog.Logger {
	if !logReady {
		return zerolog.Nop()
	}
	return diagLog
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(provider, summarizer string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("provider", provider).
		Str("summarizer", summarizer).
		Msg("session_start")
}

func SessionEnd(segments int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("segments", segments).
		Msg("session_end")
}

func TalkStart(title, speaker string, limit time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("title", title).
		Str("speaker", speaker).
		Dur("limit", limit).
		Msg("talk_start")
}

func TalkStop(elapsed, limit time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Dur("elapsed", elapsed).
		Dur("limit", limit).
		Bool("overtime", elapsed > limit).
		Msg("talk_stop")
}

type StreamMetricsData struct {
	Provider     string
	ConnectMs    float64
	FinalizeMs   float64
	TotalMs      float64
	AudioS       float64
	SentChunks   int
	SentKB       float64
	RecvMessages int
	RecvFinal    int
	Segments     int
}

func StreamMetrics(m StreamMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("provider", m.Provider).
		Float64("connect_ms", m.ConnectMs).
		Float64("finalize_ms", m.FinalizeMs).
		Float64("total_ms", m.TotalMs).
		Float64("audio_s", m.AudioS).
		Int("sent_chunks", m.SentChunks).
		Float64("sent_kb", m.SentKB).
		Int("recv_messages", m.RecvMessages).
		Int("recv_final", m.RecvFinal).
		Int("segments", m.Segments).
		Msg("stream_transcription")
}

func TranscriptSegment(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcriptFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcriptFile.WriteString(line)
}

func Summary(backend, title string, took time.Duration, text string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("backend", backend).
		Int("chars", len([]rune(text))).
		Dur("took", took).
		Msg("summary")

	logMu.Lock()
	defer logMu.Unlock()
	if summaryFile == nil {
		return
	}
	fmt.Fprintf(summaryFile, "=== %s [%d] %s (%s) ===\n%s\n\n",
		time.Now().Format("2006-01-02 15:04:05"), pid, title, backend, text)
}
