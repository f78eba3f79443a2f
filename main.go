package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"

	"ltkeeper/audio"
	"ltkeeper/beep"
	"ltkeeper/config"
	"ltkeeper/encoder"
	"ltkeeper/hotkey"
	"ltkeeper/log"
	"ltkeeper/server"
	"ltkeeper/shutdown"
	"ltkeeper/summary"
	"ltkeeper/timer"
	"ltkeeper/transcriber"
)

var version = "dev"

const hotkeyDebounce = 300 * time.Millisecond

// setupLogging resolves the log directory and sends crash output to
// crash_log.txt there.
func setupLogging(logPath string) {
	dir, err := log.ResolveDir(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(dir)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
		return
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}
}

func loadConfig(path string) (*config.Config, string) {
	config.LoadDotenv()
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: no config directory: %v\n", err)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg, path
}

func summaryOptions(cfg *config.Config, backend string) summary.Options {
	user := cfg.Summary.DifyUser
	if user == "" {
		user = "lt-" + uuid.NewString()
	}
	return summary.Options{
		Backend:     backend,
		DifyKey:     cfg.Keys.DifyKey,
		DifyURL:     cfg.Keys.DifyURL,
		DifyUser:    user,
		OpenAIKey:   cfg.Keys.OpenAI,
		OpenAIURL:   cfg.Summary.OpenAIURL,
		OpenAIModel: cfg.Summary.OpenAIModel,
		GeminiKey:   cfg.Keys.Gemini,
		GeminiModel: cfg.Summary.GeminiModel,
		MaxTokens:   cfg.Summary.MaxTokens,
		ProxyURL:    cfg.Summary.ProxyURL,
	}
}

// runServe is `ltkeeper serve`: the stateless summary proxy.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFlag := fs.String("config", "", "config file (default: user config dir)")
	addrFlag := fs.String("addr", "", "listen address (default from config, :8080)")
	backendFlag := fs.String("backend", "", "completion backend: openai or gemini")
	logPathFlag := fs.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.Parse(args)

	setupLogging(*logPathFlag)
	cfg, _ := loadConfig(*configFlag)
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}
	if *backendFlag != "" {
		cfg.Server.Backend = *backendFlag
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	log.SetConsole(os.Stderr)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	completer, err := summary.NewCompleter(summaryOptions(cfg, cfg.Server.Backend))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()
	if err := server.New(cfg.Server.Addr, completer).Run(ctx); err != nil {
		log.Errorf("server error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// flagOverrides holds the command-line values that win over config.yaml,
// both at startup and on every reload.
type flagOverrides struct {
	limit       time.Duration
	lang        string
	provider    string
	summarizer  string
	color       string
	exportDir   string
	recordAudio bool
}

func (o flagOverrides) apply(cfg *config.Config) {
	if o.limit != 0 {
		cfg.Timer.Limit = o.limit
	}
	if o.lang != "" {
		cfg.Transcription.Language = o.lang
	}
	if o.provider != "" {
		cfg.Transcription.Provider = o.provider
	}
	if o.summarizer != "" {
		cfg.Summary.Backend = o.summarizer
	}
	if o.color != "" {
		cfg.UI.CardColor = o.color
	}
	if o.exportDir != "" {
		cfg.Export.Dir = o.exportDir
	}
	if o.recordAudio {
		cfg.Export.RecordAudio = true
	}
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

func modeLineText(t transcriber.Transcriber, s summary.Summarizer) string {
	provider := "none"
	if t != nil {
		provider = t.Name()
		if lang := t.GetLanguage(); lang != "" {
			provider += " (" + lang + ")"
		}
	}
	backend := "none"
	if s != nil {
		backend = s.Name()
	}
	return fmt.Sprintf("[stt: %s | summary: %s]", provider, backend)
}

func run() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		os.Exit(runServe(os.Args[2:]))
	}

	configFlag := flag.String("config", "", "config file (default: user config dir)")
	limitFlag := flag.Duration("limit", 0, "talk time limit, e.g. 5m (overrides config)")
	langFlag := flag.String("lang", "", "recognition language code, e.g. ja or en (overrides config)")
	providerFlag := flag.String("provider", "", "speech-to-text provider: deepgram, google or none")
	summarizerFlag := flag.String("summarizer", "", "summary backend: dify, openai, gemini or proxy")
	colorFlag := flag.String("color", "", "card color as #rrggbb (overrides config)")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use the first microphone whose name contains this")
	hotkeyFlag := flag.Bool("hotkey", false, "Toggle the timer with "+hotkey.Combo+" from any window")
	recordFlag := flag.Bool("record", false, "Keep the talk audio and export it as FLAC")
	exportDirFlag := flag.String("export-dir", "", "directory for exported talks (overrides config)")
	fakeAudioFlag := flag.String("fake-audio", "", "replay a 16kHz mono WAV file instead of the microphone")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("ltkeeper %s\n", version)
		os.Exit(0)
	}

	setupLogging(*logPathFlag)
	cfg, cfgPath := loadConfig(*configFlag)

	overrides := flagOverrides{
		limit:       *limitFlag,
		lang:        *langFlag,
		provider:    *providerFlag,
		summarizer:  *summarizerFlag,
		color:       *colorFlag,
		exportDir:   *exportDirFlag,
		recordAudio: *recordFlag,
	}
	overrides.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	activeTranscriber, err := transcriber.New(transcriber.Options{
		Provider:      cfg.TranscriptionProvider(),
		Language:      cfg.Transcription.Language,
		DeepgramKey:   cfg.Keys.Deepgram,
		DeepgramModel: cfg.Transcription.DeepgramModel,
	})
	if err != nil {
		if !errors.Is(err, transcriber.ErrNoProvider) {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		log.Warnf("transcriber: %v", err)
		activeTranscriber = nil
	}

	summarizer, err := summary.New(summaryOptions(cfg, cfg.SummaryBackend()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		log.Warnf("summarizer: %v", err)
		summarizer = nil
	}
	modeLine := modeLineText(activeTranscriber, summarizer)
	log.Info("mode: " + modeLine)

	var actx audio.Context
	if *fakeAudioFlag != "" {
		beep.Disable()
		actx, err = audio.NewFakeContext(*fakeAudioFlag, true)
	} else {
		actx, err = audio.NewContext()
	}
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer actx.Close()

	selectedDevice, err := audio.SelectDevice(actx, *deviceFlag, *setupFlag)
	if err != nil {
		if errors.Is(err, audio.ErrCancelled) {
			os.Exit(0)
		}
		log.Warnf("device selection failed: %v", err)
		fmt.Printf("Warning: device selection failed: %v\n", err)
		fmt.Println("Falling back to default device")
		selectedDevice = nil
	}

	captureDevice, err := actx.NewCapture(selectedDevice, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
		Gain:       cfg.Audio.Gain,
	})
	if err != nil {
		log.Errorf("capture device init error: %v", err)
		fmt.Printf("Error initializing capture device: %v\n", err)
		os.Exit(1)
	}
	defer captureDevice.Close()

	go beep.Init()

	providerName := "none"
	if activeTranscriber != nil {
		providerName = activeTranscriber.Name()
	}
	backendName := "none"
	if summarizer != nil {
		backendName = summarizer.Name()
	}
	log.SessionStart(providerName, backendName)

	keeper := timer.New(cfg.Timer.Limit, cfg.Timer.WarnBefore)
	keeper.SetBellOnce(cfg.Timer.BellOnce)
	m := newTUIModel(tuiOptions{
		keeper:     keeper,
		talk:       newTalk(captureDevice, activeTranscriber, cfg.Export.RecordAudio, tuiSend),
		summarizer: summarizer,
		copyText:   clipboard.WriteAll,
		exportDir:  cfg.Export.Dir,
		cardColor:  cfg.UI.CardColor,
		modeLine:   modeLine,
		deviceLine: deviceLineText(selectedDevice),
		hotkey:     *hotkeyFlag,
	})
	tuiMu.Lock()
	tuiProgram = NewTUIProgram(m)
	tuiMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfgPath != "" {
		err := config.Watch(ctx, cfgPath, func(c *config.Config, err error) {
			if c != nil {
				overrides.apply(c)
			}
			tuiSend(configReloadedMsg{cfg: c, err: err})
		})
		if err != nil {
			log.Warnf("config watch: %v", err)
		}
	}

	if *hotkeyFlag {
		hk := hotkey.New()
		if err := hk.Register(); err != nil {
			log.Errorf("hotkey register error: %v", err)
			fmt.Printf("Warning: hotkey unavailable: %v\n", err)
		} else {
			defer hk.Unregister()
			toggle := hotkey.NewToggle(hk, hotkeyDebounce)
			defer toggle.Close()
			go func() {
				for {
					select {
					case <-toggle.C():
						log.Info("hotkey_toggle")
						tuiSend(hotkeyToggleMsg{})
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		select {
		case <-sigChan:
			tuiProgram.Quit()
		case <-ctx.Done():
		}
	}()

	final, err := tuiProgram.Run()
	if err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	if fm, ok := final.(tuiModel); ok {
		log.SessionEnd(len(fm.transcripts))
	}
}
