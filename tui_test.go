package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ltkeeper/audio"
	"ltkeeper/config"
	"ltkeeper/summary"
	"ltkeeper/timer"
	"ltkeeper/transcriber"
)

type msgSink chan tea.Msg

func (s msgSink) send(msg tea.Msg) { s <- msg }

func (s msgSink) next(t *testing.T) tea.Msg {
	t.Helper()
	select {
	case msg := <-s:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

type fakeSound struct {
	warnings, bells int
}

func (f *fakeSound) Warning() { f.warnings++ }
func (f *fakeSound) Bell()    { f.bells++ }

type fakeSummarizer struct {
	partial string
	out     string
	err     error
	calls   int
	req     summary.Request
}

func (f *fakeSummarizer) Name() string { return "fake" }

func (f *fakeSummarizer) Summarize(_ context.Context, req summary.Request, onPartial func(string)) (string, error) {
	f.calls++
	f.req = req
	if f.partial != "" && onPartial != nil {
		onPartial(f.partial)
	}
	return f.out, f.err
}

func keys(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m tuiModel, msg tea.Msg) (tuiModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(tuiModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

// runCmd executes cmd and any batched commands, returning their messages.
// Only use it on commands that do not sleep.
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, runCmd(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func newTestModel(t *testing.T, o tuiOptions) (tuiModel, msgSink, *fakeSound) {
	t.Helper()
	sink := make(msgSink, 64)
	sound := &fakeSound{}
	if o.keeper == nil {
		o.keeper = timer.New(timer.DefaultLimit, timer.DefaultWarnBefore)
	}
	o.sound = sound
	o.send = sink.send
	return newTUIModel(o), sink, sound
}

func TestTickPlaysCues(t *testing.T) {
	m, _, sound := newTestModel(t, tuiOptions{keeper: timer.New(2*time.Second, time.Second)})

	m, cmd := update(t, m, keys("s"))
	if cmd == nil || !m.keeper.Running() {
		t.Fatal("start should run the timer and schedule a tick")
	}

	// A tick from an earlier run is ignored.
	m, _ = update(t, m, tickMsg{id: m.tickID - 1})
	if m.keeper.Elapsed() != 0 {
		t.Fatalf("stale tick advanced the timer to %d", m.keeper.Elapsed())
	}

	for i := 0; i < 3; i++ {
		m, _ = update(t, m, tickMsg{id: m.tickID})
	}
	if sound.warnings != 1 || sound.bells != 1 {
		t.Errorf("cues = %d warnings, %d bells; want 1, 1", sound.warnings, sound.bells)
	}
	if !m.keeper.Overtime() {
		t.Errorf("remaining = %d, want overtime", m.keeper.Remaining())
	}
	if !strings.Contains(m.View(), "-0:01") {
		t.Error("view should show the overtime clock")
	}

	for i := 0; i < 2; i++ {
		m, _ = update(t, m, tickMsg{id: m.tickID})
	}
	if sound.bells != 3 {
		t.Errorf("bells = %d, want one per overtime tick", sound.bells)
	}
}

func TestStartStopKeys(t *testing.T) {
	m, _, _ := newTestModel(t, tuiOptions{})

	m, _ = update(t, m, keys("s"))
	id := m.tickID
	m, cmd := update(t, m, keys("s"))
	if cmd != nil || m.tickID != id {
		t.Error("second start should be a no-op")
	}

	m, _ = update(t, m, keys("x"))
	if m.keeper.Running() {
		t.Fatal("stop did not stop the timer")
	}
	m, _ = update(t, m, tickMsg{id: id})
	if m.keeper.Elapsed() != 0 {
		t.Error("tick after stop advanced the timer")
	}
	if m.generating {
		t.Error("stop must not trigger a summary")
	}
}

func TestExtendKeys(t *testing.T) {
	m, _, _ := newTestModel(t, tuiOptions{})
	m, _ = update(t, m, keys("5"))
	m, _ = update(t, m, keys("1"))
	if got := timer.Format(m.keeper.Limit()); got != "11:00" {
		t.Errorf("limit = %s, want 11:00", got)
	}
}

func TestTalkTranscribes(t *testing.T) {
	pcm := make([]byte, 16000*2)
	capture, err := audio.NewFakeContextPCM(pcm).NewCapture(nil, audio.CaptureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	fake := transcriber.NewFake([]string{"こんにちは", "今日は Go の話です"}, nil)
	fake.Interval = time.Millisecond

	sink := make(msgSink, 64)
	m, _, _ := newTestModel(t, tuiOptions{})
	m.talk = newTalk(capture, fake, true, sink.send)

	m, _ = update(t, m, keys("s"))
	if m.status != "" {
		t.Fatalf("unexpected status %q", m.status)
	}

	for len(m.transcripts) < 2 {
		m, _ = update(t, m, sink.next(t))
	}
	if m.transcripts[0] != "こんにちは" || m.transcripts[1] != "今日は Go の話です" {
		t.Errorf("transcripts = %q", m.transcripts)
	}

	m, _ = update(t, m, keys("x"))
	for {
		msg := sink.next(t)
		m, _ = update(t, m, msg)
		if _, ok := msg.(sessionClosedMsg); ok {
			break
		}
	}
	if m.interim != "" {
		t.Errorf("interim %q left after stop", m.interim)
	}
	if fake.Sessions() != 1 {
		t.Errorf("sessions = %d, want 1", fake.Sessions())
	}
	if len(m.sttMetrics) == 0 || !strings.Contains(m.timerCard(), "fed:") {
		t.Errorf("session metrics %q not shown after stop", m.sttMetrics)
	}
	if data, err := m.talk.Audio(); err != nil || len(data) == 0 {
		t.Errorf("recorded audio = %d bytes, %v", len(data), err)
	}
}

func TestStartWithoutProviderKeepsTimer(t *testing.T) {
	capture, _ := audio.NewFakeContextPCM(nil).NewCapture(nil, audio.CaptureConfig{})
	m, sink, _ := newTestModel(t, tuiOptions{})
	m.talk = newTalk(capture, nil, false, sink.send)

	m, _ = update(t, m, keys("s"))
	if !m.keeper.Running() {
		t.Fatal("timer should run without a provider")
	}
	if !m.statusErr || !strings.Contains(m.status, "without speech recognition") {
		t.Errorf("status = %q", m.status)
	}
	m, _ = update(t, m, keys("x"))
}

func TestResetDropsLateResults(t *testing.T) {
	m, _, _ := newTestModel(t, tuiOptions{})
	m.name.SetValue("山田")
	m.title.SetValue("Go入門")
	m.transcripts = []string{"古い"}
	m.summary = "old"
	m.keeper.Extend(timer.ExtendLong)

	m, _ = update(t, m, keys("s"))
	gen := m.talkGen
	m, _ = update(t, m, keys("r"))

	m, _ = update(t, m, transcriptMsg{gen: gen, update: transcriber.Update{Text: "late", Final: true}})
	m, _ = update(t, m, summaryPartialMsg{gen: m.summaryGen - 1, text: "late"})

	if len(m.transcripts) != 0 || m.summary != "" {
		t.Errorf("reset left transcripts=%q summary=%q", m.transcripts, m.summary)
	}
	if m.name.Value() != "" || m.title.Value() != "" {
		t.Error("reset should clear name and title")
	}
	if m.keeper.Running() || m.keeper.Limit() != 300 || m.keeper.Elapsed() != 0 {
		t.Errorf("keeper after reset: running=%v limit=%d elapsed=%d",
			m.keeper.Running(), m.keeper.Limit(), m.keeper.Elapsed())
	}
}

func TestInterimNotStored(t *testing.T) {
	m, _, _ := newTestModel(t, tuiOptions{})
	m, _ = update(t, m, transcriptMsg{update: transcriber.Update{Text: "こん"}})
	if m.interim != "こん" || len(m.transcripts) != 0 {
		t.Fatalf("interim=%q transcripts=%q", m.interim, m.transcripts)
	}
	m, _ = update(t, m, transcriptMsg{update: transcriber.Update{Text: "こんにちは", Final: true}})
	if m.interim != "" || len(m.transcripts) != 1 {
		t.Errorf("after final: interim=%q transcripts=%q", m.interim, m.transcripts)
	}
}

func TestGenerateSummary(t *testing.T) {
	fs := &fakeSummarizer{partial: "途中", out: "完成した要約"}
	m, sink, _ := newTestModel(t, tuiOptions{summarizer: fs})
	m.name.SetValue("山田")
	m.title.SetValue("Go入門")
	m.transcripts = []string{"一つ目", "二つ\n目"}

	m, cmd := update(t, m, keys("g"))
	if !m.generating {
		t.Fatal("generate did not set generating")
	}
	if _, again := update(t, m, keys("g")); again != nil {
		t.Error("generate while generating should be ignored")
	}

	var done tea.Msg
	for _, msg := range runCmd(cmd) {
		if _, ok := msg.(summaryDoneMsg); ok {
			done = msg
		}
	}
	m, _ = update(t, m, sink.next(t))
	if want := "# タイトル: Go入門\n#スピーカー: 山田\n\n途中"; m.summary != want {
		t.Errorf("partial summary = %q, want %q", m.summary, want)
	}

	m, _ = update(t, m, done)
	if m.generating {
		t.Error("generating not cleared")
	}
	if want := summary.Format("Go入門", "山田", "完成した要約"); m.summary != want {
		t.Errorf("summary = %q, want %q", m.summary, want)
	}
	if got := fs.req.Query(); got != "一つ目 二つ 目" {
		t.Errorf("query = %q", got)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantSummary string
	}{
		{"upstream status keeps previous", &summary.StatusError{Backend: "dify", StatusCode: 502}, "previous"},
		{"failure shows error text", errors.New("boom"), summary.ErrorMessage},
		{"missing key shows error text", summary.ErrNoDifyKey, summary.ErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeSummarizer{err: tt.err}
			m, _, _ := newTestModel(t, tuiOptions{summarizer: fs})
			m.summary = "previous"

			m, cmd := update(t, m, keys("g"))
			for _, msg := range runCmd(cmd) {
				m, _ = update(t, m, msg)
			}
			if m.generating {
				t.Error("generating not cleared")
			}
			if m.summary != tt.wantSummary {
				t.Errorf("summary = %q, want %q", m.summary, tt.wantSummary)
			}
			if !m.statusErr {
				t.Error("error not shown on status line")
			}
		})
	}
}

func TestGenerateWithoutBackend(t *testing.T) {
	m, _, _ := newTestModel(t, tuiOptions{})
	m, cmd := update(t, m, keys("g"))
	if cmd != nil || m.generating || !m.statusErr {
		t.Errorf("generating=%v status=%q", m.generating, m.status)
	}
}

func TestColorInput(t *testing.T) {
	m, _, _ := newTestModel(t, tuiOptions{cardColor: "#ffeeaa"})

	m, _ = update(t, m, keys("p"))
	if m.focus != focusColor {
		t.Fatalf("focus = %d", m.focus)
	}
	m.color.SetValue("#112233")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.cardColor != "#112233" || m.focus != focusNone {
		t.Errorf("color = %q focus = %d", m.cardColor, m.focus)
	}

	m, _ = update(t, m, keys("p"))
	m.color.SetValue("red")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.cardColor != "#112233" || m.color.Value() != "#112233" {
		t.Errorf("invalid color applied: %q / %q", m.cardColor, m.color.Value())
	}
	if !m.statusErr {
		t.Error("invalid color should be reported")
	}
}

func TestTypingIntoFields(t *testing.T) {
	m, _, _ := newTestModel(t, tuiOptions{})
	m, _ = update(t, m, keys("n"))
	m, _ = update(t, m, keys("sato"))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = update(t, m, keys("LT"))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})

	if m.name.Value() != "sato" || m.title.Value() != "LT" {
		t.Errorf("name=%q title=%q", m.name.Value(), m.title.Value())
	}
	if m.keeper.Running() {
		t.Error("typing 's' into a field must not start the timer")
	}
	if !strings.Contains(m.View(), "要約: LT") {
		t.Error("summary card should carry the title")
	}
}

func TestHotkeyToggles(t *testing.T) {
	m, _, _ := newTestModel(t, tuiOptions{})
	m, _ = update(t, m, hotkeyToggleMsg{})
	if !m.keeper.Running() {
		t.Fatal("first toggle should start")
	}
	m, _ = update(t, m, hotkeyToggleMsg{})
	if m.keeper.Running() {
		t.Fatal("second toggle should stop")
	}
}

func TestConfigReload(t *testing.T) {
	m, _, _ := newTestModel(t, tuiOptions{})
	cfg := config.Default()
	cfg.UI.CardColor = "#abcdef"
	cfg.Timer.Limit = 3 * time.Minute

	m, _ = update(t, m, configReloadedMsg{cfg: cfg})
	if m.cardColor != "#abcdef" {
		t.Errorf("color = %q", m.cardColor)
	}
	if m.keeper.Limit() != 180 {
		t.Errorf("limit = %d, want 180", m.keeper.Limit())
	}

	m, _ = update(t, m, configReloadedMsg{err: errors.New("bad yaml")})
	if m.cardColor != "#abcdef" || !m.statusErr {
		t.Error("failed reload should keep the previous settings")
	}
}

func TestConfigReloadKeepsFlagOverrides(t *testing.T) {
	overrides := flagOverrides{color: "#ff0000", limit: 2 * time.Minute}
	start := config.Default()
	overrides.apply(start)
	m, _, _ := newTestModel(t, tuiOptions{
		keeper:    timer.New(start.Timer.Limit, start.Timer.WarnBefore),
		cardColor: start.UI.CardColor,
	})

	reloaded := config.Default()
	reloaded.Timer.BellOnce = true
	overrides.apply(reloaded)
	m, _ = update(t, m, configReloadedMsg{cfg: reloaded})
	if m.cardColor != "#ff0000" {
		t.Errorf("color = %q, flag value should survive a reload", m.cardColor)
	}
	if m.keeper.Limit() != 120 {
		t.Errorf("limit = %d, want 120 from the flag", m.keeper.Limit())
	}

	// bell_once came from the file and still applies.
	m.keeper.Start()
	for i := 0; i < 125; i++ {
		m.keeper.Tick()
	}
	if ev := m.keeper.Tick(); ev != timer.None {
		t.Errorf("tick after the first bell = %v, want none with bell_once", ev)
	}
}

func TestCopySummary(t *testing.T) {
	var copied string
	m, _, _ := newTestModel(t, tuiOptions{copyText: func(s string) error {
		copied = s
		return nil
	}})

	if _, cmd := update(t, m, keys("c")); cmd != nil {
		t.Error("nothing to copy without a summary")
	}

	m.summary = "要約"
	m, cmd := update(t, m, keys("c"))
	for _, msg := range runCmd(cmd) {
		m, _ = update(t, m, msg)
	}
	if copied != "要約" {
		t.Errorf("copied %q", copied)
	}
	if !strings.Contains(m.status, "copied") {
		t.Errorf("status = %q", m.status)
	}
}

func TestExportTalk(t *testing.T) {
	dir := t.TempDir()
	m, _, _ := newTestModel(t, tuiOptions{exportDir: dir})
	m.title.SetValue("Go入門")
	m.transcripts = []string{"こんにちは"}
	m.summaryBody = "まとめ"

	m, cmd := update(t, m, keys("e"))
	msgs := runCmd(cmd)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	done, ok := msgs[0].(exportDoneMsg)
	if !ok || done.err != nil {
		t.Fatalf("export = %+v", msgs[0])
	}
	md, err := os.ReadFile(done.paths.Markdown)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(md), "まとめ") || !strings.Contains(string(md), "こんにちは") {
		t.Errorf("markdown missing content:\n%s", md)
	}
	if _, err := os.Stat(done.paths.Docx); err != nil {
		t.Errorf("docx not written: %v", err)
	}

	m, _ = update(t, m, done)
	if m.statusErr || !strings.Contains(m.status, "exported") {
		t.Errorf("status = %q", m.status)
	}
}

func TestModeLine(t *testing.T) {
	if got := modeLineText(nil, nil); got != "[stt: none | summary: none]" {
		t.Errorf("got %q", got)
	}
	tr := transcriber.NewFake(nil, nil)
	tr.SetLanguage("ja")
	if got := modeLineText(tr, &fakeSummarizer{}); got != "[stt: fake (ja) | summary: fake]" {
		t.Errorf("got %q", got)
	}
}
