package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"ltkeeper/config"
	"ltkeeper/export"
	"ltkeeper/hotkey"
	"ltkeeper/log"
	"ltkeeper/summary"
	"ltkeeper/timer"
	"ltkeeper/transcriber"
)

// TUI message types
type tickMsg struct{ id int }
type meterMsg struct{ id int }
type hotkeyToggleMsg struct{}
type statusMsg struct {
	text string
	err  bool
}
type configReloadedMsg struct {
	cfg *config.Config
	err error
}
type summaryPartialMsg struct {
	gen  int
	text string
}
type summaryDoneMsg struct {
	gen  int
	text string
	err  error
	took time.Duration
}
type exportDoneMsg struct {
	paths export.Paths
	err   error
}

type focusField int

const (
	focusNone focusField = iota
	focusName
	focusTitle
	focusColor
)

const (
	meterInterval   = 100 * time.Millisecond
	transcriptLines = 8
)

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

type tuiOptions struct {
	keeper     *timer.Keeper
	talk       *talk
	summarizer summary.Summarizer // nil when no backend could be built
	sound      soundPlayer
	send       func(tea.Msg)
	copyText   func(string) error
	exportDir  string
	cardColor  string
	modeLine   string
	deviceLine string
	hotkey     bool
}

type tuiModel struct {
	keeper     *timer.Keeper
	talk       *talk
	summarizer summary.Summarizer
	sound      soundPlayer
	send       func(tea.Msg)
	copyText   func(string) error
	exportDir  string

	name, title, color textinput.Model
	focus              focusField
	cardColor          string

	tickID  int
	talkGen int

	transcripts []string
	interim     string
	transcript  viewport.Model

	summary       string // as shown: header plus body
	summaryBody   string
	rendered      string
	generating    bool
	summaryGen    int
	cancelSummary context.CancelFunc
	spinner       spinner.Model
	renderer      *glamour.TermRenderer

	level      float64
	silence    *silenceMonitor
	noVoice    bool
	sttMetrics []string // last recognition session, shown while stopped
	modeLine   string
	deviceLine string
	hotkey     bool
	status     string
	statusErr  bool

	width, height int
}

func newInput(placeholder string, limit int) textinput.Model {
	ti := textinput.New()
	ti.Prompt = ""
	ti.Placeholder = placeholder
	ti.CharLimit = limit
	return ti
}

func newTUIModel(o tuiOptions) tuiModel {
	if o.cardColor == "" || !config.ValidColor(o.cardColor) {
		o.cardColor = config.DefaultCardColor
	}
	if o.sound == nil {
		o.sound = beepPlayer{}
	}
	if o.send == nil {
		o.send = tuiSend
	}
	m := tuiModel{
		keeper:     o.keeper,
		talk:       o.talk,
		summarizer: o.summarizer,
		sound:      o.sound,
		send:       o.send,
		copyText:   o.copyText,
		exportDir:  o.exportDir,
		name:       newInput("発表者名", 64),
		title:      newInput("発表タイトル", 120),
		color:      newInput(config.DefaultCardColor, 7),
		cardColor:  o.cardColor,
		transcript: viewport.New(76, transcriptLines),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		silence:    newSilenceMonitor(meterInterval),
		modeLine:   o.modeLine,
		deviceLine: o.deviceLine,
		hotkey:     o.hotkey,
	}
	m.color.SetValue(o.cardColor)
	m.renderer = newRenderer(76)
	m.refreshTranscript()
	return m
}

func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		log.Warnf("markdown renderer: %v", err)
		return nil
	}
	return r
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func timerTick(id int) tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{id: id}
	})
}

func meterTick(id int) tea.Cmd {
	return tea.Tick(meterInterval, func(time.Time) tea.Msg {
		return meterMsg{id: id}
	})
}

func (m tuiModel) Init() tea.Cmd {
	return nil
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w := m.cardWidth() - 4
		m.transcript.Width = w
		m.renderer = newRenderer(w)
		m.refreshTranscript()
		m.renderSummary()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		if msg.id != m.tickID || !m.keeper.Running() {
			return m, nil
		}
		switch m.keeper.Tick() {
		case timer.Warn:
			log.Info("cue_warning")
			m.sound.Warning()
		case timer.Bell:
			log.Info("cue_bell")
			m.sound.Bell()
		}
		return m, timerTick(m.tickID)

	case meterMsg:
		if msg.id != m.tickID || !m.keeper.Running() {
			m.level = 0
			return m, nil
		}
		if m.talk != nil {
			m.level = m.talk.Level()
		}
		switch m.silence.Tick(m.level) {
		case silenceWarn:
			log.Warn("no_voice_detected")
			m.noVoice = true
		case silenceClear:
			m.noVoice = false
		}
		return m, meterTick(m.tickID)

	case hotkeyToggleMsg:
		if m.keeper.Running() {
			return m.stop(), nil
		}
		return m.start()

	case transcriptMsg:
		if msg.gen != m.talkGen {
			return m, nil
		}
		if msg.update.Final {
			if text := strings.TrimSpace(msg.update.Text); text != "" {
				m.transcripts = append(m.transcripts, text)
			}
			m.interim = ""
		} else {
			m.interim = msg.update.Text
		}
		m.refreshTranscript()

	case sessionClosedMsg:
		if msg.gen != m.talkGen {
			return m, nil
		}
		if !m.keeper.Running() {
			m.interim = ""
			m.refreshTranscript()
		}
		m.sttMetrics = msg.result.Metrics
		for _, line := range m.sttMetrics {
			log.Info("stt_metrics: " + line)
		}
		if msg.err != nil {
			log.Errorf("transcription error: %v", msg.err)
			m.setStatus(fmt.Sprintf("transcription: %v", msg.err), true)
		}

	case summaryPartialMsg:
		if msg.gen != m.summaryGen || !m.generating {
			return m, nil
		}
		m.summaryBody = msg.text
		m.summary = summary.Format(m.title.Value(), m.name.Value(), msg.text)
		m.renderSummary()

	case summaryDoneMsg:
		if msg.gen != m.summaryGen {
			return m, nil
		}
		return m.finishSummary(msg), nil

	case spinner.TickMsg:
		if !m.generating {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case exportDoneMsg:
		if msg.err != nil {
			log.Errorf("export error: %v", msg.err)
			m.setStatus(fmt.Sprintf("export failed: %v", msg.err), true)
			return m, nil
		}
		log.Info("export: " + msg.paths.Markdown)
		text := "exported " + msg.paths.Markdown
		if msg.paths.Audio != "" {
			text += " (+ audio)"
		}
		m.setStatus(text, false)

	case statusMsg:
		m.setStatus(msg.text, msg.err)

	case configReloadedMsg:
		if msg.err != nil {
			log.Warnf("config reload: %v", msg.err)
			m.setStatus(fmt.Sprintf("config not reloaded: %v", msg.err), true)
			return m, nil
		}
		m.cardColor = msg.cfg.UI.CardColor
		if m.focus != focusColor {
			m.color.SetValue(m.cardColor)
		}
		m.keeper.SetDefaultLimit(msg.cfg.Timer.Limit)
		m.keeper.SetBellOnce(msg.cfg.Timer.BellOnce)
		log.Info("config_reloaded")
		m.setStatus("config reloaded", false)
	}
	return m, nil
}

func (m *tuiModel) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m.quit()
	}

	if m.focus != focusNone {
		switch key {
		case "tab":
			return m.setFocus(m.focus%focusColor + 1)
		case "esc":
			if m.focus == focusColor {
				m.color.SetValue(m.cardColor)
			}
			return m.setFocus(focusNone)
		case "enter":
			if m.focus == focusColor {
				m.applyColor()
			}
			return m.setFocus(focusNone)
		}
		var cmd tea.Cmd
		switch m.focus {
		case focusName:
			m.name, cmd = m.name.Update(msg)
		case focusTitle:
			m.title, cmd = m.title.Update(msg)
		case focusColor:
			m.color, cmd = m.color.Update(msg)
		}
		return m, cmd
	}

	switch key {
	case "q":
		return m.quit()
	case "tab", "n":
		return m.setFocus(focusName)
	case "t":
		return m.setFocus(focusTitle)
	case "p":
		return m.setFocus(focusColor)
	case "s":
		return m.start()
	case "x":
		return m.stop(), nil
	case "5":
		m.keeper.Extend(timer.ExtendLong)
		log.Infof("extend: limit=%s", timer.Format(m.keeper.Limit()))
	case "1":
		m.keeper.Extend(timer.ExtendShort)
		log.Infof("extend: limit=%s", timer.Format(m.keeper.Limit()))
	case "r":
		return m.reset(), nil
	case "g":
		return m.generate()
	case "c":
		return m, m.copySummary()
	case "e":
		return m, m.export()
	default:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m tuiModel) setFocus(f focusField) (tea.Model, tea.Cmd) {
	m.name.Blur()
	m.title.Blur()
	m.color.Blur()
	m.focus = f
	var cmd tea.Cmd
	switch f {
	case focusName:
		cmd = m.name.Focus()
	case focusTitle:
		cmd = m.title.Focus()
	case focusColor:
		cmd = m.color.Focus()
	}
	return m, cmd
}

// applyColor takes the color input if it is a #rrggbb value and restores
// the current color otherwise.
func (m *tuiModel) applyColor() {
	v := strings.TrimSpace(m.color.Value())
	if !config.ValidColor(v) {
		m.setStatus(fmt.Sprintf("invalid color %q (want #rrggbb)", v), true)
		m.color.SetValue(m.cardColor)
		return
	}
	m.cardColor = v
	m.color.SetValue(v)
}

func (m tuiModel) start() (tea.Model, tea.Cmd) {
	if !m.keeper.Start() {
		return m, nil
	}
	m.tickID++
	m.silence.Reset()
	m.noVoice = false
	m.sttMetrics = nil
	log.TalkStart(m.title.Value(), m.name.Value(), m.keeper.LimitDuration())
	m.setStatus("", false)
	if m.talk != nil {
		if err := m.talk.Start(m.talkGen); err != nil {
			if errors.Is(err, transcriber.ErrNoProvider) {
				m.setStatus("timer running without speech recognition (no provider configured)", true)
			} else {
				m.setStatus(fmt.Sprintf("recognition: %v", err), true)
			}
		}
	}
	return m, tea.Batch(timerTick(m.tickID), meterTick(m.tickID))
}

func (m tuiModel) stop() tuiModel {
	if !m.keeper.Stop() {
		return m
	}
	m.tickID++
	m.level = 0
	m.noVoice = false
	if m.talk != nil {
		m.talk.Stop()
	}
	log.TalkStop(m.keeper.ElapsedDuration(), m.keeper.LimitDuration())
	return m
}

// reset clears everything for the next speaker. Results still in flight
// from the previous talk carry an older generation and are dropped.
func (m tuiModel) reset() tuiModel {
	m = m.stop()
	m.keeper.Reset()
	m.talkGen++
	m.summaryGen++
	if m.cancelSummary != nil {
		m.cancelSummary()
		m.cancelSummary = nil
	}
	m.generating = false
	m.transcripts = nil
	m.interim = ""
	m.sttMetrics = nil
	m.summary = ""
	m.summaryBody = ""
	m.rendered = ""
	m.name.SetValue("")
	m.title.SetValue("")
	m.setStatus("", false)
	if m.talk != nil {
		m.talk.Reset()
	}
	m.refreshTranscript()
	log.Info("reset")
	return m
}

func (m tuiModel) generate() (tea.Model, tea.Cmd) {
	if m.generating {
		return m, nil
	}
	if m.summarizer == nil {
		m.setStatus("no summary backend configured", true)
		return m, nil
	}
	m.summaryGen++
	gen := m.summaryGen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelSummary = cancel
	m.generating = true

	req := summary.Request{
		Title:       m.title.Value(),
		Speaker:     m.name.Value(),
		Transcripts: slices.Clone(m.transcripts),
		Duration:    m.keeper.ElapsedDuration(),
	}
	s, send := m.summarizer, m.send
	log.Infof("summary_start: backend=%s segments=%d", s.Name(), len(req.Transcripts))

	run := func() tea.Msg {
		start := time.Now()
		text, err := s.Summarize(ctx, req, func(partial string) {
			send(summaryPartialMsg{gen: gen, text: partial})
		})
		return summaryDoneMsg{gen: gen, text: text, err: err, took: time.Since(start)}
	}
	return m, tea.Batch(run, m.spinner.Tick)
}

func (m tuiModel) finishSummary(msg summaryDoneMsg) tuiModel {
	m.generating = false
	if m.cancelSummary != nil {
		m.cancelSummary()
		m.cancelSummary = nil
	}

	var statusErr *summary.StatusError
	switch {
	case errors.As(msg.err, &statusErr):
		log.Errorf("summary upstream status: %v", msg.err)
		m.setStatus(fmt.Sprintf("summary: upstream returned %d", statusErr.StatusCode), true)
		return m
	case errors.Is(msg.err, context.Canceled):
		return m
	case msg.err != nil:
		log.Errorf("summary error: %v", msg.err)
		m.summary = summary.ErrorMessage
		m.summaryBody = ""
		m.setStatus(fmt.Sprintf("summary: %v", msg.err), true)
	case msg.text == "":
		log.Warn("summary_empty")
	default:
		m.summaryBody = msg.text
		m.summary = summary.Format(m.title.Value(), m.name.Value(), msg.text)
		log.Summary(m.summarizer.Name(), m.title.Value(), msg.took, msg.text)
		m.setStatus(fmt.Sprintf("summary ready (%.1fs)", msg.took.Seconds()), false)
	}
	m.renderSummary()
	return m
}

func (m tuiModel) copySummary() tea.Cmd {
	text, copyText := m.summary, m.copyText
	if text == "" || copyText == nil {
		return nil
	}
	return func() tea.Msg {
		if err := copyText(text); err != nil {
			log.Warnf("clipboard: %v", err)
			return statusMsg{text: fmt.Sprintf("copy failed: %v", err), err: true}
		}
		return statusMsg{text: "summary copied to clipboard"}
	}
}

func (m tuiModel) export() tea.Cmd {
	t := export.Talk{
		Title:       m.title.Value(),
		Speaker:     m.name.Value(),
		Date:        time.Now(),
		Limit:       m.keeper.LimitDuration(),
		Elapsed:     m.keeper.ElapsedDuration(),
		Transcripts: slices.Clone(m.transcripts),
		Summary:     m.summaryBody,
	}
	tk, dir := m.talk, m.exportDir
	return func() tea.Msg {
		if tk != nil {
			data, err := tk.Audio()
			if err != nil {
				log.Warnf("audio encode: %v", err)
			}
			t.Audio = data
		}
		p, err := export.Write(dir, t)
		return exportDoneMsg{paths: p, err: err}
	}
}

func (m tuiModel) quit() (tea.Model, tea.Cmd) {
	m = m.stop()
	if m.cancelSummary != nil {
		m.cancelSummary()
		m.cancelSummary = nil
	}
	return m, tea.Quit
}

func (m *tuiModel) refreshTranscript() {
	content := strings.Join(m.transcripts, "\n")
	if m.interim != "" {
		if content != "" {
			content += "\n"
		}
		content += dimStyle.Render(m.interim)
	}
	if content == "" {
		content = dimStyle.Render("文字起こしはまだありません")
	}
	m.transcript.SetContent(lipgloss.NewStyle().Width(m.transcript.Width).Render(content))
	m.transcript.GotoBottom()
}

func (m *tuiModel) renderSummary() {
	if m.summary == "" {
		m.rendered = ""
		return
	}
	if m.renderer != nil {
		if out, err := m.renderer.Render(m.summary); err == nil {
			m.rendered = strings.Trim(out, "\n")
			return
		}
	}
	m.rendered = m.summary
}

var (
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Width(10)
)

func (m tuiModel) cardWidth() int {
	w := m.width - 2
	if w <= 0 || w > 100 {
		w = 80
	}
	return w
}

func (m tuiModel) card(title, body string) string {
	accent := lipgloss.Color(m.cardColor)
	head := lipgloss.NewStyle().Foreground(accent).Bold(true).Render(title)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Width(m.cardWidth()).
		Render(head + "\n" + body)
}

// button renders a key hint, dimmed when the action is unavailable.
func button(key, label string, enabled bool) string {
	if !enabled {
		return dimStyle.Render("[" + key + "] " + label)
	}
	return keyStyle.Render("["+key+"]") + " " + label
}

func (m tuiModel) presenterCard() string {
	field := func(label string, in textinput.Model) string {
		return labelStyle.Render(label) + in.View()
	}
	limit := labelStyle.Render("制限時間") + timer.Format(m.keeper.Limit()) + "   " +
		button("5", "+5分", true) + "  " + button("1", "+1分", true) + "  " +
		button("r", "すべてリセット", true)
	swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(m.cardColor)).Render("■")
	lines := []string{
		field("名前", m.name),
		field("タイトル", m.title),
		limit,
		labelStyle.Render("カード色") + swatch + " " + m.color.View(),
	}
	return m.card("発表者情報", strings.Join(lines, "\n"))
}

func (m tuiModel) timerCard() string {
	running := m.keeper.Running()
	remaining := lipgloss.NewStyle().Bold(true)
	if m.keeper.Overtime() {
		remaining = remaining.Foreground(lipgloss.Color("196"))
	}
	state := dimStyle.Render("○ 停止中")
	if running {
		state = errStyle.Bold(true).Render("● 計測中")
	}

	var lines []string
	lines = append(lines,
		"残り時間 "+remaining.Render(timer.Format(m.keeper.Remaining()))+
			dimStyle.Render(fmt.Sprintf("  (経過 %s)", timer.Format(m.keeper.Elapsed())))+"  "+state,
		button("s", "開始", !running)+"  "+button("x", "停止", running)+"  "+
			button("g", "要約を生成", !m.generating),
	)
	if running {
		meter := "mic " + levelBar(m.level, 30)
		if m.noVoice {
			meter += lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Render("  ⚠ no voice detected")
		}
		lines = append(lines, meter)
	}
	if m.deviceLine != "" {
		lines = append(lines, dimStyle.Render(m.deviceLine))
	}
	if m.modeLine != "" {
		lines = append(lines, dimStyle.Render(m.modeLine))
	}
	if !running {
		for _, line := range m.sttMetrics {
			lines = append(lines, dimStyle.Render(line))
		}
	}
	lines = append(lines, "", m.transcript.View())
	return m.card("タイムキーパー & 音声認識", strings.Join(lines, "\n"))
}

func (m tuiModel) summaryCard() string {
	var body string
	switch {
	case m.generating && m.rendered == "":
		body = m.spinner.View() + " 要約を生成中..."
	case m.generating:
		body = m.spinner.View() + "\n" + m.rendered
	case m.rendered != "":
		body = m.rendered
	default:
		body = dimStyle.Render("[g] で要約を生成")
	}
	return m.card("要約: "+m.title.Value(), body)
}

func levelBar(level float64, width int) string {
	n := int(level * 4 * float64(width))
	n = max(0, min(n, width))
	color := "42"
	if n > width*3/4 {
		color = "208"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(strings.Repeat("█", n)) +
		dimStyle.Render(strings.Repeat("░", width-n))
}

func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString(m.presenterCard())
	b.WriteString("\n")
	b.WriteString(m.timerCard())
	b.WriteString("\n")
	b.WriteString(m.summaryCard())
	b.WriteString("\n")

	if m.status != "" {
		style := dimStyle
		if m.statusErr {
			style = errStyle
		}
		b.WriteString(style.Render(m.status) + "\n")
	}

	help := "[tab] 入力  [c] コピー  [e] 書き出し  [q] 終了"
	if m.focus != focusNone {
		help = "[enter] 確定  [esc] 戻る  [tab] 次の入力"
	}
	if m.hotkey {
		help += "  " + hotkey.Combo + ": 開始/停止"
	}
	b.WriteString(helpStyle.Render(help + "  ltkeeper " + version))
	return b.String()
}
