package main

import "time"

const (
	silenceWarnAfter = 8 * time.Second
	voiceLevel       = 0.02 // meter level counted as voice
	voiceMinRatio    = 0.10
	voiceClearRatio  = 0.25 // higher threshold to clear warning (hysteresis)
)

type silenceEvent int

const (
	silenceNone  silenceEvent = iota
	silenceWarn               // no voice for silenceWarnAfter
	silenceClear              // voice resumed after a warning
)

// silenceMonitor watches the mic level while the timer runs and flags a
// muted or unplugged microphone. It is fed once per meter tick.
type silenceMonitor struct {
	window []bool
	ticks  int
	warned bool
}

func newSilenceMonitor(tick time.Duration) *silenceMonitor {
	return &silenceMonitor{window: make([]bool, int(silenceWarnAfter/tick))}
}

func (m *silenceMonitor) Reset() {
	clear(m.window)
	m.ticks = 0
	m.warned = false
}

func (m *silenceMonitor) voiceRatio() float64 {
	n := min(m.ticks, len(m.window))
	if n == 0 {
		return 1
	}
	count := 0
	for _, v := range m.window[:n] {
		if v {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(level float64) silenceEvent {
	m.window[m.ticks%len(m.window)] = level >= voiceLevel
	m.ticks++

	r := m.voiceRatio()
	if m.ticks >= len(m.window) && r < voiceMinRatio && !m.warned {
		m.warned = true
		return silenceWarn
	}
	if m.warned && r >= voiceClearRatio {
		m.warned = false
		return silenceClear
	}
	return silenceNone
}
