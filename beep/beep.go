package beep

import "math"

var disabled bool

// Disable silences all cues for the rest of the process. The audio output
// is never opened once disabled.
func Disable() { disabled = true }

// ready opens the output on first use and reports whether cues may play.
func ready() bool {
	if disabled {
		return false
	}
	soundOnce.Do(initSound)
	return true
}

const (
	sampleRate = 44100

	// Warning: two-note chime, one minute left
	chimeHigh   = 1046.5 // C6
	chimeLow    = 784.0  // G5
	chimeNote   = 0.35
	chimeVolume = 0.45
	chimeDecay  = 6

	// Bell: desk bell struck three times at the limit
	bellFreq    = 2093.0 // C7
	bellStrikes = 3
	bellGap     = 0.45
	bellRing    = 1.2
	bellVolume  = 0.5
	bellDecay   = 3.5
)

// bellPartials approximates a small struck bell: fundamental plus the
// inharmonic overtones that give it a metallic ring.
var bellPartials = []struct{ ratio, amp float64 }{
	{1, 1},
	{2.76, 0.45},
	{5.40, 0.25},
	{8.93, 0.12},
}

func tone(rate int, freq, dur, volume, decay float64) []float64 {
	n := int(float64(rate) * dur)
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(rate)
		out[i] = math.Sin(2*math.Pi*freq*t) * volume * math.Exp(-t*decay)
	}
	return out
}

func mix(dst []float64, src []float64, at int) []float64 {
	if need := at + len(src); need > len(dst) {
		dst = append(dst, make([]float64, need-len(dst))...)
	}
	for i, v := range src {
		dst[at+i] += v
	}
	return dst
}

func toPCM(buf []float64) []int16 {
	out := make([]int16, len(buf))
	for i, v := range buf {
		v = math.Max(-1, math.Min(1, v))
		out[i] = int16(v * 32767)
	}
	return out
}

func generateChime(rate int) []int16 {
	var buf []float64
	buf = mix(buf, tone(rate, chimeHigh, chimeNote*2, chimeVolume, chimeDecay), 0)
	buf = mix(buf, tone(rate, chimeLow, chimeNote*3, chimeVolume, chimeDecay), int(float64(rate)*chimeNote))
	return toPCM(buf)
}

func generateBell(rate int) []int16 {
	var strike []float64
	var total float64
	for _, p := range bellPartials {
		total += p.amp
	}
	for _, p := range bellPartials {
		// higher partials die away faster
		strike = mix(strike, tone(rate, bellFreq*p.ratio, bellRing, bellVolume*p.amp/total, bellDecay*p.ratio), 0)
	}
	var buf []float64
	for i := 0; i < bellStrikes; i++ {
		buf = mix(buf, strike, int(float64(rate)*bellGap*float64(i)))
	}
	return toPCM(buf)
}
