package encoder

import (
	"encoding/binary"
	"sync"
	"time"
)

// Recorder keeps the PCM captured during a talk so it can be archived once
// the talk is exported. Write is called from the audio callback.
type Recorder struct {
	mu      sync.Mutex
	samples []int16
	odd     []byte
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Write appends little-endian 16-bit PCM. A trailing odd byte is held until
// the next call.
func (r *Recorder) Write(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.odd) > 0 {
		pcm = append(r.odd, pcm...)
		r.odd = nil
	}
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		r.samples = append(r.samples, int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	if len(pcm)%2 == 1 {
		r.odd = []byte{pcm[len(pcm)-1]}
	}
}

func (r *Recorder) Samples() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int16, len(r.samples))
	copy(out, r.samples)
	return out
}

func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	n := len(r.samples)
	r.mu.Unlock()
	return time.Duration(n) * time.Second / SampleRate
}

func (r *Recorder) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples) == 0
}

// FLAC encodes everything recorded so far.
func (r *Recorder) FLAC() ([]byte, error) {
	return EncodeFLAC(r.Samples())
}
