//go:build linux

package beep

import (
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

var (
	chimeSamples []int16
	bellSamples  []int16
	soundOnce    sync.Once
	playMu       sync.Mutex
)

func initSound() {
	chimeSamples = generateChime(sampleRate)
	bellSamples = generateBell(sampleRate)
}

func playSamples(samples []int16) {
	if len(samples) == 0 {
		return
	}
	playMu.Lock()
	defer playMu.Unlock()

	c, err := pulse.NewClient(pulse.ClientApplicationName("ltkeeper"))
	if err != nil {
		return
	}
	defer c.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
}

func Init() {
	ready()
}

func PlayWarning() {
	if !ready() {
		return
	}
	go playSamples(chimeSamples)
}

func PlayBell() {
	if !ready() {
		return
	}
	go playSamples(bellSamples)
}
