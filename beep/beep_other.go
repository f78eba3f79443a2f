//go:build !linux

package beep

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	chimeBytes []byte
	bellBytes  []byte
	soundOnce  sync.Once

	// read from the audio callback
	current atomic.Pointer[[]byte]
	pos     atomic.Uint32
	playMu  sync.Mutex
)

func pcmBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(malgoCtx.Context, config, malgo.DeviceCallbacks{Data: fill})
	return err
}

func initSound() {
	chimeBytes = pcmBytes(generateChime(sampleRate))
	bellBytes = pcmBytes(generateBell(sampleRate))

	var err error
	malgoCtx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		malgoCtx = nil
		return
	}
	if err := initDevice(); err != nil {
		malgoCtx.Uninit()
		malgoCtx = nil
	}
}

func fill(out, _ []byte, frameCount uint32) {
	want := frameCount * 2
	n := uint32(0)
	if p := current.Load(); p != nil {
		data := *p
		at := pos.Load()
		if at < uint32(len(data)) {
			n = uint32(copy(out[:want], data[at:]))
			pos.Store(at + n)
		} else {
			current.Store(nil)
		}
	}
	clear(out[n:want])
}

func play(data []byte) {
	if malgoCtx == nil || len(data) == 0 {
		return
	}
	playMu.Lock()
	defer playMu.Unlock()
	if device == nil {
		return
	}

	device.Stop()
	pos.Store(0)
	current.Store(&data)

	if err := device.Start(); err != nil {
		// device can go stale after sleep/wake
		device.Uninit()
		if err := initDevice(); err != nil || device.Start() != nil {
			current.Store(nil)
		}
	}
}

func Init() {
	ready()
}

func PlayWarning() {
	if !ready() {
		return
	}
	play(chimeBytes)
}

func PlayBell() {
	if !ready() {
		return
	}
	play(bellBytes)
}
