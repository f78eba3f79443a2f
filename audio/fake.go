package audio

import (
	"fmt"
	"os"
	"sync"
	"time"

	"ltkeeper/encoder"
)

const (
	fakeFrameSize     = 1600 // 100ms at 16kHz
	fakeBytesPerFrame = 2
)

// FakeContext replays a WAV file (or raw PCM) as if it came from a
// microphone. Used by -fake-audio and by tests.
type FakeContext struct {
	pcm      []byte
	realtime bool
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("fake audio: %w", err)
	}
	if len(data) > WAVHeaderSize && string(data[:4]) == "RIFF" {
		data = data[WAVHeaderSize:]
	}
	return &FakeContext{pcm: data, realtime: realtime}, nil
}

func NewFakeContextPCM(pcm []byte) *FakeContext {
	return &FakeContext{pcm: pcm}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake microphone"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FakeCapture{pcm: f.pcm, realtime: f.realtime, done: make(chan struct{})}, nil
}

type FakeCapture struct {
	pcm      []byte
	realtime bool
	done     chan struct{}

	mu      sync.Mutex
	cb      DataCallback
	stopCh  chan struct{}
	stopped chan struct{}
}

// Done is closed once the whole recording has been delivered.
func (f *FakeCapture) Done() <-chan struct{} { return f.done }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake microphone" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.stopped = make(chan struct{})
	select {
	case <-f.done:
		f.done = make(chan struct{})
	default:
	}
	done := f.done

	var interval time.Duration
	if f.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(encoder.SampleRate)
	}
	chunk := fakeFrameSize * fakeBytesPerFrame

	go func() {
		defer close(f.stopped)
		for pos := 0; pos < len(f.pcm); {
			select {
			case <-f.stopCh:
				return
			default:
			}
			cb := f.callback()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}
			end := min(pos+chunk, len(f.pcm))
			buf := make([]byte, end-pos)
			copy(buf, f.pcm[pos:end])
			cb(buf, uint32(len(buf)/fakeBytesPerFrame))
			pos = end
			if interval > 0 {
				select {
				case <-f.stopCh:
					return
				case <-time.After(interval):
				}
			}
		}
		close(done)
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.stopped
}

func (f *FakeCapture) Close() { f.Stop() }
