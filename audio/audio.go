package audio

import (
	"encoding/binary"
	"math"
	"strings"
)

const WAVHeaderSize = 44

// Headsets over Bluetooth drop to a narrowband codec while the mic is open,
// which hurts recognition in a noisy venue.
var btKeywords = []string{
	"airpods", "bose", "wh-1000", "wf-1000", "jabra",
	"galaxy buds", "pixel buds", "bluetooth", " bt ", " bt)",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives 16-bit little-endian mono PCM.
type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	// Gain is a software multiplier for quiet microphones, clipped at full
	// scale. Zero means unity.
	Gain int
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// FindDevice returns the first device whose name contains query
// (case-insensitive), or nil.
func FindDevice(ctx Context, query string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), q) {
			return &devices[i], nil
		}
	}
	return nil, nil
}

// Level returns the RMS of a PCM chunk scaled to 0..1.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Min(1, math.Sqrt(sum/float64(n))/32768)
}

// EncodeSamples converts samples to little-endian PCM, multiplied by gain
// and clipped to the int16 range.
func EncodeSamples(samples []int16, gain int) []byte {
	g := int32(max(gain, 1))
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := max(min(int32(s)*g, math.MaxInt16), math.MinInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// ApplyGain multiplies little-endian PCM in place, clipping at full scale.
func ApplyGain(pcm []byte, gain int) {
	if gain <= 1 {
		return
	}
	g := int32(gain)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		v := max(min(s*g, math.MaxInt16), math.MinInt16)
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
}

// isMonitorSource reports whether a PulseAudio source ID names the loopback
// of an output rather than a microphone.
func isMonitorSource(id string) bool {
	return strings.HasSuffix(id, ".monitor")
}
