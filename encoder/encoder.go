package encoder

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096

	BytesPerSecond = SampleRate * Channels * (BitsPerSample / 8)
)
