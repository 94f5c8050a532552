package audio

// Capture format for the PCM stream read from the capture device.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 48000
	// Channels is the number of captured channels (mono).
	Channels = 1
	// BytesPerSample is the size of one S16LE sample.
	BytesPerSample = 2
	// BytesPerSecond is the PCM data rate of the capture stream.
	BytesPerSecond = SampleRate * Channels * BytesPerSample
)

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}
