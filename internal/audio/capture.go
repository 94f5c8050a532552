package audio

import "errors"

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name (e.g., "arecord", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg indicates if this platform uses FFmpeg for capture.
	UsesFFmpeg bool

	// BuildArgs returns the command arguments for mono S16LE capture to stdout.
	BuildArgs func(device string) []string

	// ListArgs makes Command print its input devices.
	ListArgs []string

	// ParseDevices extracts devices from the ListArgs output.
	ParseDevices func(output string) []Device

	// FallbackDevices are offered when detection finds nothing.
	FallbackDevices []Device
}

// BuildCaptureCommand returns the command and arguments for audio capture.
// An empty device selects the platform default, falling back to the first
// detected device.
func BuildCaptureCommand(device, ffmpegPath string) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}

	// Windows has no safe default.
	if device == "" {
		devices := ListDevices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := cfg.Command
	if cfg.UsesFFmpeg && ffmpegPath != "" {
		command = ffmpegPath
	}

	return command, cfg.BuildArgs(device), nil
}

// CaptureCommand returns the executable used for capture on this platform.
func CaptureCommand(ffmpegPath string) string {
	cfg := getPlatformConfig()
	if cfg.UsesFFmpeg && ffmpegPath != "" {
		return ffmpegPath
	}
	return cfg.Command
}
