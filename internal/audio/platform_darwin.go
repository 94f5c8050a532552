//go:build darwin

package audio

// macOS captures through ffmpeg's avfoundation input; ":0" is the first
// audio device.
func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "ffmpeg",
		DefaultDevice: ":0",
		UsesFFmpeg:    true,
		BuildArgs: func(device string) []string {
			return buildFFmpegCaptureArgs("avfoundation", device)
		},
		ListArgs:     []string{"-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
		ParseDevices: parseAVFoundation,
	}
}
