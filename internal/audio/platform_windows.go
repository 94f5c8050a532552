//go:build windows

package audio

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "ffmpeg",
		DefaultDevice: "", // Auto-detect, no safe default on Windows
		UsesFFmpeg:    true,
		BuildArgs: func(device string) []string {
			return buildFFmpegCaptureArgs("dshow", device)
		},
		ListArgs:     []string{"-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
		ParseDevices: parseDirectShow,
	}
}
