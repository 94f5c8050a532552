//go:build linux

package audio

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "arecord",
		DefaultDevice: "default",
		BuildArgs:     buildLinuxArgs,
		ListArgs:      []string{"-l"},
		ParseDevices:  parseALSACards,
		FallbackDevices: []Device{
			{ID: "default", Name: "System default"},
		},
	}
}

func buildLinuxArgs(device string) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", "48000",
		"-c", "1",
		"-t", "raw",
		"-q",
		"-",
	}
}
