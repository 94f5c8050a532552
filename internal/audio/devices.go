package audio

import (
	"bufio"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// ListDevices returns the audio input devices of the current platform, or
// the platform fallback when none can be detected.
func ListDevices() []Device {
	cfg := getPlatformConfig()
	if len(cfg.ListArgs) == 0 {
		return cfg.FallbackDevices
	}

	// ffmpeg exits non-zero after printing the device list.
	out, err := exec.Command(cfg.Command, cfg.ListArgs...).CombinedOutput()
	if err != nil && len(out) == 0 {
		slog.Error("failed to list audio devices", "command", cfg.Command, "error", err)
		return cfg.FallbackDevices
	}
	if devices := cfg.ParseDevices(string(out)); len(devices) > 0 {
		return devices
	}
	return cfg.FallbackDevices
}

var (
	alsaCardPattern    = regexp.MustCompile(`^card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`)
	avfDevicePattern   = regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`)
	dshowDevicePattern = regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`)
)

// scanLines calls fn for every line of out.
func scanLines(out string, fn func(line string)) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fn(strings.TrimRight(sc.Text(), "\r"))
	}
}

// parseALSACards reads `arecord -l`. Each card is listed once even when it
// has several subdevices.
func parseALSACards(out string) []Device {
	var devices []Device
	seen := make(map[string]bool)
	scanLines(out, func(line string) {
		m := alsaCardPattern.FindStringSubmatch(line)
		if m == nil || seen[m[2]] {
			return
		}
		seen[m[2]] = true
		devices = append(devices, Device{ID: "default:CARD=" + m[2], Name: m[3]})
	})
	return devices
}

// parseAVFoundation reads the audio section of an avfoundation device list.
func parseAVFoundation(out string) []Device {
	var devices []Device
	inAudio := false
	scanLines(out, func(line string) {
		switch {
		case strings.Contains(line, "AVFoundation audio devices:"):
			inAudio = true
		case strings.Contains(line, "AVFoundation video devices:"):
			inAudio = false
		case inAudio:
			if m := avfDevicePattern.FindStringSubmatch(line); m != nil {
				devices = append(devices, Device{ID: ":" + m[1], Name: strings.TrimSpace(m[2])})
			}
		}
	})
	return devices
}

// parseDirectShow reads a dshow device list. Headers differ between ffmpeg
// versions, so audio devices are picked by their "(audio)" suffix.
func parseDirectShow(out string) []Device {
	var devices []Device
	scanLines(out, func(line string) {
		if strings.Contains(line, "Alternative name") {
			return
		}
		if m := dshowDevicePattern.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[1])
			devices = append(devices, Device{ID: "audio=" + name, Name: name})
		}
	})
	return devices
}
