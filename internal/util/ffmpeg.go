package util

import "os/exec"

// ResolveFFmpegPath returns the FFmpeg binary to use for capture, or "" when
// none is found. A configured path must resolve; otherwise PATH is searched.
func ResolveFFmpegPath(customPath string) string {
	return ResolveCommand(customPath, "ffmpeg")
}

// ResolveCommand returns customPath when it resolves to an executable, or
// the PATH location of name when customPath is empty.
func ResolveCommand(customPath, name string) string {
	if customPath != "" {
		if _, err := exec.LookPath(customPath); err == nil {
			return customPath
		}
		return ""
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}
