package clip

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// Start begins the daily retention cleanup.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.cleanupStopCh = make(chan struct{})
	go m.cleanupLoop(m.cleanupStopCh)

	slog.Info("clip manager started", "enabled", m.cfg.Enabled, "dir", m.outputDir)
}

// Stop ends the cleanup scheduler and waits for pending clips.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.cleanupStopCh)
	m.cleanupStopCh = nil
	m.mu.Unlock()

	m.Wait()
	slog.Info("clip manager stopped")
}

func (m *Manager) cleanupLoop(stop <-chan struct{}) {
	for {
		// Next run at 03:00 local time.
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
		if now.After(next) {
			next = next.Add(24 * time.Hour)
		}
		slog.Debug("clip cleanup: next run scheduled", "at", next.Format(time.DateTime))

		select {
		case <-time.After(next.Sub(now)):
			m.mu.RLock()
			dir, days := m.outputDir, m.cfg.RetentionDays
			m.mu.RUnlock()
			Cleanup(dir, days, time.Now())
		case <-stop:
			return
		}
	}
}

// Cleanup removes WAV clips in dir dated more than retentionDays before now.
// A retention of zero keeps everything. It returns the number deleted.
func Cleanup(dir string, retentionDays int, now time.Time) int {
	if retentionDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("clip cleanup: failed to read directory", "path", dir, "error", err)
		}
		return 0
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".wav" {
			continue
		}
		fileDate, ok := util.ExtractDateFromFilename(name)
		if !ok || !fileDate.Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			slog.Warn("clip cleanup: failed to delete file", "path", path, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		slog.Info("clip cleanup: deleted old files", "count", deleted)
	}
	return deleted
}
