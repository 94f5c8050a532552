package clip

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/capture"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

const (
	// MaxSeconds bounds the ring buffer size.
	MaxSeconds = 60
	// DefaultSeconds is the clip length when none is configured.
	DefaultSeconds = 10

	outputDirPrefix = "noisemeter-clips"
	fileLayout      = "2006-01-02_15-04-05"
)

// OutputDirForPort returns the clip directory, unique per web server port.
func OutputDirForPort(port int) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", outputDirPrefix, port))
}

// Result describes a saved clip.
type Result struct {
	AlertID   string
	FilePath  string
	Filename  string
	FileSize  int64
	Duration  time.Duration
	AlertTime time.Time
	S3Key     string
	Error     error
}

// Callback is called from a background goroutine once a clip is written.
type Callback func(result *Result)

// Manager buffers session audio and writes a clip for each alert.
type Manager struct {
	mu sync.RWMutex

	ring      *Ring
	outputDir string
	cfg       types.ClipConfig
	s3        types.S3Config
	onSaved   Callback
	uploader  Uploader

	cleanupStopCh chan struct{}
	running       bool
	wg            sync.WaitGroup
}

// NewManager creates a clip manager that writes into outputDir.
func NewManager(outputDir string, cfg types.ClipConfig, s3cfg types.S3Config, onSaved Callback) *Manager {
	cfg.Seconds = min(max(cfg.Seconds, 1), MaxSeconds)
	return &Manager{
		ring:      NewRing(cfg.Seconds * audio.BytesPerSecond),
		outputDir: outputDir,
		cfg:       cfg,
		s3:        s3cfg,
		onSaved:   onSaved,
		uploader:  S3Uploader{},
	}
}

// Enabled reports whether alerts currently produce clips.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Enabled
}

// Write buffers session PCM. It discards data while clips are disabled.
func (m *Manager) Write(p []byte) (int, error) {
	m.mu.RLock()
	enabled := m.cfg.Enabled
	m.mu.RUnlock()

	if !enabled {
		return len(p), nil
	}
	return m.ring.Write(p)
}

// Configure replaces the clip and storage settings. A changed clip length
// starts a fresh buffer.
func (m *Manager) Configure(cfg types.ClipConfig, s3cfg types.S3Config) {
	cfg.Seconds = min(max(cfg.Seconds, 1), MaxSeconds)

	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.Seconds != m.cfg.Seconds {
		m.ring = NewRing(cfg.Seconds * audio.BytesPerSecond)
	}
	m.cfg = cfg
	m.s3 = s3cfg
}

// Reset clears buffered audio, for example between sessions.
func (m *Manager) Reset() {
	m.mu.RLock()
	ring := m.ring
	m.mu.RUnlock()
	ring.Reset()
}

// OnAlert snapshots the buffered audio and saves it in the background.
// It reports whether a clip is being written.
func (m *Manager) OnAlert(alertID string, at time.Time) bool {
	m.mu.RLock()
	enabled := m.cfg.Enabled
	ring := m.ring
	outputDir := m.outputDir
	s3cfg := m.s3
	uploader := m.uploader
	callback := m.onSaved
	m.mu.RUnlock()

	if !enabled {
		return false
	}
	pcm := ring.Last(ring.Len())
	if len(pcm) == 0 {
		slog.Debug("no audio buffered for clip", "alert_id", alertID)
		return false
	}

	m.wg.Go(func() {
		result := saveClip(outputDir, pcm, at)
		result.AlertID = alertID
		if result.Error == nil && s3cfg.IsConfigured() {
			key, err := uploader.Upload(&s3cfg, result.FilePath)
			if err != nil {
				slog.Error("clip upload failed", "file", result.Filename, "error", err)
				result.Error = err
			} else {
				result.S3Key = key
			}
		}
		if callback != nil {
			callback(result)
		}
	})
	return true
}

// Wait blocks until all pending clips are written.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// saveClip writes pcm as a WAV named after the alert time.
func saveClip(outputDir string, pcm []byte, at time.Time) *Result {
	samples := capture.PCMToInts(pcm)
	result := &Result{
		AlertTime: at,
		Duration:  time.Duration(len(samples)) * time.Second / audio.SampleRate,
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		result.Error = fmt.Errorf("create output dir: %w", err)
		return result
	}

	result.Filename = at.Local().Format(fileLayout) + ".wav"
	result.FilePath = filepath.Join(outputDir, result.Filename)

	if err := WriteWAV(result.FilePath, samples); err != nil {
		result.Error = err
		return result
	}

	info, err := os.Stat(result.FilePath)
	if err != nil {
		result.Error = fmt.Errorf("stat clip: %w", err)
		return result
	}
	result.FileSize = info.Size()

	slog.Info("alert clip saved", "file", result.Filename, "size", result.FileSize, "duration", result.Duration)
	return result
}

// WriteWAV writes mono 16-bit samples at the capture rate to path.
func WriteWAV(path string, samples []int) error {
	f, err := os.Create(path)
	if err != nil {
		return util.WrapError("create clip", err)
	}
	defer util.SafeCloseFunc(f, "clip file")()

	enc := wav.NewEncoder(f, audio.SampleRate, audio.BytesPerSample*8, audio.Channels, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: audio.SampleRate, NumChannels: audio.Channels},
		SourceBitDepth: 16,
	}); err != nil {
		return util.WrapError("encode clip", err)
	}
	return enc.Close()
}
