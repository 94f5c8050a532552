package server

import (
	"log/slog"

	"github.com/oszuidwest/zwfm-noisemeter/internal/clip"
	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

// --- Threshold ---

// handleThresholdUpdate processes a threshold/update command. The value is
// applied to the live monitor and the clamped result is returned.
func (h *CommandHandler) handleThresholdUpdate(cmd WSCommand, send chan<- any) {
	var req ThresholdUpdateRequest
	if !decode(cmd, send, &req) {
		return
	}

	applied := h.ctl.SetThreshold(*req.ThresholdDB)
	if applied != *req.ThresholdDB {
		slog.Info("threshold/update: value clamped", "requested", *req.ThresholdDB, "applied", applied)
	}
	replyTo(send, cmd).ok(map[string]float64{"threshold_db": applied})
}

// --- Audio ---

// handleAudioUpdate processes an audio/update command.
func (h *CommandHandler) handleAudioUpdate(cmd WSCommand, send chan<- any) {
	update(cmd, send, func(req *AudioUpdateRequest) error {
		if req.Input == "" {
			return nil // No change requested
		}

		slog.Info("audio/update: changing audio input", "input", req.Input)
		if err := h.cfg.SetAudioInput(req.Input); err != nil {
			return err
		}

		// A running session keeps its device until restarted.
		if h.captureAvailable && h.ctl.IsRunning() {
			go func() {
				if err := h.ctl.Stop(); err != nil {
					slog.Warn("audio/update: stop failed", "error", err)
				}
				if err := h.ctl.Start(); err != nil {
					slog.Error("audio/update: restart failed", "error", err)
				}
			}()
		}
		return nil
	})
}

// --- Alert clips ---

// handleClipsUpdate processes a clips/update command. An empty S3 secret
// keeps the stored one.
func (h *CommandHandler) handleClipsUpdate(cmd WSCommand, send chan<- any) {
	update(cmd, send, func(req *ClipsUpdateRequest) error {
		snap := h.cfg.Snapshot()
		s3cfg := types.S3Config{
			Endpoint:        req.S3Endpoint,
			Bucket:          req.S3Bucket,
			AccessKeyID:     req.S3AccessKeyID,
			SecretAccessKey: req.S3SecretAccessKey,
			Prefix:          req.S3Prefix,
		}
		if s3cfg.SecretAccessKey == "" {
			s3cfg.SecretAccessKey = snap.S3.SecretAccessKey
		}

		clips := types.ClipConfig{
			Enabled:       req.Enabled,
			Seconds:       req.Seconds,
			RetentionDays: req.RetentionDays,
		}
		if err := h.cfg.SetClips(clips, s3cfg); err != nil {
			return err
		}
		h.ctl.ApplyClipConfig()
		return nil
	})
}

// handleTestS3 processes a clips/test-s3 command.
func (h *CommandHandler) handleTestS3(cmd WSCommand, send chan<- any) {
	var req S3TestRequest
	if !decode(cmd, send, &req) {
		return
	}

	cfg := &types.S3Config{
		Endpoint:        req.Endpoint,
		Bucket:          req.Bucket,
		AccessKeyID:     req.AccessKey,
		SecretAccessKey: req.SecretKey,
	}
	if cfg.SecretAccessKey == "" {
		cfg.SecretAccessKey = h.cfg.Snapshot().S3.SecretAccessKey
	}
	background(cmd.Type, func() {
		deliver(send, cmd.Type, testResult("s3", clip.TestS3Connection(cfg)))
	}, nil)
}

// --- API key ---

// handleRegenerateAPIKey processes an apikey/regenerate command.
func (h *CommandHandler) handleRegenerateAPIKey(cmd WSCommand, send chan<- any) {
	replyTo(send, cmd).async(func() (any, error) {
		newKey, err := config.GenerateAPIKey()
		if err != nil {
			return nil, err
		}
		if err := h.cfg.SetAPIKey(newKey); err != nil {
			return nil, err
		}

		slog.Info("API key regenerated")
		return map[string]string{"api_key": newKey}, nil
	})
}
