package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/clip"
	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/detector"
	"github.com/oszuidwest/zwfm-noisemeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisemeter/internal/notify"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// app holds the long-lived components shared by the serve and watch commands.
type app struct {
	cfg              *config.Config
	events           *eventlog.Logger
	clips            *clip.Manager
	notifier         *notify.AlertNotifier
	det              *detector.Detector
	captureAvailable bool
}

// newApp wires the detector with its event log, clip archive and notifier.
func newApp(cfg *config.Config) (*app, error) {
	snap := cfg.Snapshot()

	ffmpegPath := util.ResolveFFmpegPath(snap.FFmpegPath)
	captureCmd := util.ResolveCommand("", audio.CaptureCommand(ffmpegPath))
	if captureCmd == "" {
		slog.Warn("capture command not found - monitoring unavailable", "command", audio.CaptureCommand(ffmpegPath))
	} else {
		slog.Info("capture command found", "path", captureCmd)
	}

	events, err := openEventLog(snap.WebPort)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:              cfg,
		events:           events,
		notifier:         notify.NewAlertNotifier(cfg),
		captureAvailable: captureCmd != "",
	}
	a.clips = clip.NewManager(clip.OutputDirForPort(snap.WebPort), snap.Clips, snap.S3, func(r *clip.Result) {
		a.det.ClipSaved(r)
	})
	a.det = detector.New(cfg, ffmpegPath, detector.Options{
		Clips:    a.clips,
		Notifier: a.notifier,
		Events:   events,
	})
	a.clips.Start()
	return a, nil
}

// openEventLog opens the event log at its default location, falling back to
// the temp dir when that is not writable.
func openEventLog(port int) (*eventlog.Logger, error) {
	logger, err := eventlog.NewLogger(eventlog.DefaultLogPath(port))
	if err == nil {
		return logger, nil
	}
	fallback := filepath.Join(os.TempDir(), "noisemeter", strconv.Itoa(port), "events.jsonl")
	slog.Warn("event log location not writable, using temp dir", "error", err, "path", fallback)
	return eventlog.NewLogger(fallback)
}

// close stops monitoring and flushes pending clips and notifications.
func (a *app) close() error {
	var errs []error
	if err := a.det.Stop(); err != nil {
		errs = append(errs, err)
	}
	a.clips.Stop()
	if err := a.notifier.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.events.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// runServe runs the web interface until a shutdown signal arrives.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("using config file", "path", cfg.Path())

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	srv := NewServer(a)
	httpServer := srv.Start()

	releaseCtx, stopReleases := context.WithCancel(context.Background())
	defer stopReleases()
	go srv.version.Run(releaseCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")
	stopReleases()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := a.close(); err != nil {
		slog.Error("error during shutdown", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}
