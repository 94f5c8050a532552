package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-noisemeter/internal/monitor"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

func newWatchCmd() *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the live noise level in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, threshold)
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "alert threshold in dBFS (default: from config)")
	return cmd
}

// runWatch monitors until interrupted, rendering readings as a terminal meter.
// Alerts still go through the configured notifications and clips.
func runWatch(cmd *cobra.Command, threshold float64) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if !a.captureAvailable {
		return fmt.Errorf("capture command not available")
	}

	if cmd.Flags().Changed("threshold") {
		a.det.SetThreshold(threshold)
	}

	sink := newTerminalSink(cmd.ErrOrStderr())
	a.det.AttachSink(sink)
	if err := a.det.Start(); err != nil {
		_ = a.close() //nolint:errcheck // start error is reported
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	sink.clear()
	slog.Info("shutting down")
	return a.close()
}

// terminalSink renders readings as a progress bar meter. It is driven from
// the monitoring goroutine only.
type terminalSink struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

func newTerminalSink(out io.Writer) *terminalSink {
	return &terminalSink{
		out: out,
		bar: progressbar.NewOptions(100,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetWidth(50),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionSetDescription(meterLabel(-90, "Low")),
		),
	}
}

func meterLabel(level float64, label string) string {
	return fmt.Sprintf("%4d dBFS %-6s", int(level), label)
}

// Reading updates the meter.
func (t *terminalSink) Reading(r monitor.Reading) {
	t.bar.Describe(meterLabel(r.Level, r.Band.Label()))
	_ = t.bar.Set(r.Meter) //nolint:errcheck // render errors only affect the terminal
}

// Alert prints the alert above the meter.
func (t *terminalSink) Alert(a monitor.Alert) {
	t.clear()
	fmt.Fprintf(t.out, "%s %s\n", a.Timestamp.Format("15:04:05"), a.Message)
}

// CaptureFailed leaves the meter as is.
func (t *terminalSink) CaptureFailed(error) {}

func (t *terminalSink) clear() {
	_ = t.bar.Clear() //nolint:errcheck // render errors only affect the terminal
}
