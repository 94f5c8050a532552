// Package main provides a studio noise meter that captures audio from a local
// input, shows the live level in a web interface and raises alerts when the
// level crosses a configurable threshold.
//
// Usage:
//
//	noisemeter [serve] [--config path/to/config.json]
//	noisemeter watch [--threshold -20]
//	noisemeter devices
//	noisemeter version [--check]
//
// If --config is not specified, config.json next to the binary is used.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "noisemeter",
		Short:        "Studio noise meter with web interface and alerts",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: config.json next to binary)")
	root.SetVersionTemplate("noisemeter {{.Version}}\n")
	root.Version = Version

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the web interface and noise detector",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		newWatchCmd(),
		&cobra.Command{
			Use:   "devices",
			Short: "List audio capture devices",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				devices := audio.ListDevices()
				if len(devices) == 0 {
					cmd.Println("no audio input devices found")
					return
				}
				for _, d := range devices {
					cmd.Printf("%-24s %s\n", d.ID, d.Name)
				}
			},
		},
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves the config path and loads it.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		execPath, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		path = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	cfg := config.New(path)
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("noisemeter %s (commit %s, built %s)\n", Version, Commit, formatBuildTime(BuildTime))
			if !check {
				return nil
			}
			return printLatestRelease(cmd, newReleaseChecker(releasesURL))
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "look up the latest published release")
	return cmd
}

// printLatestRelease runs a single release lookup and reports the outcome.
func printLatestRelease(cmd *cobra.Command, rc *releaseChecker) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), releaseTimeout)
	defer cancel()
	if err := rc.lookup(ctx); err != nil {
		return fmt.Errorf("check for updates: %w", err)
	}
	switch info := rc.Info(); {
	case info.Latest == "":
		cmd.Println("no published release found")
	case info.UpdateAvail:
		cmd.Printf("update available: %s\n", info.Latest)
	default:
		cmd.Printf("up to date (latest release %s)\n", info.Latest)
	}
	return nil
}
