package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/internal/render"
	"github.com/koios/signage-sync/pkg/models"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one worker command and returns the process exit status.
// Configuration and startup errors exit 1; screens that fail inside a batch
// are reported and still exit 0.
func run(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("Worker failed", zap.Error(err))
			_ = logger.Sync()
		} else {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:           "worker",
	Short:         "Out-of-band rendering worker for signage screens",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var logger *zap.Logger

// setup loads and validates configuration and builds the process logger.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logger, err = config.NewLogger(cfg.LogLevel); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyFleetFlags lets command line flags override the environment.
func applyFleetFlags(cmd *cobra.Command, cfg *config.Config) ([]models.FleetTarget, error) {
	if v, _ := cmd.Flags().GetString("slugs"); v != "" {
		cfg.Fleet.Slugs = v
	}
	if v, _ := cmd.Flags().GetString("file"); v != "" {
		cfg.Fleet.SlugsFile = v
	}

	targets, err := models.LoadFleet(cfg.Fleet.Slugs, cfg.Fleet.SlugsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no screens given (SCREEN_SLUGS or SCREEN_SLUGS_FILE)", config.ErrInvalid)
	}
	return targets, nil
}

func printReport(w io.Writer, report *render.BatchReport) {
	for _, it := range report.Items {
		switch it.Status {
		case render.StatusSuccess:
			fmt.Fprintf(w, "ok    %s %v (%s)\n", it.Target, it.Artifacts, it.Duration.Round(time.Millisecond))
		default:
			fmt.Fprintf(w, "skip  %s: %s\n", it.Target, it.Reason)
		}
	}
	fmt.Fprintf(w, "%s: %d succeeded, %d skipped in %s\n",
		report.Job, report.Succeeded(), report.Skipped(), report.Elapsed.Round(time.Millisecond))
}

func init() {
	for _, c := range []*cobra.Command{screenshotCmd, videoCmd} {
		c.Flags().StringP("slugs", "s", "", "Comma-separated screen addresses (overrides SCREEN_SLUGS)")
		c.Flags().StringP("file", "f", "", "Fleet file, one slug per line or YAML (overrides SCREEN_SLUGS_FILE)")
		c.Flags().IntP("concurrency", "c", 0, "Screens processed per batch")
		c.Flags().StringP("output", "o", "", "Output directory")
	}
	videoCmd.Flags().Int("seconds", 0, "Base recording length in seconds (overrides RECORD_SECONDS)")
	listenCmd.Flags().String("transport", "", "redis or amqp (default: whichever is configured, Redis first)")

	rootCmd.AddCommand(screenshotCmd)
	rootCmd.AddCommand(videoCmd)
	rootCmd.AddCommand(slidesCmd)
	rootCmd.AddCommand(listenCmd)
}
