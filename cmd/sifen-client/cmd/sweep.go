package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var sweepTimeout time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Poll every pending batch until terminal",
	Long: `Poll every pending batch of the configured environment until each
reaches a terminal state: done, requires_individual_lookup, or error.

Batches still processing are retried with increasing delay. Ctrl-C
stops the sweep between polls; already persisted transitions are kept.

Examples:
  sifen-client sweep
  sifen-client sweep --timeout 10m`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 15*time.Minute, "Overall sweep timeout")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := client.Sweep(ctx)
	if err != nil && len(results) == 0 {
		return err
	}
	if printErr := printJSON(results); printErr != nil {
		return printErr
	}
	return err
}
