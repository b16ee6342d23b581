package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusPoll    bool
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <correlation-id>",
	Short: "Show the tracked status of a batch",
	Long: `Show the recorded status of a submitted batch.

Without flags this reads the local record. With --poll the platform is
queried first and the transition is persisted before printing.

Examples:
  sifen-client status 202603141030001
  sifen-client status 202603141030001 --poll`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusPoll, "poll", false, "Query the platform before printing")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", time.Minute, "Poll timeout")
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	if statusPoll {
		result, err := client.PollOnce(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(result)
	}

	bs, err := client.BatchStatus(ctx, args[0])
	if err != nil {
		return err
	}
	if bs == nil {
		return fmt.Errorf("batch %s is not tracked", args[0])
	}
	return printJSON(bs)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
