package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/sifen-client/internal/server"
)

var submitTimeout time.Duration

var submitCmd = &cobra.Command{
	Use:   "submit <document.json>",
	Short: "Sign and submit one document as a batch",
	Long: `Sign and submit one electronic document to SIFEN.

The document is described as JSON with the same shape the HTTP facade
accepts: issuer, receiver, items, totals, and the timbrado data. The
control code (CDC) and the QR link are generated during submission.

The command prints the submission outcome as JSON: control code, QR
link, correlation id, and the protocol number assigned by the platform.
The batch is recorded locally; use "status" or "sweep" to follow it.

Examples:
  sifen-client submit invoice.json
  sifen-client submit invoice.json -e prod`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 2*time.Minute, "Submission timeout")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var req server.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	doc, err := req.Document()
	if err != nil {
		return err
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	printVerbose("Submitting document to %s\n", cfg.Environment)
	result, err := client.Submit(ctx, doc)
	if err != nil {
		if result != nil && result.CorrelationID != "" {
			printVerbose("Correlation id: %s\n", result.CorrelationID)
		}
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
