package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rezonia/sifen-client/internal/server"
)

var (
	serverAddr  string
	serverDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP facade in front of the submission pipeline.

The API provides:
  - POST /api/v1/invoices/submit  - Sign and submit a document
  - GET  /api/v1/batches/:id      - Tracked batch status (?poll=true refreshes)
  - GET  /healthz                 - Health check

Examples:
  sifen-client serve
  sifen-client serve --address :9090 --debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	addr := cfg.HTTP.Addr
	if serverAddr != "" {
		addr = serverAddr
	}

	srv := server.NewServer(&server.Config{
		Address:      addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		Debug:        serverDebug,
	}, client, log.Named("server"))

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down server...")
		os.Exit(0)
	}()

	fmt.Printf("Starting server on %s (%s)\n", addr, cfg.Environment)
	return srv.Run()
}
