package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rezonia/sifen-client/internal/config"
	"github.com/rezonia/sifen-client/internal/logger"
	"github.com/rezonia/sifen-client/pkg/sifen"
)

var (
	version = "1.0.0"

	// Global flags
	configPath  string
	environment string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "sifen-client",
	Short: "Submit and track electronic documents on SIFEN",
	Long: `sifen-client submits signed electronic documents (DE) to the SIFEN
platform of the Paraguayan tax administration and tracks batch
processing until a terminal state.

Configuration is read from config.toml and SIFEN_-prefixed environment
variables. The credential passphrase should come from the environment
(SIFEN_CREDENTIAL_PASSPHRASE), never from the command line.

Examples:
  # Submit an invoice described as JSON
  sifen-client submit invoice.json

  # Check a tracked batch, querying the platform first
  sifen-client status 202603141030001 --poll

  # Poll every pending batch until terminal
  sifen-client sweep

  # Validate a control code
  sifen-client cdc validate 01800123454001001000003320260314112345678906`,
	Version: version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "Directory containing config.toml")
	rootCmd.PersistentFlags().StringVarP(&environment, "environment", "e", "", "SIFEN environment (test, prod); overrides config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadConfig reads config.toml and applies the global flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if environment != "" {
		cfg.Environment = environment
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// newClient builds the pipeline client from configuration
func newClient(cfg *config.Config, log *zap.Logger) (*sifen.Client, error) {
	return sifen.NewClient(sifen.Options{
		Environment:      cfg.Env(),
		CredentialPath:   cfg.Credential.Path,
		Passphrase:       cfg.Credential.Passphrase,
		OpenSSLPath:      cfg.Credential.OpenSSLPath,
		CSC:              cfg.QR.CSC,
		CSCID:            cfg.QR.CSCID,
		ConnectTimeout:   cfg.Transport.ConnectTimeout,
		ReadTimeout:      cfg.Transport.ReadTimeout,
		StorePath:        cfg.Store.Path,
		DiagnosticsDir:   cfg.Preflight.DiagnosticsDir,
		Logger:           log,
		EndpointOverride: cfg.Transport.EndpointOverride,
	})
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
