// Package config loads client configuration from a TOML file and
// SIFEN_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rezonia/sifen-client/internal/model"
)

// Config holds all client configuration
type Config struct {
	Environment string
	Credential  CredentialConfig
	QR          QRConfig
	Transport   TransportConfig
	Store       StoreConfig
	Preflight   PreflightConfig
	HTTP        HTTPConfig
	Log         LogConfig
}

// CredentialConfig locates the signing credential. The passphrase is
// only ever read from configuration, never written back or logged.
type CredentialConfig struct {
	Path        string
	Passphrase  string
	OpenSSLPath string
}

// QRConfig holds the taxpayer's CSC material for QR link generation
type QRConfig struct {
	CSC   string
	CSCID int
}

// TransportConfig holds SOAP client timeouts and optional endpoint
// redirects (operation name to URL), used by tests and local proxies.
type TransportConfig struct {
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	EndpointOverride map[string]string
}

// StoreConfig holds the batch status database settings
type StoreConfig struct {
	Path     string
	PoolSize int
}

// PreflightConfig holds diagnostic artifact settings
type PreflightConfig struct {
	DiagnosticsDir string
}

// HTTPConfig holds the facade server settings
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// Load reads configuration with the following priority, highest first:
// environment variables with the SIFEN_ prefix (e.g. SIFEN_CREDENTIAL_PASSPHRASE),
// then config.toml, then built-in defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SIFEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Environment: v.GetString("environment"),
		Credential: CredentialConfig{
			Path:        v.GetString("credential.path"),
			Passphrase:  v.GetString("credential.passphrase"),
			OpenSSLPath: v.GetString("credential.openssl_path"),
		},
		QR: QRConfig{
			CSC:   v.GetString("qr.csc"),
			CSCID: v.GetInt("qr.csc_id"),
		},
		Transport: TransportConfig{
			ConnectTimeout:   v.GetDuration("transport.connect_timeout"),
			ReadTimeout:      v.GetDuration("transport.read_timeout"),
			EndpointOverride: v.GetStringMapString("transport.endpoint_override"),
		},
		Store: StoreConfig{
			Path:     v.GetString("store.path"),
			PoolSize: v.GetInt("store.pool_size"),
		},
		Preflight: PreflightConfig{
			DiagnosticsDir: v.GetString("preflight.diagnostics_dir"),
		},
		HTTP: HTTPConfig{
			Addr:         v.GetString("http.addr"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = string(model.EnvTest)
	}
	if cfg.Transport.ConnectTimeout == 0 {
		cfg.Transport.ConnectTimeout = 15 * time.Second
	}
	if cfg.Transport.ReadTimeout == 0 {
		cfg.Transport.ReadTimeout = 45 * time.Second
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "sifen-batches.db"
	}
	if cfg.Store.PoolSize == 0 {
		cfg.Store.PoolSize = 4
	}
	if cfg.Preflight.DiagnosticsDir == "" {
		cfg.Preflight.DiagnosticsDir = "sifen-diagnostics"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.QR.CSCID == 0 {
		cfg.QR.CSCID = 1
	}
}

func (c *Config) validate() error {
	if _, err := model.ParseEnvironment(c.Environment); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	if c.Store.PoolSize < 0 {
		return fmt.Errorf("config: store.pool_size cannot be negative")
	}
	if c.QR.CSCID < 0 || c.QR.CSCID > 9999 {
		return fmt.Errorf("config: qr.csc_id must be between 0 and 9999, got %d", c.QR.CSCID)
	}
	return nil
}

// Env returns the parsed environment. validate guarantees it parses.
func (c *Config) Env() model.Environment {
	env, _ := model.ParseEnvironment(c.Environment)
	return env
}
