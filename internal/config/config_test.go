package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/sifen-client/internal/config"
	"github.com/rezonia/sifen-client/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, model.EnvTest, cfg.Env())
	assert.Equal(t, 15*time.Second, cfg.Transport.ConnectTimeout)
	assert.Equal(t, 45*time.Second, cfg.Transport.ReadTimeout)
	assert.Equal(t, "sifen-batches.db", cfg.Store.Path)
	assert.Equal(t, 4, cfg.Store.PoolSize)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1, cfg.QR.CSCID)
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	toml := `
environment = "prod"

[credential]
path = "/etc/sifen/issuer.p12"

[qr]
csc = "ABCD1234ABCD1234ABCD1234ABCD1234"
csc_id = 2

[transport]
connect_timeout = "5s"
read_timeout = "30s"

[store]
path = "/var/lib/sifen/batches.db"

[log]
level = "debug"
format = "json"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o600))

	cfg, err := config.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, model.EnvProd, cfg.Env())
	assert.Equal(t, "/etc/sifen/issuer.p12", cfg.Credential.Path)
	assert.Equal(t, 2, cfg.QR.CSCID)
	assert.Equal(t, 5*time.Second, cfg.Transport.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Transport.ReadTimeout)
	assert.Equal(t, "/var/lib/sifen/batches.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("SIFEN_ENVIRONMENT", "prod")
	t.Setenv("SIFEN_CREDENTIAL_PASSPHRASE", "hunter2")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, model.EnvProd, cfg.Env())
	assert.Equal(t, "hunter2", cfg.Credential.Passphrase)
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("SIFEN_ENVIRONMENT", "staging")

	_, err := config.Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoadRejectsOutOfRangeCSCID(t *testing.T) {
	t.Setenv("SIFEN_QR_CSC_ID", "10000")

	_, err := config.Load(t.TempDir())
	assert.Error(t, err)
}
