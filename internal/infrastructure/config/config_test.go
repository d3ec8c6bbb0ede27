package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  allowed_origins:
    - http://localhost:5173
storage:
  database_path: /tmp/recon.db
matching:
  strict_currency: AED
  tolerant_window_days: 5
  standard_window_days: 2
journal:
  proof_marker: POA
  reference_prefix: CPMT
entities:
  - id: 1
    name: Acme
    billing_entity: Acme Ltd
    tolerant: true
  - id: 2
    name: Other
    billing_entity: Other GmbH
observability:
  logging:
    level: debug
    format: json
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/recon.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "AED", cfg.Matching.StrictCurrency)
	require.Len(t, cfg.Entities, 2)
	assert.True(t, cfg.Entities[0].Tolerant)
	assert.False(t, cfg.Entities[1].Tolerant)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_RECON_DB", "/data/expanded.db")
	path := writeConfig(t, `
storage:
  database_path: ${TEST_RECON_DB}
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "/data/expanded.db", cfg.Storage.DatabasePath)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: x.db
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "AED", cfg.Matching.StrictCurrency)
	assert.Equal(t, 5, cfg.Matching.TolerantWindowDays)
	assert.Equal(t, 2, cfg.Matching.StandardWindowDays)
	assert.Equal(t, "POA", cfg.Journal.ProofMarker)
	assert.Equal(t, "CPMT", cfg.Journal.ReferencePrefix)
	assert.Equal(t, "text", cfg.Observability.Logging.Format)
}

func TestLoadOrEnvWithPath_FallsBackToEnv(t *testing.T) {
	t.Setenv("RECONCILE_DB_PATH", "/env/fallback.db")
	t.Setenv("LOG_FORMAT", "json")

	cfg := LoadOrEnvWithPath(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Equal(t, "/env/fallback.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "json", cfg.Observability.Logging.Format)
}

func TestEntityLookup(t *testing.T) {
	cfg := &Config{Entities: []EntityConfig{
		{ID: 1, Name: "Acme", BillingEntity: "Acme Ltd"},
	}}

	e, ok := cfg.Entity(1)
	require.True(t, ok)
	assert.Equal(t, "Acme Ltd", e.BillingEntity)

	_, ok = cfg.Entity(99)
	assert.False(t, ok)
}
