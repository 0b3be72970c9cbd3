package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "engram.db", cfg.Storage.DBPath)
	assert.Equal(t, 0.70, cfg.Curriculum.PromoteMinUnified)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  db_path: /tmp/custom.db
curriculum:
  max_cards: 5
rewrite:
  enabled: true
  provider: anthropic
logging:
  severity: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.Storage.DBPath)
	assert.Equal(t, 5, cfg.Curriculum.MaxCards)
	// Untouched keys keep their defaults.
	assert.Equal(t, 500, cfg.Curriculum.MaxRows)
	assert.True(t, cfg.Rewrite.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Rewrite.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Severity)
}

func TestEnvOverridesDBPath(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/env.db")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.DBPath)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  db_path: /tmp/file.db
`), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.DBPath)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  db_path: ""
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  db_path: engram.db
rewrite:
  provider: openai
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o644))
	_, err = LoadOrDefault(path)
	require.Error(t, err)
}
