package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnosis-service/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 0.3, cfg.Fusion.ConflictThreshold)
	assert.Equal(t, models.MethodRatio, cfg.Normalizer.DefaultMethod)
	assert.NotEmpty(t, cfg.Conditions)
	assert.Equal(t, models.DefaultFaultTypes(), cfg.Fusion.FaultTypes)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
redis:
  enabled: false
normalizer:
  default_method: zscore
fusion:
  conflict_threshold: 0.4
  expert_timeout: 750ms
  fault_types: [normal, cavitation]
conditions:
  - id: idle
    description: Idle running
    key_features:
      - feature: load_ratio
        min: 0
        max: 0.05
signatures:
  pump-1: [idle]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, models.MethodZScore, cfg.Normalizer.DefaultMethod)
	assert.Equal(t, 1e-9, cfg.Normalizer.Epsilon)
	assert.Equal(t, 0.4, cfg.Fusion.ConflictThreshold)
	assert.Equal(t, 0.5, cfg.Fusion.MinConfidence)
	assert.Equal(t, 750*time.Millisecond, cfg.Fusion.ExpertTimeout)
	assert.Equal(t, []string{"normal", "cavitation"}, cfg.Fusion.FaultTypes)

	require.Len(t, cfg.Conditions, 1)
	assert.Equal(t, "idle", cfg.Conditions[0].ID)
	require.Len(t, cfg.Conditions[0].KeyFeatures, 1)
	assert.Equal(t, 0.05, cfg.Conditions[0].KeyFeatures[0].Max)
	assert.Equal(t, []string{"idle"}, cfg.Signatures["pump-1"])
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9090\"\n")
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeConfig(t, `
fusion:
  conflict_threshold: 1.5
conditions:
  - id: a
  - id: a
`)
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict_threshold")
	assert.Contains(t, err.Error(), "duplicate id")
}
