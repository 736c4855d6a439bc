package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1_000_000, cfg.Budget.TotalTokens)
	assert.Equal(t, 0.85, cfg.Budget.BeastModeFrac)
	assert.Equal(t, 3, cfg.Agent.MaxBeastAttempts)
	assert.True(t, cfg.Agent.AllowDirectAnswer)
	assert.Equal(t, 40, cfg.Agent.MaxDiaryEntries)
}

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Model = "custom-model"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", loaded.LLM.Provider)
	assert.Equal(t, "custom-model", loaded.LLM.Model)
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Budget.TotalTokens, cfg.Budget.TotalTokens)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RESEARCH_BUDGET_TOTAL_TOKENS", "500000")
	t.Setenv("RESEARCH_LLM_MODEL", "env-model")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 500000, cfg.Budget.TotalTokens)
	assert.Equal(t, "env-model", cfg.LLM.Model)
}
