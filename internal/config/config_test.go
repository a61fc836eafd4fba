package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 6, cfg.Build.ComponentConcurrency)
	assert.Equal(t, 12, cfg.Build.ValidationConcurrency)
	assert.Equal(t, 0.8, cfg.Build.AcceptanceThreshold)
	assert.True(t, cfg.Build.AutoFix)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
}

func TestTurnBudgetSplit(t *testing.T) {
	b := BuildConfig{MaxTurns: 80}
	assert.Equal(t, 40, b.ComponentTurns())
	assert.Equal(t, 20, b.ValidationTurns())

	// Tiny budgets still give every role at least one turn.
	b = BuildConfig{MaxTurns: 1}
	assert.Equal(t, 1, b.ComponentTurns())
	assert.Equal(t, 1, b.ValidationTurns())
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
build:
  component_concurrency: 4
  validation_concurrency: 9
  max_turns: 60
  acceptance_threshold: 0.9
agent:
  model: claude-3-5-haiku-20241022
watch:
  debounce: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Build.ComponentConcurrency)
	assert.Equal(t, 9, cfg.Build.ValidationConcurrency)
	assert.Equal(t, 60, cfg.Build.MaxTurns)
	assert.Equal(t, 0.9, cfg.Build.AcceptanceThreshold)
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.Agent.Model)
	assert.Equal(t, 5*time.Second, cfg.Watch.Debounce)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
build:
  component_concurrency: 4
`)
	t.Setenv("MEMBANK_BUILD_COMPONENT_CONCURRENCY", "2")
	t.Setenv("MEMBANK_BUILD_VALIDATION_CONCURRENCY", "20")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Build.ComponentConcurrency)
	assert.Equal(t, 20, cfg.Build.ValidationConcurrency)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Build.ComponentConcurrency)
}

func TestLoadRejectsWorldReadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build:\n  max_turns: 10\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadAPIKeyFallsBackToAnthropicEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Agent.APIKey)
}

func TestValidateRejectsEqualConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Build.ValidationConcurrency = cfg.Build.ComponentConcurrency
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly greater")
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := Default()
	cfg.Build.AcceptanceThreshold = 1.3
	require.Error(t, cfg.Validate())
}
