package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Provider, cfg.Provider)
	assert.Len(t, cfg.Passes, 2)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "armada.yaml")
	content := `
provider: openai
model: gpt-4o
passes:
  - name: only
    agents: [llm-review]
    required: true
    estimatedUsd: 0.1
budget:
  maxUsd: 0.5
  maxTokens: 1000
gate:
  enabled: true
  failOn: warning
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Model)
	require.Len(t, cfg.Passes, 1)
	assert.Equal(t, "only", cfg.Passes[0].Name)
	assert.True(t, cfg.Passes[0].Required)
	assert.True(t, cfg.Passes[0].IsEnabled(), "enabled defaults to true")
	assert.Equal(t, 0.5, cfg.Budget.MaxUSD)
	assert.Equal(t, "warning", cfg.Gate.FailOn)
	// Unset sections keep defaults.
	assert.Equal(t, Default().Output.MaxComments, cfg.Output.MaxComments)
}

func TestLoad_ExplicitlyDisabledPass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "armada.yaml")
	content := `
passes:
  - name: off
    agents: [pattern-scan]
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Passes[0].IsEnabled())
}

func TestLoad_MalformedYAMLIsValidationError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "armada.yaml")
	require.NoError(t, os.WriteFile(path, []byte("passes: [not: closed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestValidate_RejectsBadSchema(t *testing.T) {
	cfg := Default()
	cfg.Gate.FailOn = "catastrophic"
	err := Validate(cfg)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	cfg = Default()
	cfg.Passes = nil
	assert.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Passes[0].Agents = nil
	assert.Error(t, Validate(cfg))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ARMADA_MODEL", "gpt-4o")
	t.Setenv("ARMADA_FAIL_ON", "info")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "info", cfg.Gate.FailOn)
}

func TestFingerprint_StableAndSensitive(t *testing.T) {
	a := Default()
	b := Default()
	assert.Equal(t, Fingerprint(a), Fingerprint(b), "identical configs share a fingerprint")

	b.Budget.MaxUSD = 99
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b), "changed config changes the fingerprint")
}
