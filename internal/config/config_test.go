package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoEnvFileAndNoVars(t *testing.T) {
	clearTacdEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.env"))
	require.NoError(t, err)
	assert.Equal(t, Defaults.StateFile, cfg.StateFile)
	assert.Equal(t, Defaults.SampleFrequency, cfg.SampleFrequency)
	assert.Equal(t, Defaults.HTTPAddr, cfg.HTTPAddr)
}

func TestLoadOverridesFromEnvVars(t *testing.T) {
	clearTacdEnv(t)
	t.Setenv("TACD_STATE_FILE", "/tmp/custom-state.json")
	t.Setenv("TACD_SAMPLE_FREQUENCY", "2048")
	t.Setenv("TACD_HTTP_ADDR", ":9090")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.env"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-state.json", cfg.StateFile)
	assert.Equal(t, 2048, cfg.SampleFrequency)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
}

func TestLoadIgnoresMalformedIntegerOverride(t *testing.T) {
	clearTacdEnv(t)
	t.Setenv("TACD_SAMPLE_FREQUENCY", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.env"))
	require.NoError(t, err)
	assert.Equal(t, Defaults.SampleFrequency, cfg.SampleFrequency)
}

func clearTacdEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TACD_STATE_FILE", "TACD_SAMPLE_FREQUENCY", "TACD_RT_PRIORITY",
		"TACD_HW_GENERATION", "TACD_HTTP_ADDR", "TACD_USER", "TACD_GROUP",
	} {
		t.Setenv(k, "")
	}
}
