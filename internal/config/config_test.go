// ABOUTME: Tests for configuration loading and range validation
// ABOUTME: Exercises the YAML path with temp files
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":5000"
channels: 1
codec: pcm
sink: mock
jitter:
  min_capacity: 2
  max_capacity: 12
  default_capacity: 6
  adaptation_rate: 0.2
  update_interval_ms: 250
fec:
  redundancy_pct: 30
  window_size: 15
  max_recovery_distance: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.ListenAddr)
	assert.Equal(t, 1, cfg.Channels)
	assert.Equal(t, "pcm", cfg.Codec)
	assert.Equal(t, "mock", cfg.Sink)
	assert.Equal(t, 6, cfg.Jitter.DefaultCapacity)
	assert.Equal(t, 30.0, cfg.FEC.RedundancyPct)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().StatsAddr, cfg.StatsAddr)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "listen_addr: [unclosed"))
	assert.Error(t, err)
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"wrong sample rate", func(c *Config) { c.SampleRate = 44100 }},
		{"zero channels", func(c *Config) { c.Channels = 0 }},
		{"three channels", func(c *Config) { c.Channels = 3 }},
		{"block size low", func(c *Config) { c.BlockSize = 32 }},
		{"block size high", func(c *Config) { c.BlockSize = 1024 }},
		{"unknown codec", func(c *Config) { c.Codec = "flac" }},
		{"unknown sink", func(c *Config) { c.Sink = "alsa" }},
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"jitter max too high", func(c *Config) { c.Jitter.MaxCapacity = 21 }},
		{"jitter min above max", func(c *Config) { c.Jitter.MinCapacity = 9; c.Jitter.MaxCapacity = 8; c.Jitter.DefaultCapacity = 8 }},
		{"jitter default outside", func(c *Config) { c.Jitter.DefaultCapacity = 1 }},
		{"adaptation rate high", func(c *Config) { c.Jitter.AdaptationRate = 1.5 }},
		{"zero update interval", func(c *Config) { c.Jitter.UpdateIntervalMs = 0 }},
		{"redundancy negative", func(c *Config) { c.FEC.RedundancyPct = -1 }},
		{"redundancy high", func(c *Config) { c.FEC.RedundancyPct = 51 }},
		{"window too big", func(c *Config) { c.FEC.WindowSize = 21 }},
		{"window zero", func(c *Config) { c.FEC.WindowSize = 0 }},
		{"recovery distance zero", func(c *Config) { c.FEC.MaxRecoveryDistance = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSettingsConversion(t *testing.T) {
	cfg := Default()
	cfg.Jitter.UpdateIntervalMs = 250

	jc := cfg.JitterSettings()
	assert.Equal(t, 250*time.Millisecond, jc.UpdateInterval)
	assert.Equal(t, cfg.Jitter.MinCapacity, jc.MinCapacity)

	fc := cfg.FECSettings()
	assert.Equal(t, cfg.FEC.RedundancyPct, fc.RedundancyPct)
	assert.Equal(t, cfg.FEC.WindowSize, fc.WindowSize)
}
