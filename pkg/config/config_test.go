package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"binance", "okx"}, cfg.Venues)
	assert.Equal(t, 100*time.Millisecond, cfg.AggCadence)
	assert.Equal(t, "paper", cfg.ExecMode)
	assert.Equal(t, "msgpack", cfg.FabricCodec)
	assert.Equal(t, 1000, cfg.PoolCapacity)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("ARB_VENUES", "binance, okx ,kraken")
	t.Setenv("POOL_CAPACITY", "50")
	t.Setenv("EXEC_MODE", "live")
	t.Setenv("AGG_CADENCE", "250ms")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"binance", "okx", "kraken"}, cfg.Venues)
	assert.Equal(t, 50, cfg.PoolCapacity)
	assert.Equal(t, "live", cfg.ExecMode)
	assert.Equal(t, 250*time.Millisecond, cfg.AggCadence)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "defaults"},
		{name: "json-debug", level: "debug", format: "json"},
		{name: "console", level: "warn", format: "console"},
		{name: "bad-level", level: "chatty", wantErr: true},
		{name: "bad-format", format: "logfmt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.level)
			t.Setenv("LOG_FORMAT", tt.format)

			logger, err := NewLogger()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "single-venue",
			mutate:  func(c *Config) { c.Venues = []string{"binance"} },
			wantErr: "at least 2 venues",
		},
		{
			name:    "bad-exec-mode",
			mutate:  func(c *Config) { c.ExecMode = "shadow" },
			wantErr: "EXEC_MODE",
		},
		{
			name:    "quality-floor-out-of-range",
			mutate:  func(c *Config) { c.AggQualityFloor = 1.5 },
			wantErr: "AGG_QUALITY_FLOOR",
		},
		{
			name:    "weights-must-sum-to-one",
			mutate:  func(c *Config) { c.PoolWeightProfit = 0.9 },
			wantErr: "weights must sum",
		},
		{
			name:    "total-timeout-below-leg",
			mutate:  func(c *Config) { c.ExecTotalTimeout = time.Second; c.ExecLegTimeout = 2 * time.Second },
			wantErr: "EXEC_TOTAL_TIMEOUT",
		},
		{
			name:    "bad-codec",
			mutate:  func(c *Config) { c.FabricCodec = "protobuf" },
			wantErr: "FABRIC_CODEC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
