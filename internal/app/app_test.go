package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/pkg/config"
)

func TestNewAppPaperMode(t *testing.T) {
	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.cancel() })

	assert.Len(t, a.adapters, 2, "binance and okx adapters")
	assert.Len(t, a.registry.Venues(), 2, "paper clients per venue")
	assert.NotNil(t, a.opportunities)
	assert.NotNil(t, a.riskCtrl)
	assert.NotNil(t, a.arbDetector)
}

func TestNewAppRejectsBadSymbols(t *testing.T) {
	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)
	cfg.Symbols = []string{"NOTASYMBOL"}

	_, err = New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewAppLiveModeNeedsCredentials(t *testing.T) {
	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)
	cfg.ExecMode = "live"

	_, err = New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestWarmSymbolInfoDerivesIDCaps(t *testing.T) {
	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.cancel() })

	caps, err := a.warmSymbolInfo(a.ctx)
	require.NoError(t, err)

	// Paper clients report the tightest common cap.
	for _, venue := range a.registry.Venues() {
		assert.Equal(t, 16, caps[venue])
	}
}
