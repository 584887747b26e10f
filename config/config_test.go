package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoLocalOverride(t *testing.T) {
	t.Setenv("FORCE_PAPER_MODE", "1")
	cfg, hard, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Trading.Mode)
	assert.Equal(t, 50000.0, cfg.Risk.MaxPortfolioValue)
	assert.Equal(t, 10, cfg.API.RateLimits.OrdersPerSecond)
	assert.Equal(t, 10000.0, hard.MaxSingleOrderValue)
	assert.True(t, cfg.IsPaperMode())
}

func TestLoadMergesLocalOverride(t *testing.T) {
	t.Setenv("FORCE_PAPER_MODE", "1")
	dir := t.TempDir()
	localPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(localPath, []byte(`
risk:
  max_position_size: 3000
api:
  rate_limits:
    orders_per_second: 4
`), 0o644))

	cfg, _, err := Load(localPath, "")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, cfg.Risk.MaxPositionSize)
	assert.Equal(t, 4, cfg.API.RateLimits.OrdersPerSecond)
	// untouched defaults survive the merge
	assert.Equal(t, 2000.0, cfg.Risk.MaxDailyLoss)
}

func TestLoadWithCustomHardLimits(t *testing.T) {
	t.Setenv("FORCE_PAPER_MODE", "1")
	dir := t.TempDir()
	hardPath := filepath.Join(dir, "hard_limits.yaml")
	require.NoError(t, os.WriteFile(hardPath, []byte(`
MAX_SINGLE_ORDER_VALUE: 20000
MAX_DAILY_ORDERS: 25
MAX_PORTFOLIO_VALUE: 80000
MAX_DAILY_LOSS_HARD: 8000
FORBIDDEN_SEGMENTS: [FNO]
FORBIDDEN_PRODUCTS: []
ALLOWED_EXCHANGES: [NSE]
`), 0o644))

	_, hard, err := Load("", hardPath)
	require.NoError(t, err)
	assert.Equal(t, 20000.0, hard.MaxSingleOrderValue)
	assert.Equal(t, []string{"FNO"}, hard.ForbiddenSegments)
}

func TestLoadRejectsSoftLimitExceedingHardLimit(t *testing.T) {
	t.Setenv("FORCE_PAPER_MODE", "1")
	dir := t.TempDir()
	localPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(localPath, []byte(`
risk:
  max_daily_loss: 999999
`), 0o644))

	_, _, err := Load(localPath, "")
	assert.Error(t, err)
}

func TestLoadRejectsLiveModeUnderForcePaperMode(t *testing.T) {
	t.Setenv("FORCE_PAPER_MODE", "1")
	dir := t.TempDir()
	localPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(localPath, []byte(`
trading:
  mode: live
`), 0o644))

	_, _, err := Load(localPath, "")
	assert.Error(t, err)
}

func TestLoadAllowsLiveModeWhenForcePaperModeDisabled(t *testing.T) {
	t.Setenv("FORCE_PAPER_MODE", "0")
	dir := t.TempDir()
	localPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(localPath, []byte(`
trading:
  mode: live
`), 0o644))

	cfg, _, err := Load(localPath, "")
	require.NoError(t, err)
	assert.False(t, cfg.IsPaperMode())
}
