package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEngineConfig(t *testing.T) {
	assert.NoError(t, validateEngineConfig(DefaultEngineConfig()))

	cfg := DefaultEngineConfig()
	cfg.Workers = 0
	assert.Error(t, validateEngineConfig(cfg))

	cfg = DefaultEngineConfig()
	cfg.BatchCron = "every day"
	assert.Error(t, validateEngineConfig(cfg))

	cfg = DefaultEngineConfig()
	cfg.RoundingPlaces = 12
	assert.Error(t, validateEngineConfig(cfg))
}

func TestRushMultiplierFallsBackToOne(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.DefaultRushMultiplier = "1.25"
	assert.True(t, cfg.RushMultiplier().Equal(decimal.RequireFromString("1.25")))

	cfg.DefaultRushMultiplier = "nope"
	assert.True(t, cfg.RushMultiplier().Equal(decimal.NewFromInt(1)))

	cfg.DefaultRushMultiplier = "-2"
	assert.True(t, cfg.RushMultiplier().Equal(decimal.NewFromInt(1)))
}

func writeBillingFile(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "billing.yml"), []byte(content), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestNewEngineConfigHolderReadsFile(t *testing.T) {
	writeBillingFile(t, "billing:\n  workers: 8\n  batchCron: \"0 1 * * *\"\n  leaseTTL: 5m\n")

	holder, err := NewEngineConfigHolder()
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "0 1 * * *", cfg.BatchCron)
	assert.Equal(t, 5*time.Minute, cfg.LeaseTTL)
	assert.Equal(t, int32(2), cfg.RoundingPlaces)
}

func TestNewEngineConfigHolderKeepsDefaultsForOmittedKeys(t *testing.T) {
	writeBillingFile(t, "billing:\n  batchCron: \"0 2 * * *\"\n  roundingPlaces: 4\n")

	holder, err := NewEngineConfigHolder()
	require.NoError(t, err)

	defaults := DefaultEngineConfig()
	cfg := holder.Get()
	assert.Equal(t, "0 2 * * *", cfg.BatchCron)
	assert.Equal(t, int32(4), cfg.RoundingPlaces)
	assert.Equal(t, defaults.Workers, cfg.Workers)
	assert.Equal(t, defaults.BatchTimeout, cfg.BatchTimeout)
	assert.Equal(t, defaults.CustomerTimeout, cfg.CustomerTimeout)
	assert.Equal(t, defaults.LeaseTTL, cfg.LeaseTTL)
	assert.Equal(t, defaults.DefaultRushMultiplier, cfg.DefaultRushMultiplier)
}

func TestNewEngineConfigHolderDefaultsRoundingPlaces(t *testing.T) {
	writeBillingFile(t, "billing:\n  workers: 3\n")

	holder, err := NewEngineConfigHolder()
	require.NoError(t, err)
	assert.Equal(t, int32(2), holder.Get().RoundingPlaces)
	assert.Equal(t, 3, holder.Get().Workers)
}
