package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powertraderai/powertrader/pkg/models"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, models.RegionGlobal, cfg.Region)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8642, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.InDelta(t, 0.02, cfg.Risk.MaxDailyLoss, 1e-9)
	assert.Equal(t, 5, cfg.Risk.MaxConsecutiveLosses)
}

func TestLoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
region: eu
primary_exchange: kraken
exchanges:
  - name: kraken
    enabled: true
    priority: 1
  - name: binance
    enabled: true
    priority: 2
server:
  port: 9000
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.RegionEU, cfg.Region)
	assert.Equal(t, "kraken", cfg.PrimaryExchange)
	assert.Equal(t, 9000, cfg.Server.Port)
	require.Len(t, cfg.Exchanges, 2)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default(models.RegionEU)

	cfg.Region = "MARS"
	assert.Error(t, cfg.Validate())
	cfg.Region = models.RegionEU

	cfg.Storage.Driver = "oracle"
	assert.Error(t, cfg.Validate())
	cfg.Storage.Driver = "sqlite"

	cfg.PrimaryExchange = "nonexistent"
	assert.Error(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default(models.RegionUK)
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.RegionUK, loaded.Region)
	assert.Equal(t, cfg.PrimaryExchange, loaded.PrimaryExchange)
	assert.Equal(t, len(cfg.Exchanges), len(loaded.Exchanges))
}

func TestEnabledExchangesSortedByPriority(t *testing.T) {
	cfg := &Config{Exchanges: []ExchangeConfig{
		{Name: "c", Enabled: true, Priority: 3},
		{Name: "a", Enabled: true, Priority: 1},
		{Name: "off", Enabled: false, Priority: 0},
		{Name: "b", Enabled: true, Priority: 2},
	}}

	enabled := cfg.EnabledExchanges()
	require.Len(t, enabled, 3)
	assert.Equal(t, "a", enabled[0].Name)
	assert.Equal(t, "b", enabled[1].Name)
	assert.Equal(t, "c", enabled[2].Name)
}

func TestRegionDefaults(t *testing.T) {
	us := Default(models.RegionUS)
	assert.Empty(t, us.EnabledExchanges(), "US starts with no venues enabled")
	assert.Empty(t, us.PrimaryExchange)

	eu := Default("eu")
	assert.Equal(t, "kraken", eu.PrimaryExchange)
	assert.NotEmpty(t, eu.EnabledExchanges())

	global := Default("somewhere-else")
	assert.Equal(t, models.RegionGlobal, global.Region)
	assert.Equal(t, "binance", global.PrimaryExchange)

	for _, cfg := range []*Config{us, eu, global} {
		assert.NoError(t, cfg.Validate())
	}
}
