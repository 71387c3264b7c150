package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Telegram.Token = "123:abc"
	cfg.Chain.USDCAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	cfg.Chain.TradingAddress = "0x5620f55D630BFBf9b4b78E6BCFf7683D2A9F3e45"
	cfg.Chain.SpenderAddress = "0x5620f55D630BFBf9b4b78E6BCFf7683D2A9F3e45"
	cfg.Pairs = []Pair{
		{Name: "ETH/USD", Index: 1, FeedID: "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace", MaxLeverage: 50},
	}
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingToken(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Token = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram: token")
}

func TestValidateRejectsBadChainID(t *testing.T) {
	cfg := validConfig()
	cfg.Bridge.ChainID = "8453"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain_id")
}

func TestValidateRejectsDuplicatePairs(t *testing.T) {
	cfg := validConfig()
	cfg.Pairs = append(cfg.Pairs, cfg.Pairs[0])
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[bridge]
poll_interval = "3s"

[[pairs]]
name = "BTC/USD"
index = 0
feed_id = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
max_leverage = 50.0
`), 0o600))

	t.Setenv("AVBOT_TELEGRAM_TOKEN", "env-token")
	t.Setenv("AVBOT_CHAIN_CONFIRMATIONS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.Bridge.PollInterval.Duration)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, 5, cfg.Chain.Confirmations)
	// Defaults still present underneath.
	assert.Equal(t, "eip155:8453", cfg.Bridge.ChainID)
	require.Len(t, cfg.Pairs, 1)
	assert.Equal(t, "BTC/USD", cfg.Pairs[0].Name)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "shhh"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Telegram.Token)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	// Original untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
