package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AVBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AVBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Telegram.Token, "AVBOT_TELEGRAM_TOKEN")
	setInt(&cfg.Telegram.RateLimit, "AVBOT_TELEGRAM_RATE_LIMIT")

	setStr(&cfg.Bridge.BaseURL, "AVBOT_BRIDGE_BASE_URL")
	setStr(&cfg.Bridge.ChainID, "AVBOT_BRIDGE_CHAIN_ID")
	setDuration(&cfg.Bridge.PendingTTL, "AVBOT_BRIDGE_PENDING_TTL")
	setDuration(&cfg.Bridge.ConnectedTTL, "AVBOT_BRIDGE_CONNECTED_TTL")
	setDuration(&cfg.Bridge.PollInterval, "AVBOT_BRIDGE_POLL_INTERVAL")
	setInt(&cfg.Bridge.PollAttempts, "AVBOT_BRIDGE_POLL_ATTEMPTS")

	setStr(&cfg.Chain.RPCURL, "AVBOT_CHAIN_RPC_URL")
	setInt(&cfg.Chain.Confirmations, "AVBOT_CHAIN_CONFIRMATIONS")
	setStr(&cfg.Chain.USDCAddress, "AVBOT_CHAIN_USDC_ADDRESS")
	setStr(&cfg.Chain.TradingAddress, "AVBOT_CHAIN_TRADING_ADDRESS")
	setStr(&cfg.Chain.SpenderAddress, "AVBOT_CHAIN_SPENDER_ADDRESS")

	setStr(&cfg.Price.HermesURL, "AVBOT_PRICE_HERMES_URL")
	setStr(&cfg.Price.WSURL, "AVBOT_PRICE_WS_URL")
	setBool(&cfg.Price.StreamEnabled, "AVBOT_PRICE_STREAM_ENABLED")
	setDuration(&cfg.Price.RefreshInterval, "AVBOT_PRICE_REFRESH_INTERVAL")

	setStr(&cfg.Postgres.DSN, "AVBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "AVBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AVBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AVBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AVBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AVBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AVBOT_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "AVBOT_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "AVBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AVBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AVBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AVBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "AVBOT_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "AVBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AVBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AVBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "AVBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AVBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AVBOT_S3_SECRET_KEY")

	setStr(&cfg.Notify.TelegramToken, "AVBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AVBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AVBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AVBOT_NOTIFY_EVENTS")

	setStr(&cfg.LogLevel, "AVBOT_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
