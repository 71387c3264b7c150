// Package config defines the top-level configuration for the trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AVBOT_* environment variables.
type Config struct {
	Telegram Telegram `toml:"telegram"`
	Bridge   Bridge   `toml:"bridge"`
	Chain    Chain    `toml:"chain"`
	Price    Price    `toml:"price"`
	Pairs    []Pair   `toml:"pairs"`
	Monitor  Monitor  `toml:"monitor"`
	Postgres Postgres `toml:"postgres"`
	Redis    Redis    `toml:"redis"`
	S3       S3       `toml:"s3"`
	Notify   Notify   `toml:"notify"`
	LogLevel string   `toml:"log_level"`
}

// Telegram holds Bot API credentials and pacing.
type Telegram struct {
	Token        string `toml:"token"`
	RateLimit    int    `toml:"rate_limit"` // messages per second, 0 disables pacing
	AdminChatIDs []int64 `toml:"admin_chat_ids"`
}

// Bridge holds wallet-bridge connection and session-lifecycle parameters.
type Bridge struct {
	BaseURL       string   `toml:"base_url"`
	ChainID       string   `toml:"chain_id"` // CAIP-2, e.g. "eip155:8453"
	PendingTTL    duration `toml:"pending_ttl"`
	ConnectedTTL  duration `toml:"connected_ttl"`
	PollInterval  duration `toml:"poll_interval"`
	PollAttempts  int      `toml:"poll_attempts"`
	SweepInterval duration `toml:"sweep_interval"`
}

// Chain holds RPC and contract addresses.
type Chain struct {
	RPCURL         string `toml:"rpc_url"`
	Confirmations  int    `toml:"confirmations"`
	USDCAddress    string `toml:"usdc_address"`
	TradingAddress string `toml:"trading_address"`
	SpenderAddress string `toml:"spender_address"`
}

// Price holds Pyth Hermes endpoints and refresh cadence.
type Price struct {
	HermesURL       string   `toml:"hermes_url"`
	WSURL           string   `toml:"ws_url"`
	StreamEnabled   bool     `toml:"stream_enabled"`
	RefreshInterval duration `toml:"refresh_interval"`
}

// Pair is one tradable pair entry.
type Pair struct {
	Name        string  `toml:"name"`
	Index       int     `toml:"index"`
	FeedID      string  `toml:"feed_id"`
	MaxLeverage float64 `toml:"max_leverage"`
}

// Monitor holds transaction-confirmation polling parameters.
type Monitor struct {
	PollInterval  duration `toml:"poll_interval"`
	ApproveWait   duration `toml:"approve_wait"`
	OpenWait      duration `toml:"open_wait"`
	CloseWait     duration `toml:"close_wait"`
	SweepInterval duration `toml:"sweep_interval"`
}

// Postgres holds PostgreSQL connection parameters.
type Postgres struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Redis holds Redis connection parameters.
type Redis struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3 holds S3-compatible object storage parameters for trade archival.
type S3 struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	RetentionDays   int      `toml:"retention_days"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// Notify holds operator notification channel credentials.
type Notify struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration a TOML file is merged on top
// of.
func Defaults() Config {
	return Config{
		Telegram: Telegram{
			RateLimit: 25,
		},
		Bridge: Bridge{
			BaseURL:       "http://localhost:3000",
			ChainID:       "eip155:8453",
			PendingTTL:    duration{60 * time.Second},
			ConnectedTTL:  duration{24 * time.Hour},
			PollInterval:  duration{2 * time.Second},
			PollAttempts:  30,
			SweepInterval: duration{time.Minute},
		},
		Chain: Chain{
			RPCURL:        "https://mainnet.base.org",
			Confirmations: 3,
		},
		Price: Price{
			HermesURL:       "https://hermes.pyth.network",
			WSURL:           "wss://hermes.pyth.network/ws",
			StreamEnabled:   false,
			RefreshInterval: duration{15 * time.Second},
		},
		Monitor: Monitor{
			PollInterval:  duration{5 * time.Second},
			ApproveWait:   duration{2 * time.Minute},
			OpenWait:      duration{10 * time.Minute},
			CloseWait:     duration{5 * time.Minute},
			SweepInterval: duration{10 * time.Minute},
		},
		Postgres: Postgres{
			Host:          "localhost",
			Port:          5432,
			Database:      "avantisbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: Redis{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "avantisbot-data",
			ForcePathStyle:  true,
			RetentionDays:   90,
			ArchiveInterval: duration{24 * time.Hour},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for inconsistencies and returns a single
// error naming every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Telegram.Token == "" {
		errs = append(errs, "telegram: token must not be empty")
	}

	if c.Bridge.BaseURL == "" {
		errs = append(errs, "bridge: base_url must not be empty")
	}
	if !strings.HasPrefix(c.Bridge.ChainID, "eip155:") {
		errs = append(errs, fmt.Sprintf("bridge: chain_id %q must be CAIP-2 (eip155:<id>)", c.Bridge.ChainID))
	}
	if c.Bridge.PendingTTL.Duration <= 0 {
		errs = append(errs, "bridge: pending_ttl must be positive")
	}
	if c.Bridge.ConnectedTTL.Duration <= 0 {
		errs = append(errs, "bridge: connected_ttl must be positive")
	}
	if c.Bridge.PollAttempts <= 0 {
		errs = append(errs, "bridge: poll_attempts must be positive")
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.Confirmations <= 0 {
		errs = append(errs, "chain: confirmations must be positive")
	}
	for _, field := range []struct {
		name, value string
	}{
		{"usdc_address", c.Chain.USDCAddress},
		{"trading_address", c.Chain.TradingAddress},
		{"spender_address", c.Chain.SpenderAddress},
	} {
		if !strings.HasPrefix(field.value, "0x") || len(field.value) != 42 {
			errs = append(errs, fmt.Sprintf("chain: %s %q is not a hex address", field.name, field.value))
		}
	}

	if len(c.Pairs) == 0 {
		errs = append(errs, "pairs: at least one pair must be configured")
	}
	seen := make(map[string]bool, len(c.Pairs))
	for i, p := range c.Pairs {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("pairs[%d]: name must not be empty", i))
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("pairs[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		if p.FeedID == "" {
			errs = append(errs, fmt.Sprintf("pairs[%d]: feed_id must not be empty", i))
		}
		if p.MaxLeverage <= 0 {
			errs = append(errs, fmt.Sprintf("pairs[%d]: max_leverage must be positive", i))
		}
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port %d out of range", c.Postgres.Port))
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays <= 0 {
			errs = append(errs, "s3: retention_days must be positive when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
