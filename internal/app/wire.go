package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/bvvvp009/avantisbot/internal/blob/s3"
	"github.com/bvvvp009/avantisbot/internal/bot"
	"github.com/bvvvp009/avantisbot/internal/cache/redis"
	"github.com/bvvvp009/avantisbot/internal/chain"
	"github.com/bvvvp009/avantisbot/internal/config"
	"github.com/bvvvp009/avantisbot/internal/domain"
	"github.com/bvvvp009/avantisbot/internal/monitor"
	"github.com/bvvvp009/avantisbot/internal/notify"
	"github.com/bvvvp009/avantisbot/internal/price"
	"github.com/bvvvp009/avantisbot/internal/session"
	"github.com/bvvvp009/avantisbot/internal/signer"
	"github.com/bvvvp009/avantisbot/internal/store/postgres"
	"github.com/bvvvp009/avantisbot/internal/telegram"
	"github.com/bvvvp009/avantisbot/internal/tradeflow"
	"github.com/bvvvp009/avantisbot/internal/walletbridge"
)

// Dependencies bundles every component the application runs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	SessionRecords domain.SessionRecordStore
	TradeStore     domain.TradeStore
	FlowStateStore domain.FlowStateStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter

	// Core components
	Sessions *session.Store
	Broker   *session.Broker
	Chain    *chain.Client
	Monitor  *monitor.Monitor
	Prices   *price.Service
	Stream   *price.Stream // nil unless the WS stream is enabled
	Engine   *tradeflow.Engine
	Telegram *telegram.Client
	Router   *bot.Router

	// Blob storage
	Archiver *s3blob.Archiver // nil unless S3 is enabled

	// Notifications
	Notifier *notify.Notifier
}

// pairTable converts the configured pair list into the domain lookup table.
func pairTable(pairs []config.Pair) domain.PairTable {
	table := make(domain.PairTable, len(pairs))
	for _, p := range pairs {
		table[p.Name] = domain.Pair{
			Name:        p.Name,
			Index:       p.Index,
			FeedID:      p.FeedID,
			MaxLeverage: p.MaxLeverage,
		}
	}
	return table
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.SessionRecords = postgres.NewSessionStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.FlowStateStore = postgres.NewFlowStateStore(pool)

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)

		limiter := redis.NewRateLimiter(redisClient)
		limiter.SetDefaultLimit(cfg.Telegram.RateLimit, time.Second)
		deps.RateLimiter = limiter
	}

	// --- Chain RPC ---
	chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain rpc: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	// --- Wallet bridge, sessions, signing ---
	bridge := walletbridge.NewClient(cfg.Bridge.BaseURL)

	deps.Sessions = session.NewStore(logger)
	deps.Sessions.SetTTLs(cfg.Bridge.PendingTTL.Duration, cfg.Bridge.ConnectedTTL.Duration)

	deps.Broker = session.NewBroker(bridge, deps.Sessions, deps.SessionRecords, logger)
	deps.Broker.SetPolling(cfg.Bridge.PollInterval.Duration, cfg.Bridge.PollAttempts)

	sig := signer.New(bridge, deps.Sessions, cfg.Bridge.ChainID, logger)

	// --- Transaction monitor ---
	deps.Monitor = monitor.New(chainClient, deps.TradeStore, cfg.Chain.Confirmations, logger)
	if cfg.Monitor.PollInterval.Duration > 0 {
		deps.Monitor.SetPollInterval(cfg.Monitor.PollInterval.Duration)
	}
	for kind, wait := range map[domain.RequestKind]time.Duration{
		domain.RequestApprove:     cfg.Monitor.ApproveWait.Duration,
		domain.RequestOpenTrade:   cfg.Monitor.OpenWait.Duration,
		domain.RequestCloseTrade:  cfg.Monitor.CloseWait.Duration,
		domain.RequestCancelOrder: cfg.Monitor.ApproveWait.Duration,
	} {
		if wait > 0 {
			deps.Monitor.SetMaxWait(kind, wait)
		}
	}

	// --- Prices ---
	pairs := pairTable(cfg.Pairs)
	deps.Prices = price.NewService(cfg.Price.HermesURL, pairs, deps.PriceCache, logger)
	if cfg.Price.StreamEnabled && deps.PriceCache != nil {
		deps.Stream = price.NewStream(cfg.Price.WSURL, pairs, deps.PriceCache, logger)
	}

	// --- Telegram surface and trade flow ---
	deps.Telegram = telegram.NewClient(cfg.Telegram.Token, deps.RateLimiter, logger)

	deps.Engine = tradeflow.New(
		pairs,
		deps.Prices,
		chainClient,
		deps.Sessions,
		sig,
		deps.Monitor,
		deps.TradeStore,
		deps.FlowStateStore,
		deps.Telegram,
		tradeflow.Contracts{
			USDC:    cfg.Chain.USDCAddress,
			Trading: cfg.Chain.TradingAddress,
			Spender: cfg.Chain.SpenderAddress,
		},
		logger,
	)

	deps.Router = bot.New(deps.Telegram, deps.Broker, deps.Engine, deps.TradeStore, logger)

	// --- S3 archival (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		retention := time.Duration(cfg.S3.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			postgres.NewTradeStore(pool),
			retention,
			logger,
		)
	}

	// --- Operator notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
