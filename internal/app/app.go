// Package app provides top-level application lifecycle management. It wires
// together the stores, caches, chain and bridge clients, the trade-flow
// engine, and the Telegram router, and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bvvvp009/avantisbot/internal/config"
	"github.com/bvvvp009/avantisbot/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, recovers persisted state, starts the worker
// goroutines, and blocks until the context is cancelled or a worker fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("pairs", len(a.cfg.Pairs)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.recover(ctx, deps)

	_ = deps.Notifier.Notify(ctx, "startup", "Bot started",
		fmt.Sprintf("%d pairs configured", len(a.cfg.Pairs)))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Router.Run(ctx)
	})

	g.Go(func() error {
		deps.Sessions.RunSweeper(ctx, a.cfg.Bridge.SweepInterval.Duration)
		return ctx.Err()
	})

	g.Go(func() error {
		deps.Monitor.RunSweeper(ctx, a.cfg.Monitor.SweepInterval.Duration)
		return ctx.Err()
	})

	g.Go(func() error {
		deps.Prices.RunRefresher(ctx, a.cfg.Price.RefreshInterval.Duration)
		return ctx.Err()
	})

	if deps.Stream != nil {
		g.Go(func() error {
			return deps.Stream.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			deps.Archiver.Run(ctx, a.cfg.S3.ArchiveInterval.Duration)
			return ctx.Err()
		})
	}

	err = g.Wait()
	bg := context.WithoutCancel(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		_ = deps.Notifier.Notify(bg, "error", "Bot stopped with error", err.Error())
	}
	_ = deps.Notifier.Notify(bg, "shutdown", "Bot stopping", "")
	return err
}

// recover reloads durable state after a restart: connected wallet sessions
// come back live, and trades still pending go back onto the monitor. Flow
// snapshots are informational only; an interrupted flow starts over.
func (a *App) recover(ctx context.Context, deps *Dependencies) {
	sessions, err := deps.SessionRecords.ListConnected(ctx)
	if err != nil {
		a.logger.Warn("session recovery failed", slog.String("error", err.Error()))
	} else {
		for _, sess := range sessions {
			deps.Broker.Restore(sess)
		}
		if len(sessions) > 0 {
			a.logger.Info("sessions restored", slog.Int("count", len(sessions)))
		}
	}

	pending, err := deps.TradeStore.ListPending(ctx)
	if err != nil {
		a.logger.Warn("pending trade recovery failed", slog.String("error", err.Error()))
		return
	}
	for _, rec := range pending {
		if rec.TxHash == "" {
			continue
		}
		chatID := rec.ChatID
		err := deps.Monitor.Track(ctx, chatID, rec.TxHash, domain.RequestOpenTrade, func(out domain.Outcome) {
			bg := context.WithoutCancel(ctx)
			switch out.Status {
			case domain.RequestConfirmed:
				_, _ = deps.Telegram.Send(bg, chatID, "Your earlier trade confirmed on-chain.")
			default:
				_, _ = deps.Telegram.Send(bg, chatID, "Your earlier trade did not confirm. Check a block explorer.")
			}
		})
		if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			a.logger.Warn("trade recovery track failed",
				slog.String("tx_hash", rec.TxHash),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(pending) > 0 {
		a.logger.Info("pending trades resumed", slog.Int("count", len(pending)))
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
