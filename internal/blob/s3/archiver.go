package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bvvvp009/avantisbot/internal/domain"
)

// TradeArchiveStore is the slice of the trade store the archiver needs:
// time-ranged reads plus deletion of rows already uploaded.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver uploads settled trade rows older than a retention window to blob
// storage as JSONL and then prunes them from the primary store. The delete
// only runs after the upload succeeded.
type Archiver struct {
	writer    domain.BlobWriter
	trades    TradeArchiveStore
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver with the given retention window.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		trades:    trades,
		retention: retention,
		logger:    logger.With(slog.String("component", "trade_archiver")),
	}
}

// ArchiveOnce uploads and prunes one batch. It returns the number of rows
// archived.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-a.retention)

	trades, err := a.trades.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list trades for archive: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range trades {
		if err := enc.Encode(t); err != nil {
			return 0, fmt.Errorf("s3blob: encode trade %s: %w", t.OrderID, err)
		}
	}

	key := fmt.Sprintf("trades/%s/trades-%s.jsonl",
		cutoff.Format("2006/01"), time.Now().UTC().Format("20060102T150405Z"))
	if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload archive %s: %w", key, err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, cutoff)
	if err != nil {
		// The upload stands; the rows will be retried (and re-uploaded)
		// next run.
		return len(trades), fmt.Errorf("s3blob: prune archived trades: %w", err)
	}

	a.logger.Info("trades archived",
		slog.Int("uploaded", len(trades)),
		slog.Int64("deleted", deleted),
		slog.String("key", key),
	)
	return len(trades), nil
}

// Run archives on the given interval until ctx is done. Failures are logged
// and retried next tick.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.ArchiveOnce(ctx); err != nil {
				a.logger.Warn("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
