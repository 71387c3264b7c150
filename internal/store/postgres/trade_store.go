package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bvvvp009/avantisbot/internal/domain"
)

// querier is the pgx surface the trade store uses, satisfied by
// *pgxpool.Pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool querier
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool querier) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `chat_id, order_id, tx_hash, pair, kind, buy, size_usd,
	leverage, open_price, status, created_at, updated_at`

func scanTrade(row pgx.Row) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	err := row.Scan(
		&t.ChatID, &t.OrderID, &t.TxHash, &t.Pair, &t.Kind, &t.Buy,
		&t.SizeUSD, &t.Leverage, &t.OpenPrice, &t.Status,
		&t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts a trade row. A duplicate (chat_id, order_id) fails with
// domain.ErrAlreadyExists.
func (s *TradeStore) Create(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			chat_id, order_id, tx_hash, pair, kind, buy,
			size_usd, leverage, open_price, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (chat_id, order_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		t.ChatID, t.OrderID, t.TxHash, t.Pair, t.Kind, t.Buy,
		t.SizeUSD, t.Leverage, t.OpenPrice, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// UpdateStatus applies a status transition to a trade row.
func (s *TradeStore) UpdateStatus(ctx context.Context, chatID int64, orderID string, status domain.TradeStatus) error {
	const query = `
		UPDATE trades
		SET status = $3, updated_at = NOW()
		WHERE chat_id = $1 AND order_id = $2`
	tag, err := s.pool.Exec(ctx, query, chatID, orderID, status)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByTxHash returns the trade row for a transaction hash.
func (s *TradeStore) GetByTxHash(ctx context.Context, txHash string) (domain.TradeRecord, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE tx_hash = $1`
	t, err := scanTrade(s.pool.QueryRow(ctx, query, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeRecord{}, domain.ErrNotFound
		}
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade by hash %s: %w", txHash, err)
	}
	return t, nil
}

// ListByChat returns a chat's trades, newest first.
func (s *TradeStore) ListByChat(ctx context.Context, chatID int64, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + tradeCols + `
		FROM trades WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, chatID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades chat %d: %w", chatID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades chat %d: %w", chatID, err)
	}
	return trades, nil
}

// ListPending returns trades still awaiting confirmation, for restart
// recovery.
func (s *TradeStore) ListPending(ctx context.Context) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE status = $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, domain.TradePending)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns settled trades created before the cutoff, oldest first.
// Used by the archiver. Pending rows are excluded regardless of age: the
// monitor may still be driving them to a terminal status.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeCols + `
		FROM trades WHERE created_at < $1 AND status <> $2
		ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, before, domain.TradePending)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	return trades, nil
}

// DeleteBefore removes settled trades created before the cutoff and returns
// how many rows went away. Pending rows are never pruned.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM trades WHERE created_at < $1 AND status <> $2`
	tag, err := s.pool.Exec(ctx, query, before, domain.TradePending)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
