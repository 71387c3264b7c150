package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bvvvp009/avantisbot/internal/domain"
)

// FlowStateStore implements domain.FlowStateStore using PostgreSQL. One
// snapshot row per chat; each save replaces the previous one.
type FlowStateStore struct {
	pool *pgxpool.Pool
}

// NewFlowStateStore creates a FlowStateStore backed by the given pool.
func NewFlowStateStore(pool *pgxpool.Pool) *FlowStateStore {
	return &FlowStateStore{pool: pool}
}

// Save upserts the chat's flow snapshot.
func (s *FlowStateStore) Save(ctx context.Context, state domain.TradeFlowState) error {
	const query = `
		INSERT INTO flow_states (
			chat_id, kind, stage, pair, buy, size_usd, leverage,
			limit_price, stop_loss, take_profit, mark_price,
			started_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (chat_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			stage = EXCLUDED.stage,
			pair = EXCLUDED.pair,
			buy = EXCLUDED.buy,
			size_usd = EXCLUDED.size_usd,
			leverage = EXCLUDED.leverage,
			limit_price = EXCLUDED.limit_price,
			stop_loss = EXCLUDED.stop_loss,
			take_profit = EXCLUDED.take_profit,
			mark_price = EXCLUDED.mark_price,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		state.ChatID, state.Kind, state.Stage.String(), state.Pair,
		state.Buy, state.SizeUSD, state.Leverage, state.LimitPrice,
		state.StopLoss, state.TakeProfit, state.MarkPrice,
		state.StartedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save flow state chat %d: %w", state.ChatID, err)
	}
	return nil
}

// Delete removes the chat's flow snapshot. Missing rows are not an error.
func (s *FlowStateStore) Delete(ctx context.Context, chatID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM flow_states WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("postgres: delete flow state chat %d: %w", chatID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.FlowStateStore = (*FlowStateStore)(nil)
