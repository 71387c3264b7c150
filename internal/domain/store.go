package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// SessionRecordStore persists wallet-session rows for recovery after restart.
// The live session state is owned in memory; this store is write-through.
type SessionRecordStore interface {
	Upsert(ctx context.Context, s Session) error
	GetByChat(ctx context.Context, chatID int64) (Session, error)
	ListConnected(ctx context.Context) ([]Session, error)
	UpdateStatus(ctx context.Context, chatID int64, status SessionStatus) error
	Touch(ctx context.Context, chatID int64) error
}

// TradeStore persists trade audit rows.
type TradeStore interface {
	Create(ctx context.Context, t TradeRecord) error
	UpdateStatus(ctx context.Context, chatID int64, orderID string, status TradeStatus) error
	GetByTxHash(ctx context.Context, txHash string) (TradeRecord, error)
	ListByChat(ctx context.Context, chatID int64, opts ListOpts) ([]TradeRecord, error)
	ListPending(ctx context.Context) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// FlowStateStore snapshots per-chat trade-flow progress.
type FlowStateStore interface {
	Save(ctx context.Context, state TradeFlowState) error
	Delete(ctx context.Context, chatID int64) error
}
