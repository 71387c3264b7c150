// Package tradeflow implements the per-chat trade parameter collection flow:
// an ordered sequence of prompts (pair, direction, size, leverage, optional
// limit price and stop-loss/take-profit) with validation at each step,
// an allowance gate before leverage, and submission through the wallet
// bridge once all fields are collected. Each chat has at most one flow;
// starting a new one discards the old (last-writer-wins).
package tradeflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bvvvp009/avantisbot/internal/chain"
	"github.com/bvvvp009/avantisbot/internal/domain"
	"github.com/bvvvp009/avantisbot/internal/walletbridge"
)

// Submitter sends a transaction through the chat's wallet session.
type Submitter interface {
	Submit(ctx context.Context, chatID int64, tx walletbridge.TxParams) (string, error)
}

// Tracker watches a submitted hash and reports its terminal outcome once.
type Tracker interface {
	Track(ctx context.Context, chatID int64, txHash string, kind domain.RequestKind, report func(domain.Outcome)) error
}

// TokenReader reads ERC-20 balance and allowance for the allowance gate.
type TokenReader interface {
	BalanceOf(ctx context.Context, token, owner string) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
}

// SessionLookup resolves the chat's live wallet session.
type SessionLookup interface {
	LookupByChat(chatID int64) *domain.Session
}

// PriceSource serves the latest oracle price for a pair.
type PriceSource interface {
	Price(ctx context.Context, pair string) (float64, error)
}

// Contracts holds the on-chain addresses the engine submits against.
type Contracts struct {
	USDC    string
	Trading string
	Spender string
}

// Engine owns all in-flight TradeFlowState, keyed by chat.
type Engine struct {
	mu    sync.Mutex
	flows map[int64]*domain.TradeFlowState
	locks map[int64]*sync.Mutex

	pairs     domain.PairTable
	prices    PriceSource
	tokens    TokenReader
	sessions  SessionLookup
	signer    Submitter
	monitor   Tracker
	trades    domain.TradeStore
	snapshots domain.FlowStateStore
	chat      domain.ChatSurface
	contracts Contracts
	logger    *slog.Logger
}

// New builds an Engine. trades and snapshots may be nil; persistence is then
// skipped.
func New(
	pairs domain.PairTable,
	prices PriceSource,
	tokens TokenReader,
	sessions SessionLookup,
	signer Submitter,
	monitor Tracker,
	trades domain.TradeStore,
	snapshots domain.FlowStateStore,
	chat domain.ChatSurface,
	contracts Contracts,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		flows:     make(map[int64]*domain.TradeFlowState),
		locks:     make(map[int64]*sync.Mutex),
		pairs:     pairs,
		prices:    prices,
		tokens:    tokens,
		sessions:  sessions,
		signer:    signer,
		monitor:   monitor,
		trades:    trades,
		snapshots: snapshots,
		chat:      chat,
		contracts: contracts,
		logger:    logger.With(slog.String("component", "tradeflow")),
	}
}

// Start begins a fresh flow for the chat, discarding any stale one. It fails
// with ErrSessionNotFound when the chat has no connected wallet.
func (e *Engine) Start(ctx context.Context, chatID int64, kind domain.OrderKind) error {
	l := e.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	sess := e.sessions.LookupByChat(chatID)
	if sess == nil || !sess.Connected() {
		return domain.ErrSessionNotFound
	}

	now := time.Now().UTC()
	state := &domain.TradeFlowState{
		ChatID:    chatID,
		Kind:      kind,
		Stage:     domain.StagePairSelection,
		StartedAt: now,
		UpdatedAt: now,
	}

	e.mu.Lock()
	e.flows[chatID] = state
	e.mu.Unlock()
	e.snapshot(ctx, state)

	e.logger.Info("trade flow started",
		slog.Int64("chat_id", chatID),
		slog.String("kind", string(kind)),
	)
	return e.promptPair(ctx, chatID)
}

// Reset discards the chat's flow, if any. Safe to call when none is active.
func (e *Engine) Reset(ctx context.Context, chatID int64) {
	e.mu.Lock()
	_, active := e.flows[chatID]
	delete(e.flows, chatID)
	e.mu.Unlock()

	if active {
		e.logger.Info("trade flow reset", slog.Int64("chat_id", chatID))
	}
	if e.snapshots != nil {
		if err := e.snapshots.Delete(ctx, chatID); err != nil {
			e.logger.Warn("flow snapshot delete failed",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Active reports whether the chat has a flow in progress.
func (e *Engine) Active(chatID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.flows[chatID]
	return ok
}

// State returns a copy of the chat's flow state for inspection.
func (e *Engine) State(chatID int64) (domain.TradeFlowState, bool) {
	l := e.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.flows[chatID]; ok {
		return *s, true
	}
	return domain.TradeFlowState{}, false
}

// lookup returns the live state pointer. Callers must hold the chat's flow
// lock; all field access on the returned state happens under it.
func (e *Engine) lookup(chatID int64) *domain.TradeFlowState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flows[chatID]
}

// chatLock returns the chat's flow lock, creating it on first use. Start,
// the input handlers, and the approval resume each hold it for their full
// body, so a chat's inputs are applied strictly one at a time. Reset never
// takes it: Reset runs inside those bodies and only unlinks the map entry.
func (e *Engine) chatLock(chatID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[chatID] = l
	}
	return l
}

// snapshot persists the current flow state. Snapshots are best-effort: a
// write failure never blocks the flow.
func (e *Engine) snapshot(ctx context.Context, state *domain.TradeFlowState) {
	if e.snapshots == nil {
		return
	}
	state.UpdatedAt = time.Now().UTC()
	if err := e.snapshots.Save(ctx, *state); err != nil {
		e.logger.Warn("flow snapshot failed",
			slog.Int64("chat_id", state.ChatID),
			slog.String("error", err.Error()),
		)
	}
}

// execute submits the collected trade and hands the hash to the monitor.
// The flow is cleared when the monitor reports the terminal outcome.
func (e *Engine) execute(ctx context.Context, state *domain.TradeFlowState) error {
	if !state.ReadyToExecute() {
		e.Reset(ctx, state.ChatID)
		return fmt.Errorf("tradeflow: execute with incomplete parameters: %w", domain.ErrInvalidInput)
	}
	sess := e.sessions.LookupByChat(state.ChatID)
	if sess == nil || !sess.Connected() {
		e.Reset(ctx, state.ChatID)
		return domain.ErrSessionNotFound
	}

	pair := e.pairs[state.Pair]
	openPrice := state.MarkPrice
	if state.Kind == domain.OrderLimit && state.LimitPrice != nil {
		openPrice = *state.LimitPrice
	}

	var sl, tp float64
	if state.StopLoss != nil {
		sl = *state.StopLoss
	}
	if state.TakeProfit != nil {
		tp = *state.TakeProfit
	}

	data, err := chain.EncodeOpenTrade(chain.OpenTradeParams{
		Trader:     sess.Address,
		PairIndex:  pair.Index,
		SizeUSD:    *state.SizeUSD,
		OpenPrice:  openPrice,
		Buy:        *state.Buy,
		Leverage:   *state.Leverage,
		TakeProfit: tp,
		StopLoss:   sl,
		Limit:      state.Kind == domain.OrderLimit,
	})
	if err != nil {
		e.Reset(ctx, state.ChatID)
		return fmt.Errorf("tradeflow: encode open trade: %w", err)
	}

	txHash, err := e.signer.Submit(ctx, state.ChatID, walletbridge.TxParams{
		From:  sess.Address,
		To:    e.contracts.Trading,
		Data:  data,
		Value: "0x0",
	})
	if err != nil {
		e.Reset(ctx, state.ChatID)
		e.send(ctx, state.ChatID, "Trade submission failed. The flow has been cancelled.")
		return fmt.Errorf("tradeflow: submit open trade: %w", err)
	}

	state.Stage = domain.StageExecute
	e.snapshot(ctx, state)

	orderID := uuid.NewString()
	if e.trades != nil {
		rec := domain.TradeRecord{
			ChatID:    state.ChatID,
			OrderID:   orderID,
			TxHash:    txHash,
			Pair:      state.Pair,
			Kind:      state.Kind,
			Buy:       *state.Buy,
			SizeUSD:   *state.SizeUSD,
			Leverage:  *state.Leverage,
			OpenPrice: openPrice,
			Status:    domain.TradePending,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := e.trades.Create(ctx, rec); err != nil {
			e.logger.Warn("trade record write failed",
				slog.Int64("chat_id", state.ChatID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.send(ctx, state.ChatID, fmt.Sprintf("Trade submitted.\nTx: %s\nWaiting for confirmations...", txHash))

	chatID := state.ChatID
	err = e.monitor.Track(ctx, chatID, txHash, domain.RequestOpenTrade, func(out domain.Outcome) {
		bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		switch out.Status {
		case domain.RequestConfirmed:
			e.send(bg, chatID, fmt.Sprintf("Trade confirmed in block %d (%d confirmations).", out.BlockNumber, out.Confirmations))
		case domain.RequestTimedOut:
			e.send(bg, chatID, "Trade confirmation timed out. Check the transaction in a block explorer.")
		default:
			e.send(bg, chatID, "Trade failed on-chain.")
		}
		e.Reset(bg, chatID)
	})
	if err != nil {
		e.logger.Warn("monitor track failed",
			slog.Int64("chat_id", chatID),
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		e.Reset(ctx, chatID)
	}
	return nil
}

// Approve submits a standalone USDC spending approval outside any flow and
// tracks it.
func (e *Engine) Approve(ctx context.Context, chatID int64, amountUSD float64) (string, error) {
	sess := e.sessions.LookupByChat(chatID)
	if sess == nil || !sess.Connected() {
		return "", domain.ErrSessionNotFound
	}
	data, err := chain.EncodeApprove(e.contracts.Spender, amountUSD)
	if err != nil {
		return "", fmt.Errorf("tradeflow: encode approve: %w", err)
	}
	txHash, err := e.signer.Submit(ctx, chatID, walletbridge.TxParams{
		From:  sess.Address,
		To:    e.contracts.USDC,
		Data:  data,
		Value: "0x0",
	})
	if err != nil {
		return "", fmt.Errorf("tradeflow: submit approve: %w", err)
	}
	e.trackSimple(ctx, chatID, txHash, domain.RequestApprove, "Approval confirmed.", "Approval confirmation timed out.", "Approval failed on-chain.")
	return txHash, nil
}

// CloseTrade submits a market close for an open position and tracks it.
func (e *Engine) CloseTrade(ctx context.Context, chatID int64, rec domain.TradeRecord) (string, error) {
	sess := e.sessions.LookupByChat(chatID)
	if sess == nil || !sess.Connected() {
		return "", domain.ErrSessionNotFound
	}
	pair := e.pairs[rec.Pair]
	data, err := chain.EncodeCloseTradeMarket(pair.Index, 0, rec.SizeUSD)
	if err != nil {
		return "", fmt.Errorf("tradeflow: encode close: %w", err)
	}
	txHash, err := e.signer.Submit(ctx, chatID, walletbridge.TxParams{
		From:  sess.Address,
		To:    e.contracts.Trading,
		Data:  data,
		Value: "0x0",
	})
	if err != nil {
		return "", fmt.Errorf("tradeflow: submit close: %w", err)
	}
	e.trackSimple(ctx, chatID, txHash, domain.RequestCloseTrade, "Position closed.", "Close confirmation timed out.", "Close failed on-chain.")
	return txHash, nil
}

// CancelOrder submits a cancellation for a pending limit order and tracks it.
func (e *Engine) CancelOrder(ctx context.Context, chatID int64, rec domain.TradeRecord) (string, error) {
	sess := e.sessions.LookupByChat(chatID)
	if sess == nil || !sess.Connected() {
		return "", domain.ErrSessionNotFound
	}
	pair := e.pairs[rec.Pair]
	data, err := chain.EncodeCancelOpenLimitOrder(pair.Index, 0)
	if err != nil {
		return "", fmt.Errorf("tradeflow: encode cancel: %w", err)
	}
	txHash, err := e.signer.Submit(ctx, chatID, walletbridge.TxParams{
		From:  sess.Address,
		To:    e.contracts.Trading,
		Data:  data,
		Value: "0x0",
	})
	if err != nil {
		return "", fmt.Errorf("tradeflow: submit cancel: %w", err)
	}
	e.trackSimple(ctx, chatID, txHash, domain.RequestCancelOrder, "Order cancelled.", "Cancel confirmation timed out.", "Cancel failed on-chain.")
	return txHash, nil
}

// trackSimple tracks a hash and relays the terminal outcome as a chat message.
func (e *Engine) trackSimple(ctx context.Context, chatID int64, txHash string, kind domain.RequestKind, okMsg, timeoutMsg, failMsg string) {
	err := e.monitor.Track(ctx, chatID, txHash, kind, func(out domain.Outcome) {
		bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		switch out.Status {
		case domain.RequestConfirmed:
			e.send(bg, chatID, okMsg)
		case domain.RequestTimedOut:
			e.send(bg, chatID, timeoutMsg)
		default:
			e.send(bg, chatID, failMsg)
		}
	})
	if err != nil {
		e.logger.Warn("monitor track failed",
			slog.Int64("chat_id", chatID),
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
	}
}

// send delivers a plain message, logging delivery failures.
func (e *Engine) send(ctx context.Context, chatID int64, text string) {
	if _, err := e.chat.Send(ctx, chatID, text); err != nil {
		e.logger.Warn("chat send failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}
