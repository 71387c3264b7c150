// Package monitor tracks submitted transactions until they are confirmed,
// time out, or fail. Each tracked hash produces exactly one terminal outcome,
// no matter how polls and timeouts interleave.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bvvvp009/avantisbot/internal/chain"
	"github.com/bvvvp009/avantisbot/internal/domain"
)

const (
	// DefaultPollInterval is the gap between receipt polls.
	DefaultPollInterval = 5 * time.Second
	// DefaultConfirmations is the reorg-safety margin required before a
	// transaction is declared confirmed. One inclusion is not enough.
	DefaultConfirmations = 3
	// DefaultPurgeHorizon is how long finished or abandoned entries are kept
	// before the sweep reclaims them.
	DefaultPurgeHorizon = 30 * time.Minute
)

// defaultWaits bounds how long each request kind is polled before being
// declared timed out. L2 inclusion is fast; propagation to the RPC node is
// not always.
var defaultWaits = map[domain.RequestKind]time.Duration{
	domain.RequestApprove:     2 * time.Minute,
	domain.RequestOpenTrade:   10 * time.Minute,
	domain.RequestCloseTrade:  5 * time.Minute,
	domain.RequestCancelOrder: 2 * time.Minute,
}

// ReportFunc receives the single terminal outcome for a tracked hash.
type ReportFunc = func(domain.Outcome)

// Monitor polls the chain for receipts and counts confirmations.
type Monitor struct {
	chain  chain.Reader
	trades domain.TradeStore
	logger *slog.Logger

	mu       sync.Mutex
	requests map[string]*tracked

	interval      time.Duration
	confirmations uint64
	waits         map[domain.RequestKind]time.Duration
	purgeHorizon  time.Duration
}

type tracked struct {
	req      domain.PendingRequest
	terminal bool
	cancel   context.CancelFunc
}

// New creates a Monitor. trades may be nil; trade write-through is then
// skipped. confirmations of zero selects the default threshold.
func New(reader chain.Reader, trades domain.TradeStore, confirmations int, logger *slog.Logger) *Monitor {
	threshold := uint64(DefaultConfirmations)
	if confirmations > 0 {
		threshold = uint64(confirmations)
	}
	return &Monitor{
		chain:         reader,
		trades:        trades,
		logger:        logger.With(slog.String("component", "tx_monitor")),
		requests:      make(map[string]*tracked),
		interval:      DefaultPollInterval,
		confirmations: threshold,
		waits:         defaultWaits,
		purgeHorizon:  DefaultPurgeHorizon,
	}
}

// SetPollInterval overrides the poll cadence. Intended for tests.
func (m *Monitor) SetPollInterval(d time.Duration) {
	m.interval = d
}

// SetMaxWait overrides the timeout budget for one request kind.
func (m *Monitor) SetMaxWait(kind domain.RequestKind, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waits := make(map[domain.RequestKind]time.Duration, len(m.waits))
	for k, v := range m.waits {
		waits[k] = v
	}
	waits[kind] = d
	m.waits = waits
}

// Track registers a pending request and starts polling in the background.
// A hash already tracked (for any chat) is rejected: a transaction hash
// belongs to exactly one chat.
func (m *Monitor) Track(ctx context.Context, chatID int64, txHash string, kind domain.RequestKind, report ReportFunc) error {
	m.mu.Lock()
	if _, exists := m.requests[txHash]; exists {
		m.mu.Unlock()
		return domain.ErrAlreadyExists
	}

	pollCtx, cancel := context.WithCancel(ctx)
	entry := &tracked{
		req: domain.PendingRequest{
			TxHash:      txHash,
			ChatID:      chatID,
			Kind:        kind,
			Status:      domain.RequestPending,
			SubmittedAt: time.Now().UTC(),
		},
		cancel: cancel,
	}
	m.requests[txHash] = entry
	maxWait := m.waits[kind]
	m.mu.Unlock()

	if maxWait <= 0 {
		maxWait = defaultWaits[domain.RequestOpenTrade]
	}

	go m.poll(pollCtx, entry, maxWait, report)
	return nil
}

// Status returns the tracked request for a hash, if known.
func (m *Monitor) Status(txHash string) (domain.PendingRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.requests[txHash]; ok {
		return e.req, true
	}
	return domain.PendingRequest{}, false
}

// poll drives one request to its terminal state. RPC errors are logged and
// retried next tick; only the wait budget is a hard stop.
func (m *Monitor) poll(ctx context.Context, entry *tracked, maxWait time.Duration, report ReportFunc) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()

	log := m.logger.With(
		slog.String("tx_hash", entry.req.TxHash),
		slog.Int64("chat_id", entry.req.ChatID),
		slog.String("kind", string(entry.req.Kind)),
	)

	for {
		select {
		case <-ctx.Done():
			// Cancellation is not a verdict on the transaction. No outcome
			// is reported and no status is written; the request row stays
			// pending so startup recovery can pick tracking back up.
			log.Info("tracking stopped", slog.String("reason", ctx.Err().Error()))
			return

		case <-deadline.C:
			log.Warn("confirmation wait exhausted")
			m.finish(ctx, entry, domain.Outcome{
				TxHash: entry.req.TxHash,
				ChatID: entry.req.ChatID,
				Kind:   entry.req.Kind,
				Status: domain.RequestTimedOut,
				Err:    domain.ErrConfirmationTimeout,
			}, report)
			return

		case <-ticker.C:
			done := m.checkOnce(ctx, entry, log, report)
			if done {
				return
			}
		}
	}
}

// checkOnce performs a single receipt poll. It returns true when a terminal
// outcome was reported.
func (m *Monitor) checkOnce(ctx context.Context, entry *tracked, log *slog.Logger, report ReportFunc) bool {
	receipt, err := m.chain.TransactionReceipt(ctx, entry.req.TxHash)
	if err != nil {
		log.Warn("receipt poll failed", slog.String("error", err.Error()))
		return false
	}
	if receipt == nil {
		return false
	}

	if receipt.Status == types.ReceiptStatusFailed {
		log.Warn("transaction reverted", slog.Uint64("block", receipt.BlockNumber.Uint64()))
		m.finish(ctx, entry, domain.Outcome{
			TxHash:      entry.req.TxHash,
			ChatID:      entry.req.ChatID,
			Kind:        entry.req.Kind,
			Status:      domain.RequestError,
			BlockNumber: receipt.BlockNumber.Uint64(),
			Err:         errors.New("transaction reverted"),
		}, report)
		return true
	}

	head, err := m.chain.BlockNumber(ctx)
	if err != nil {
		log.Warn("block number poll failed", slog.String("error", err.Error()))
		return false
	}

	included := receipt.BlockNumber.Uint64()
	var confs uint64
	if head >= included {
		confs = head - included
	}
	if confs < m.confirmations {
		log.Debug("awaiting confirmations",
			slog.Uint64("have", confs),
			slog.Uint64("want", m.confirmations),
		)
		return false
	}

	m.finish(ctx, entry, domain.Outcome{
		TxHash:        entry.req.TxHash,
		ChatID:        entry.req.ChatID,
		Kind:          entry.req.Kind,
		Status:        domain.RequestConfirmed,
		BlockNumber:   included,
		Confirmations: confs,
	}, report)
	return true
}

// finish marks the entry terminal and delivers the outcome. The terminal
// flag is flipped under the lock so a late poll and a timeout racing each
// other report once between them.
func (m *Monitor) finish(ctx context.Context, entry *tracked, out domain.Outcome, report ReportFunc) {
	m.mu.Lock()
	if entry.terminal {
		m.mu.Unlock()
		return
	}
	entry.terminal = true
	entry.req.Status = out.Status
	entry.cancel()
	m.mu.Unlock()

	m.writeThrough(ctx, out)
	if report != nil {
		report(out)
	}
}

// writeThrough records the terminal status on the trade row for the hash,
// when one exists. Approvals and cancels have no trade row; that is fine.
func (m *Monitor) writeThrough(ctx context.Context, out domain.Outcome) {
	if m.trades == nil {
		return
	}
	rec, err := m.trades.GetByTxHash(ctx, out.TxHash)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("trade lookup failed",
				slog.String("tx_hash", out.TxHash),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	status := domain.TradeFailed
	if out.Status == domain.RequestConfirmed {
		status = domain.TradeConfirmed
	}
	if err := m.trades.UpdateStatus(ctx, rec.ChatID, rec.OrderID, status); err != nil {
		m.logger.Warn("trade status write failed",
			slog.String("tx_hash", out.TxHash),
			slog.String("error", err.Error()),
		)
	}
}

// Sweep drops entries older than the purge horizon regardless of status and
// returns how many were removed. Pending entries past the horizon have long
// since reported a timeout.
func (m *Monitor) Sweep() int {
	cutoff := time.Now().UTC().Add(-m.purgeHorizon)

	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int
	for hash, entry := range m.requests {
		if entry.req.SubmittedAt.Before(cutoff) {
			entry.cancel()
			delete(m.requests, hash)
			purged++
		}
	}
	return purged
}

// RunSweeper runs Sweep on the given interval until ctx is done.
func (m *Monitor) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("sweep purged requests", slog.Int("count", n))
			}
		}
	}
}
