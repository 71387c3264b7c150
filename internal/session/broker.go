package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bvvvp009/avantisbot/internal/domain"
	"github.com/bvvvp009/avantisbot/internal/walletbridge"
)

const (
	// DefaultPollInterval is the gap between pairing status checks.
	DefaultPollInterval = 2 * time.Second
	// DefaultPollAttempts bounds the pairing wait at roughly one minute.
	DefaultPollAttempts = 30
)

// Broker drives the pairing handshake against the wallet bridge and publishes
// the resulting status transitions into the Store. Durable session rows are
// written through so connected sessions survive a restart.
type Broker struct {
	bridge  *walletbridge.Client
	store   *Store
	records domain.SessionRecordStore
	logger  *slog.Logger

	pollInterval time.Duration
	pollAttempts int
}

// NewBroker wires a Broker. records may be nil in tests; write-through is
// then skipped.
func NewBroker(bridge *walletbridge.Client, store *Store, records domain.SessionRecordStore, logger *slog.Logger) *Broker {
	return &Broker{
		bridge:       bridge,
		store:        store,
		records:      records,
		logger:       logger.With(slog.String("component", "connection_broker")),
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
	}
}

// SetPolling overrides the status-poll cadence. Intended for tests.
func (b *Broker) SetPolling(interval time.Duration, attempts int) {
	b.pollInterval = interval
	b.pollAttempts = attempts
}

// StartPairing tears down any existing session for the chat, requests a new
// pairing from the bridge, and registers the pending session before
// returning, so a status check can land before approval completes. The
// returned URI is shown to the user; the topic is temporary.
func (b *Broker) StartPairing(ctx context.Context, chatID int64) (uri, tempTopic string, err error) {
	if prev := b.store.LookupByChat(chatID); prev != nil {
		b.teardown(ctx, chatID, prev)
	}

	res, err := b.bridge.Connect(ctx, chatID)
	if err != nil {
		return "", "", fmt.Errorf("broker: start pairing: %w", err)
	}

	b.store.Create(res.Topic, domain.Session{
		ChatID:     chatID,
		PairingURI: res.URI,
		Status:     domain.SessionPending,
	})

	b.logger.Info("pairing started",
		slog.Int64("chat_id", chatID),
		slog.String("temp_topic", res.Topic),
	)
	return res.URI, res.Topic, nil
}

// PairingOutcome is the result of waiting for wallet approval.
type PairingOutcome struct {
	Connected bool
	Address   string
	Topic     string // final topic when connected
	Err       error
}

// AwaitApproval polls the bridge until the pairing connects, fails, or the
// attempt budget runs out. On approval it resolves the temp topic in the
// Store and persists the connected session. The wait suspends between polls
// and never blocks other chats.
func (b *Broker) AwaitApproval(ctx context.Context, chatID int64, tempTopic string) PairingOutcome {
	for attempt := 0; attempt < b.pollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return PairingOutcome{Err: ctx.Err()}
			case <-time.After(b.pollInterval):
			}
		}

		status, err := b.bridge.SessionStatus(ctx, chatID, tempTopic)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// The bridge already reaped the pending pairing.
				return PairingOutcome{Err: domain.ErrConnectionTimeout}
			}
			b.logger.Warn("status poll failed",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch status.Status {
		case "connected":
			return b.finishPairing(ctx, chatID, tempTopic, status.Topic)
		case "failed":
			b.store.UpdateStatus(tempTopic, domain.SessionFailed, status.Error)
			return PairingOutcome{Err: fmt.Errorf("%w: %s", domain.ErrConnectionFailed, status.Error)}
		}
	}

	b.store.UpdateStatus(tempTopic, domain.SessionFailed, "approval timeout")
	return PairingOutcome{Err: domain.ErrConnectionTimeout}
}

// finishPairing fetches the approved session, extracts the wallet address,
// and resolves the temp topic to the final one.
func (b *Broker) finishPairing(ctx context.Context, chatID int64, tempTopic, finalTopic string) PairingOutcome {
	data, err := b.bridge.Session(ctx, chatID, finalTopic)
	if err != nil {
		return PairingOutcome{Err: fmt.Errorf("broker: fetch session: %w", err)}
	}
	address, err := data.Address()
	if err != nil {
		return PairingOutcome{Err: err}
	}

	b.store.Resolve(tempTopic, finalTopic, address)

	if b.records != nil {
		if sess := b.store.Lookup(finalTopic); sess != nil {
			if err := b.records.Upsert(ctx, *sess); err != nil {
				b.logger.Warn("session write-through failed",
					slog.Int64("chat_id", chatID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	b.logger.Info("wallet connected",
		slog.Int64("chat_id", chatID),
		slog.String("topic", finalTopic),
		slog.String("address", address),
	)
	return PairingOutcome{Connected: true, Address: address, Topic: finalTopic}
}

// Disconnect tears down the chat's current session, if any. It is the
// explicit /disconnect path; ErrSessionNotFound is returned when there is
// nothing to tear down.
func (b *Broker) Disconnect(ctx context.Context, chatID int64) error {
	sess := b.store.LookupByChat(chatID)
	if sess == nil {
		return domain.ErrSessionNotFound
	}
	b.teardown(ctx, chatID, sess)
	return nil
}

// Verify checks that the chat's session is still known to the bridge,
// refreshing activity on success. A dead session is cleared locally.
func (b *Broker) Verify(ctx context.Context, chatID int64) (*domain.Session, error) {
	sess := b.store.LookupByChat(chatID)
	if sess == nil || !sess.Connected() {
		return nil, domain.ErrSessionNotFound
	}
	if _, err := b.bridge.Session(ctx, chatID, sess.Topic()); err != nil {
		b.store.Clear(sess.Topic())
		if b.records != nil {
			_ = b.records.UpdateStatus(ctx, chatID, domain.SessionDisconnected)
		}
		return nil, domain.ErrSessionExpired
	}
	b.store.Touch(sess.Topic())
	if b.records != nil {
		_ = b.records.Touch(ctx, chatID)
	}
	return sess, nil
}

// Restore reinstates a previously connected session, used during startup
// recovery. The record is inserted directly under its final topic.
func (b *Broker) Restore(sess domain.Session) {
	if sess.FinalTopic == "" || sess.Status != domain.SessionConnected {
		return
	}
	b.store.Restore(sess)
}

// teardown disconnects at the bridge (best effort) and clears local state.
func (b *Broker) teardown(ctx context.Context, chatID int64, sess *domain.Session) {
	if err := b.bridge.Disconnect(ctx, chatID, sess.Topic()); err != nil {
		b.logger.Warn("bridge disconnect failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
	b.store.Clear(sess.Topic())
	if b.records != nil {
		if err := b.records.UpdateStatus(ctx, chatID, domain.SessionDisconnected); err != nil {
			b.logger.Warn("session status write failed",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
		}
	}
}
