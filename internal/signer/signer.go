// Package signer submits signing requests against an established wallet
// session. Submissions for one chat are serialized through a FIFO queue so
// two flows (an approval and a trade) can never race on wallet ordering.
package signer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bvvvp009/avantisbot/internal/domain"
	"github.com/bvvvp009/avantisbot/internal/session"
	"github.com/bvvvp009/avantisbot/internal/walletbridge"
)

// Bridge is the subset of the wallet-bridge client the signer needs.
type Bridge interface {
	Request(ctx context.Context, chatID int64, topic, chainID string, req walletbridge.SignRequest) (string, error)
}

// Signer resolves the chat's live session and forwards eth_sendTransaction
// payloads to the bridge. It does not interpret the payload and has no side
// effects beyond the external call.
type Signer struct {
	bridge  Bridge
	store   *session.Store
	chainID string // eip155-prefixed, e.g. "eip155:8453"
	queue   *Queue
	logger  *slog.Logger
}

// New creates a Signer for the given chain id.
func New(bridge Bridge, store *session.Store, chainID string, logger *slog.Logger) *Signer {
	return &Signer{
		bridge:  bridge,
		store:   store,
		chainID: chainID,
		queue:   NewQueue(logger),
		logger:  logger.With(slog.String("component", "signer")),
	}
}

// Submit sends a transaction request through the chat's wallet session and
// returns the transaction hash. It fails with ErrSessionNotFound when the
// chat has no connected session and ErrBridgeUnavailable when the bridge
// cannot be reached. The call runs inside the chat's FIFO queue; at most one
// submission per chat is in flight at a time.
func (s *Signer) Submit(ctx context.Context, chatID int64, tx walletbridge.TxParams) (string, error) {
	sess := s.store.LookupByChat(chatID)
	if sess == nil || !sess.Connected() {
		return "", domain.ErrSessionNotFound
	}

	var txHash string
	err := s.queue.Run(ctx, chatID, func(ctx context.Context) error {
		var err error
		txHash, err = s.bridge.Request(ctx, chatID, sess.Topic(), s.chainID, walletbridge.SignRequest{
			Method: "eth_sendTransaction",
			Params: []any{tx},
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("signer: submit for chat %d: %w", chatID, err)
	}

	s.store.Touch(sess.Topic())
	s.logger.Info("transaction submitted",
		slog.Int64("chat_id", chatID),
		slog.String("tx_hash", txHash),
	)
	return txHash, nil
}
