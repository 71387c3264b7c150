package price

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bvvvp009/avantisbot/internal/domain"
)

// DefaultHermesWSURL is the public Hermes streaming endpoint.
const DefaultHermesWSURL = "wss://hermes.pyth.network/ws"

// Stream subscribes to Hermes price updates over WebSocket and writes each
// update into the price cache. It reconnects with backoff on disconnect.
type Stream struct {
	wsURL   string
	pairs   domain.PairTable
	cache   domain.PriceCache
	feedIDs map[string]string // feed id -> pair name
	logger  *slog.Logger
}

// NewStream builds a Stream for the configured pairs.
func NewStream(wsURL string, pairs domain.PairTable, cache domain.PriceCache, logger *slog.Logger) *Stream {
	if wsURL == "" {
		wsURL = DefaultHermesWSURL
	}
	feedIDs := make(map[string]string, len(pairs))
	for name, p := range pairs {
		feedIDs[normalizeFeedID(p.FeedID)] = name
	}
	return &Stream{
		wsURL:   wsURL,
		pairs:   pairs,
		cache:   cache,
		feedIDs: feedIDs,
		logger:  logger.With(slog.String("component", "price_stream")),
	}
}

// Run connects, subscribes, and consumes updates until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	if len(s.pairs) == 0 {
		s.logger.Info("no pairs configured, stream idle")
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("price stream disconnected, reconnecting",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// subscribeMsg is the Hermes price-feed subscription request.
type subscribeMsg struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

// streamMsg is one Hermes WebSocket message. Only price_update carries data
// we use.
type streamMsg struct {
	Type      string `json:"type"`
	PriceFeed struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Expo        int    `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"price_feed"`
}

func (s *Stream) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("price: dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	ids := make([]string, 0, len(s.pairs))
	for _, p := range s.pairs {
		ids = append(ids, strings.TrimPrefix(p.FeedID, "0x"))
	}
	if err := conn.WriteJSON(subscribeMsg{Type: "subscribe", IDs: ids}); err != nil {
		return fmt.Errorf("price: subscribe: %w", err)
	}
	s.logger.Info("price stream subscribed", slog.Int("feeds", len(ids)))

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("price: read: %w", err)
		}
		var msg streamMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("bad stream message", slog.String("error", err.Error()))
			continue
		}
		if msg.Type != "price_update" {
			continue
		}
		s.handleUpdate(ctx, msg)
	}
}

func (s *Stream) handleUpdate(ctx context.Context, msg streamMsg) {
	pair, ok := s.feedIDs[normalizeFeedID(msg.PriceFeed.ID)]
	if !ok {
		return
	}
	price, err := scalePrice(msg.PriceFeed.Price.Price, msg.PriceFeed.Price.Expo)
	if err != nil {
		s.logger.Warn("bad stream price",
			slog.String("feed_id", msg.PriceFeed.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	ts := time.Unix(msg.PriceFeed.Price.PublishTime, 0).UTC()
	if err := s.cache.SetPrice(ctx, pair, price, ts); err != nil {
		s.logger.Warn("price cache write failed",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
	}
}
