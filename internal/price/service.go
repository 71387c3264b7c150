// Package price serves oracle prices for the configured pairs from the Pyth
// Hermes API, with a Redis-backed cache in front and a WebSocket stream
// keeping the cache warm.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bvvvp009/avantisbot/internal/domain"
)

// DefaultHermesURL is the public Pyth Hermes endpoint.
const DefaultHermesURL = "https://hermes.pyth.network"

// maxStaleness is how old a cached price may be before a fresh fetch is
// forced.
const maxStaleness = 30 * time.Second

// Service resolves pair prices: cache first, Hermes on miss or staleness.
type Service struct {
	baseURL string
	hc      *http.Client
	pairs   domain.PairTable
	cache   domain.PriceCache
	feedIDs map[string]string // feed id -> pair name
	logger  *slog.Logger
}

// NewService builds a price Service. cache may be nil; every read then goes
// to Hermes.
func NewService(baseURL string, pairs domain.PairTable, cache domain.PriceCache, logger *slog.Logger) *Service {
	if baseURL == "" {
		baseURL = DefaultHermesURL
	}
	feedIDs := make(map[string]string, len(pairs))
	for name, p := range pairs {
		feedIDs[normalizeFeedID(p.FeedID)] = name
	}
	return &Service{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 10 * time.Second},
		pairs:   pairs,
		cache:   cache,
		feedIDs: feedIDs,
		logger:  logger.With(slog.String("component", "price_service")),
	}
}

// Price returns the latest price for a pair. Cached values within the
// staleness bound are served directly.
func (s *Service) Price(ctx context.Context, pair string) (float64, error) {
	p, ok := s.pairs[pair]
	if !ok {
		return 0, fmt.Errorf("price: unknown pair %q: %w", pair, domain.ErrNotFound)
	}

	if s.cache != nil {
		price, ts, err := s.cache.GetPrice(ctx, pair)
		if err == nil && time.Since(ts) < maxStaleness {
			return price, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("price cache read failed",
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
		}
	}

	prices, err := s.fetchLatest(ctx, []string{p.FeedID})
	if err != nil {
		return 0, err
	}
	price, ok := prices[pair]
	if !ok {
		return 0, fmt.Errorf("price: no update for %q: %w", pair, domain.ErrNotFound)
	}
	s.store(ctx, pair, price)
	return price, nil
}

// RefreshAll fetches every configured feed once and stores the results.
func (s *Service) RefreshAll(ctx context.Context) error {
	ids := make([]string, 0, len(s.pairs))
	for _, p := range s.pairs {
		ids = append(ids, p.FeedID)
	}
	prices, err := s.fetchLatest(ctx, ids)
	if err != nil {
		return err
	}
	for pair, price := range prices {
		s.store(ctx, pair, price)
	}
	return nil
}

// RunRefresher refreshes all feeds on the given interval until ctx is done.
// Fetch failures are logged and retried next tick.
func (s *Service) RunRefresher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshAll(ctx); err != nil {
				s.logger.Warn("price refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// hermesResponse is the shape of /v2/updates/price/latest.
type hermesResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Expo        int    `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// fetchLatest queries Hermes for the given feed ids and returns prices keyed
// by pair name.
func (s *Service) fetchLatest(ctx context.Context, feedIDs []string) (map[string]float64, error) {
	q := url.Values{}
	for _, id := range feedIDs {
		q.Add("ids[]", id)
	}
	reqURL := s.baseURL + "/v2/updates/price/latest?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("price: build request: %w", err)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price: hermes request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price: hermes status %d", resp.StatusCode)
	}

	var body hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("price: decode hermes response: %w", err)
	}

	out := make(map[string]float64, len(body.Parsed))
	for _, upd := range body.Parsed {
		pair, ok := s.feedIDs[normalizeFeedID(upd.ID)]
		if !ok {
			continue
		}
		price, err := scalePrice(upd.Price.Price, upd.Price.Expo)
		if err != nil {
			s.logger.Warn("bad price update",
				slog.String("feed_id", upd.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out[pair] = price
	}
	return out, nil
}

func (s *Service) store(ctx context.Context, pair string, price float64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetPrice(ctx, pair, price, time.Now().UTC()); err != nil {
		s.logger.Warn("price cache write failed",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
	}
}

// scalePrice converts Pyth's integer mantissa + exponent into a float.
func scalePrice(mantissa string, expo int) (float64, error) {
	v, err := strconv.ParseInt(mantissa, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse mantissa %q: %w", mantissa, err)
	}
	return float64(v) * math.Pow10(expo), nil
}

// normalizeFeedID strips the 0x prefix and lowercases so ids compare equal
// regardless of how they were configured.
func normalizeFeedID(id string) string {
	return strings.ToLower(strings.TrimPrefix(id, "0x"))
}
