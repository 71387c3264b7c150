package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest oracle price per pair.
type PriceCache interface {
	SetPrice(ctx context.Context, pair string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, pair string) (float64, time.Time, error)
	GetPrices(ctx context.Context, pairs []string) (map[string]float64, error)
}

// RateLimiter provides distributed rate limiting for outbound calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
