package tradeflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampStopLossLongWithinBound(t *testing.T) {
	// 100 @ 10x: max move 7.4, floor 92.6. 96 is inside the bound.
	got := ClampStopLoss(100, 10, 96, true)
	assert.InDelta(t, 96.0, got, 1e-9)
}

func TestClampStopLossLongBelowFloor(t *testing.T) {
	got := ClampStopLoss(100, 10, 90, true)
	assert.InDelta(t, 92.6, got, 1e-9)
}

func TestClampStopLossShortAboveCeiling(t *testing.T) {
	// 100 @ 5x: max move 14.8, ceiling 114.8.
	got := ClampStopLoss(100, 5, 116, false)
	assert.InDelta(t, 114.8, got, 1e-9)
}

func TestClampStopLossShortWithinBound(t *testing.T) {
	got := ClampStopLoss(100, 5, 110, false)
	assert.InDelta(t, 110.0, got, 1e-9)
}

func TestClampStopLossIdempotent(t *testing.T) {
	cases := []struct {
		price, lev, req float64
		long            bool
	}{
		{100, 10, 90, true},
		{100, 10, 96, true},
		{100, 5, 116, false},
		{2500, 50, 2400, true},
	}
	for _, tc := range cases {
		once := ClampStopLoss(tc.price, tc.lev, tc.req, tc.long)
		twice := ClampStopLoss(tc.price, tc.lev, once, tc.long)
		assert.InDelta(t, once, twice, 1e-9)
	}
}

func TestClampStopLossZeroPassesThrough(t *testing.T) {
	assert.Zero(t, ClampStopLoss(100, 10, 0, true))
}
