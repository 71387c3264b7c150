package tradeflow

// MaxStopLossPct is the platform-wide bound on the loss-producing price move
// a stop-loss may sit beyond, expressed as a fraction of the entry price at
// 1x. Leverage shrinks the allowed move proportionally.
const MaxStopLossPct = 0.74

// ClampStopLoss bounds a requested stop-loss to the tightest level the
// platform permits for the position. For a long the result never drops below
// currentPrice - maxMove; for a short it never rises above
// currentPrice + maxMove, where maxMove = MaxStopLossPct*currentPrice/leverage.
// A requested value of 0 means "no stop-loss" and passes through untouched.
// The clamp is idempotent: applying it to its own output is a no-op.
func ClampStopLoss(currentPrice, leverage, requested float64, long bool) float64 {
	if requested == 0 || currentPrice <= 0 || leverage <= 0 {
		return requested
	}
	maxMove := MaxStopLossPct * currentPrice / leverage
	if long {
		floor := currentPrice - maxMove
		if requested < floor {
			return floor
		}
		return requested
	}
	ceiling := currentPrice + maxMove
	if requested > ceiling {
		return ceiling
	}
	return requested
}
