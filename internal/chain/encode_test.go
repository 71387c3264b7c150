package chain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToUnits(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		decimals int
		want     string
	}{
		{"usdc whole", 100, USDCDecimals, "100000000"},
		{"usdc fractional", 12.5, USDCDecimals, "12500000"},
		{"usdc dust truncated", 0.0000019, USDCDecimals, "1"},
		{"price", 64123.5, PriceDecimals, "641235000000000"},
		{"zero", 0, USDCDecimals, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToUnits(tt.value, tt.decimals).String())
		})
	}
}

func TestFromUnitsRoundTrip(t *testing.T) {
	v := ToUnits(2500.75, USDCDecimals)
	assert.InDelta(t, 2500.75, FromUnits(v, USDCDecimals), 1e-6)

	assert.Zero(t, FromUnits(nil, USDCDecimals))
	assert.InDelta(t, 0.74, FromUnits(big.NewInt(7_400_000_000), PriceDecimals), 1e-9)
}

func TestEncodeApprove(t *testing.T) {
	data, err := EncodeApprove("0x8a311D7048c35985aa31C131B9A13e03a5f7422d", 1000)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(data, "0x"))
	// 4-byte selector + two 32-byte words.
	assert.Len(t, data, 2+8+2*64)
	// The amount word ends with 1000 * 1e6 in hex.
	assert.True(t, strings.HasSuffix(data, "3b9aca00"))
}

func TestEncodeOpenTradeMarketVsLimit(t *testing.T) {
	params := OpenTradeParams{
		Trader:    "0x1111111111111111111111111111111111111111",
		PairIndex: 1,
		SizeUSD:   100,
		OpenPrice: 64000,
		Buy:       true,
		Leverage:  10,
	}

	market, err := EncodeOpenTrade(params)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(market, "0x"))

	params.Limit = true
	limit, err := EncodeOpenTrade(params)
	require.NoError(t, err)

	assert.Equal(t, market[:10], limit[:10], "same selector for both order types")
	assert.NotEqual(t, market, limit, "order type must change the calldata")
}

func TestEncodeCloseAndCancel(t *testing.T) {
	closeData, err := EncodeCloseTradeMarket(1, 0, 100)
	require.NoError(t, err)
	assert.Len(t, closeData, 2+8+4*64)

	cancelData, err := EncodeCancelOpenLimitOrder(1, 0)
	require.NoError(t, err)
	assert.Len(t, cancelData, 2+8+2*64)

	assert.NotEqual(t, closeData[:10], cancelData[:10])
}
