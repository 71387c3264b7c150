package chain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// USDCDecimals is the fixed-point scale for position sizes and allowances.
const USDCDecimals = 6

// PriceDecimals is the trading contract's fixed-point scale for prices,
// leverage, stop-loss, and take-profit values.
const PriceDecimals = 10

const erc20ABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const tradingABIJSON = `[
	{"name":"openTrade","type":"function","stateMutability":"payable","inputs":[
		{"name":"t","type":"tuple","components":[
			{"name":"trader","type":"address"},
			{"name":"pairIndex","type":"uint256"},
			{"name":"index","type":"uint256"},
			{"name":"initialPosToken","type":"uint256"},
			{"name":"positionSizeUSDC","type":"uint256"},
			{"name":"openPrice","type":"uint256"},
			{"name":"buy","type":"bool"},
			{"name":"leverage","type":"uint256"},
			{"name":"tp","type":"uint256"},
			{"name":"sl","type":"uint256"},
			{"name":"timestamp","type":"uint256"}
		]},
		{"name":"orderType","type":"uint8"},
		{"name":"slippageP","type":"uint256"},
		{"name":"executionFee","type":"uint256"}
	],"outputs":[]},
	{"name":"closeTradeMarket","type":"function","stateMutability":"payable","inputs":[
		{"name":"pairIndex","type":"uint256"},
		{"name":"index","type":"uint256"},
		{"name":"amount","type":"uint256"},
		{"name":"executionFee","type":"uint256"}
	],"outputs":[]},
	{"name":"cancelOpenLimitOrder","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"pairIndex","type":"uint256"},
		{"name":"index","type":"uint256"}
	],"outputs":[]}
]`

var (
	erc20ABI   abi.ABI
	tradingABI abi.ABI
)

func init() {
	var err error
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		panic(fmt.Sprintf("chain: parse erc20 abi: %v", err))
	}
	if tradingABI, err = abi.JSON(strings.NewReader(tradingABIJSON)); err != nil {
		panic(fmt.Sprintf("chain: parse trading abi: %v", err))
	}
}

// ToUnits converts a decimal amount to the contract's fixed-point integer
// representation, truncating sub-unit dust.
func ToUnits(v float64, decimals int) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(0).SetInt(pow10(decimals)))
	out, _ := scaled.Int(nil)
	return out
}

// FromUnits converts a fixed-point integer back to a decimal amount.
func FromUnits(v *big.Int, decimals int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v)
	f.Quo(f, new(big.Float).SetInt(pow10(decimals)))
	out, _ := f.Float64()
	return out
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// EncodeApprove builds ERC-20 approve calldata for the given spender and
// USDC amount.
func EncodeApprove(spender string, amountUSD float64) (string, error) {
	data, err := erc20ABI.Pack("approve",
		common.HexToAddress(spender),
		ToUnits(amountUSD, USDCDecimals),
	)
	if err != nil {
		return "", fmt.Errorf("chain: pack approve: %w", err)
	}
	return hexutil.Encode(data), nil
}

// OpenTradeParams carries the decoded parameters for an openTrade call.
type OpenTradeParams struct {
	Trader     string
	PairIndex  int
	SizeUSD    float64
	OpenPrice  float64
	Buy        bool
	Leverage   float64
	TakeProfit float64
	StopLoss   float64
	// Limit selects a limit order instead of a market order.
	Limit bool
}

// tradeTuple mirrors the contract's trade struct for ABI packing. Field
// order must match the tuple components.
type tradeTuple struct {
	Trader           common.Address
	PairIndex        *big.Int
	Index            *big.Int
	InitialPosToken  *big.Int
	PositionSizeUSDC *big.Int
	OpenPrice        *big.Int
	Buy              bool
	Leverage         *big.Int
	Tp               *big.Int
	Sl               *big.Int
	Timestamp        *big.Int
}

// EncodeOpenTrade builds openTrade calldata. Prices, leverage, and sl/tp are
// packed at 10 decimals, the position size at 6 (USDC). Slippage is fixed at
// 1% the way the upstream contract expects it.
func EncodeOpenTrade(p OpenTradeParams) (string, error) {
	orderType := uint8(0) // market
	if p.Limit {
		orderType = 1
	}

	tuple := tradeTuple{
		Trader:           common.HexToAddress(p.Trader),
		PairIndex:        big.NewInt(int64(p.PairIndex)),
		Index:            big.NewInt(0),
		InitialPosToken:  big.NewInt(0),
		PositionSizeUSDC: ToUnits(p.SizeUSD, USDCDecimals),
		OpenPrice:        ToUnits(p.OpenPrice, PriceDecimals),
		Buy:              p.Buy,
		Leverage:         ToUnits(p.Leverage, PriceDecimals),
		Tp:               ToUnits(p.TakeProfit, PriceDecimals),
		Sl:               ToUnits(p.StopLoss, PriceDecimals),
		Timestamp:        big.NewInt(time.Now().Unix()),
	}

	data, err := tradingABI.Pack("openTrade",
		tuple,
		orderType,
		ToUnits(1, PriceDecimals), // slippageP
		big.NewInt(0),             // executionFee
	)
	if err != nil {
		return "", fmt.Errorf("chain: pack openTrade: %w", err)
	}
	return hexutil.Encode(data), nil
}

// EncodeCloseTradeMarket builds calldata to close an open market position.
func EncodeCloseTradeMarket(pairIndex, tradeIndex int, sizeUSD float64) (string, error) {
	data, err := tradingABI.Pack("closeTradeMarket",
		big.NewInt(int64(pairIndex)),
		big.NewInt(int64(tradeIndex)),
		ToUnits(sizeUSD, USDCDecimals),
		big.NewInt(0),
	)
	if err != nil {
		return "", fmt.Errorf("chain: pack closeTradeMarket: %w", err)
	}
	return hexutil.Encode(data), nil
}

// EncodeCancelOpenLimitOrder builds calldata to cancel a pending limit order.
func EncodeCancelOpenLimitOrder(pairIndex, orderIndex int) (string, error) {
	data, err := tradingABI.Pack("cancelOpenLimitOrder",
		big.NewInt(int64(pairIndex)),
		big.NewInt(int64(orderIndex)),
	)
	if err != nil {
		return "", fmt.Errorf("chain: pack cancelOpenLimitOrder: %w", err)
	}
	return hexutil.Encode(data), nil
}
