package domain

import "time"

// OrderKind distinguishes market orders from limit orders.
type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
)

// TradeStatus is the durable state of a trade record.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeConfirmed TradeStatus = "confirmed"
	TradeFailed    TradeStatus = "failed"
)

// TradeRecord is the durable audit row for a submitted trade. Append-only
// except for status transitions.
type TradeRecord struct {
	ChatID    int64
	OrderID   string
	TxHash    string
	Pair      string
	Kind      OrderKind
	Buy       bool
	SizeUSD   float64
	Leverage  float64
	OpenPrice float64
	Status    TradeStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FlowStage is a step in the ordered trade-parameter collection flow.
type FlowStage int

const (
	StageNone FlowStage = iota
	StagePairSelection
	StageDirection
	StageSizeInput
	StageAllowanceCheck
	StageLeverageInput
	StageLimitPriceInput
	StageSLTPChoice
	StageStopLossInput
	StageTakeProfitInput
	StageExecute
	StageDone
)

// String returns the stage name used in logs and persisted snapshots.
func (s FlowStage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StagePairSelection:
		return "pair_selection"
	case StageDirection:
		return "direction_selection"
	case StageSizeInput:
		return "size_input"
	case StageAllowanceCheck:
		return "allowance_check"
	case StageLeverageInput:
		return "leverage_input"
	case StageLimitPriceInput:
		return "limit_price_input"
	case StageSLTPChoice:
		return "sl_tp_choice"
	case StageStopLossInput:
		return "stop_loss_input"
	case StageTakeProfitInput:
		return "take_profit_input"
	case StageExecute:
		return "execute"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// TradeFlowState carries the parameters collected so far for one chat's
// in-progress trade. Fields below the current stage are populated and
// validated; fields above it are nil.
type TradeFlowState struct {
	ChatID     int64
	Kind       OrderKind
	Stage      FlowStage
	Pair       string
	Buy        *bool
	SizeUSD    *float64
	Leverage   *float64
	LimitPrice *float64
	StopLoss   *float64
	TakeProfit *float64
	MarkPrice  float64 // oracle price captured at pair selection
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// ReadyToExecute reports whether the mandatory parameters have all been
// collected. Stop-loss and take-profit default to zero when the user opts out.
func (t *TradeFlowState) ReadyToExecute() bool {
	return t.Pair != "" && t.Buy != nil && t.SizeUSD != nil && t.Leverage != nil
}
