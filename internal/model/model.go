// Package model defines the core domain types shared across the backtest
// engine. All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV row of a time series.
type Candle struct {
	Time   time.Time       `json:"time" db:"time"`
	Open   decimal.Decimal `json:"open" db:"open"`
	High   decimal.Decimal `json:"high" db:"high"`
	Low    decimal.Decimal `json:"low" db:"low"`
	Close  decimal.Decimal `json:"close" db:"close"`
	Volume decimal.Decimal `json:"volume" db:"volume"`
}

// Side is the direction of a trade.
type Side int

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "Buy"
	case Sell:
		return "Sell"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// ParseSide converts the serialized integer form back to a Side.
func ParseSide(v int) (Side, error) {
	switch Side(v) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return 0, fmt.Errorf("model: invalid side %d", v)
}

// Signal is the output of a strategy for one candle.
type Signal int

const (
	SignalSell Signal = -1
	SignalHold Signal = 0
	SignalBuy  Signal = 1
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "Buy"
	case SignalSell:
		return "Sell"
	case SignalHold:
		return "Hold"
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// ExecutedTrade is an immutable record of a filled order.
// Once created, these are never modified or deleted.
type ExecutedTrade struct {
	ID       string          `json:"id" db:"id"`
	Side     Side            `json:"side" db:"side"`
	Price    decimal.Decimal `json:"price" db:"price"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"`
	Cost     decimal.Decimal `json:"cost" db:"cost"` // price * quantity
	Point    time.Time       `json:"point" db:"point"`
}

// NewExecutedTrade builds a trade record with its cost derived from
// price and quantity.
func NewExecutedTrade(id string, side Side, price, quantity decimal.Decimal, point time.Time) ExecutedTrade {
	return ExecutedTrade{
		ID:       id,
		Side:     side,
		Price:    price,
		Quantity: quantity,
		Cost:     price.Mul(quantity),
		Point:    point,
	}
}

// FailureReason classifies why a proposed trade was not executed.
type FailureReason string

const (
	FailureInsufficientCapital FailureReason = "insufficient_capital"
	FailureRiskLimits          FailureReason = "risk_limits"
	FailureZeroQuantity        FailureReason = "zero_quantity"
	FailureStorage             FailureReason = "storage_error"
)

// FailedTrade records a proposed order that could not be filled.
type FailedTrade struct {
	Side     Side            `json:"side" db:"side"`
	Price    decimal.Decimal `json:"price" db:"price"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"`
	Cost     decimal.Decimal `json:"cost" db:"cost"`
	Reason   FailureReason   `json:"reason" db:"reason"`
	Point    time.Time       `json:"point" db:"point"`
}

// NewFailedTrade builds a failure record with its cost derived from
// price and quantity.
func NewFailedTrade(side Side, price, quantity decimal.Decimal, reason FailureReason, point time.Time) FailedTrade {
	return FailedTrade{
		Side:     side,
		Price:    price,
		Quantity: quantity,
		Cost:     price.Mul(quantity),
		Reason:   reason,
		Point:    point,
	}
}

// RiskReport is the output of one risk computation over trailing windows.
// TotalPositionValue marks the open quantity to the window's last close;
// UnrealizedPnL is that value minus the cost basis.
type RiskReport struct {
	TotalPositionValue decimal.Decimal `json:"total_position_value"`
	AverageEntryPrice  decimal.Decimal `json:"average_entry_price"`
	TotalQuantity      decimal.Decimal `json:"total_quantity"`
	UnrealizedPnL      decimal.Decimal `json:"unrealized_pnl"`
	VaR95              decimal.Decimal `json:"var_95"` // negative by convention
	Beta               decimal.Decimal `json:"beta"`
	SharpeRatio        decimal.Decimal `json:"sharpe_ratio"`
}

// Action is what the position manager decided to do for one candle.
type Action int

const (
	ActionNothing Action = 0
	ActionBuy     Action = 1
	ActionSell    Action = 2
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionNothing:
		return "nothing"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// DecisionReason explains a do-nothing decision.
type DecisionReason string

const (
	ReasonHoldSignal     DecisionReason = "hold_signal"
	ReasonRiskTolerance  DecisionReason = "risk_tolerance_exceeded"
	ReasonNoCapital      DecisionReason = "no_capital"
	ReasonZeroQuantity   DecisionReason = "quantity_clamped_to_zero"
	ReasonNoPositions    DecisionReason = "no_open_positions"
	ReasonNoSellTriggers DecisionReason = "no_sell_triggers"
)

// TradeDecision is the manager's verdict for one candle. Quantity is set
// for buys and sells; OrderIDs lists the positions a sell would fully
// close; Reason is set when Action is ActionNothing.
type TradeDecision struct {
	Action   Action          `json:"action"`
	Quantity decimal.Decimal `json:"quantity,omitempty"`
	OrderIDs []string        `json:"order_ids,omitempty"`
	Reason   DecisionReason  `json:"reason,omitempty"`
}

// ExecuteBuy is a decision to buy the given quantity at the candle close.
func ExecuteBuy(quantity decimal.Decimal) TradeDecision {
	return TradeDecision{Action: ActionBuy, Quantity: quantity}
}

// ExecuteSell is a decision to sell the given quantity, fully closing the
// positions named by orderIDs.
func ExecuteSell(quantity decimal.Decimal, orderIDs []string) TradeDecision {
	return TradeDecision{Action: ActionSell, Quantity: quantity, OrderIDs: orderIDs}
}

// DoNothing is a decision to skip the candle for the given reason.
func DoNothing(reason DecisionReason) TradeDecision {
	return TradeDecision{Action: ActionNothing, Reason: reason}
}
