// Package tradingtypes holds the domain value types shared across the
// execution, strategy, predictor, and store layers: orders, trades,
// holdings, balances, and the daily overview record.
package tradingtypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order is a request to transact a quantity of a stock at or near the
// current price. OrderID and RunID let a single trading store hold rows
// from several backtest runs or from both simulated and live sessions
// without the id space colliding. Price is the intended price at creation,
// not the eventual fill price. Fee starts zero and is populated once the
// order's fill confirms — Broker mutates its own queued copy of Order when
// Reconcile learns the fee, since the backend reports fee only through
// Fill, never back onto the Order value it was handed.
type Order struct {
	OrderID   string
	RunID     string
	StockCode string
	Side      Side
	Quantity  int64
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Strategy  string
	CreatedAt time.Time
}

// FillStatus is the lifecycle state of a submitted order.
type FillStatus string

const (
	FillPending FillStatus = "pending"
	FillFilled  FillStatus = "filled"
	FillFailed  FillStatus = "failed"
)

// Trade is a completed fill: the price and fee actually realized, plus the
// average cost basis captured at execution time (before the position was
// mutated, for sells) so P&L can be computed without re-deriving it later.
type Trade struct {
	OrderID       string
	RunID         string
	StockCode     string
	Side          Side
	Quantity      int64
	IntendedPrice decimal.Decimal
	Price         decimal.Decimal
	Fee           decimal.Decimal
	Strategy      string
	AvgPrice      decimal.Decimal
	Profit        decimal.Decimal
	ROI           decimal.Decimal
	Note          string
	ExecutedAt    time.Time
}

// Holding is a weighted-average-cost position in a single stock.
type Holding struct {
	StockCode string
	Quantity  int64
	AvgPrice  decimal.Decimal
}

// Add folds a new buy fill into the holding's weighted average cost and
// returns the updated holding. Quantity and price must both be positive.
func (h Holding) Add(qty int64, price decimal.Decimal) Holding {
	if qty <= 0 {
		return h
	}
	existingCost := h.AvgPrice.Mul(decimal.NewFromInt(h.Quantity))
	addedCost := price.Mul(decimal.NewFromInt(qty))
	newQty := h.Quantity + qty
	if newQty == 0 {
		return Holding{StockCode: h.StockCode}
	}
	newAvg := existingCost.Add(addedCost).Div(decimal.NewFromInt(newQty))
	return Holding{StockCode: h.StockCode, Quantity: newQty, AvgPrice: newAvg}
}

// Reduce removes qty units from the holding without altering the average
// cost of the remainder.
func (h Holding) Reduce(qty int64) Holding {
	if qty <= 0 || qty > h.Quantity {
		qty = h.Quantity
	}
	remaining := h.Quantity - qty
	if remaining <= 0 {
		return Holding{StockCode: h.StockCode}
	}
	return Holding{StockCode: h.StockCode, Quantity: remaining, AvgPrice: h.AvgPrice}
}

// Balance is the account's cash and total valuation at a point in time.
type Balance struct {
	Cash       decimal.Decimal
	TotalAsset decimal.Decimal
}

// Overview is the per-trading-day OHLC + volume + P&L rollup row.
type Overview struct {
	Date   string
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
	Fee    decimal.Decimal
	Profit decimal.Decimal
	ROI    decimal.Decimal
}

// EventTag identifies a scheduled point in the trading day.
type EventTag string

const (
	EventDataPrep    EventTag = "data_prep"
	EventMarketOpen  EventTag = "market_open"
	EventUpdate      EventTag = "update"
	EventMarketClose EventTag = "market_close"
	EventOvernight   EventTag = "overnight"
)

// TimeEvent pairs a scheduled tag with the wall-clock instant it fires at.
type TimeEvent struct {
	Tag EventTag
	At  time.Time
}
