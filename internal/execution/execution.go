// Package execution defines the capability contract shared by the three
// interchangeable trade-execution backends: SimBroker for backtest, and
// LiveClient configured against either the paper or the real brokerage.
package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
)

// FillState is the lifecycle state an order-id poll resolves to.
type FillState string

const (
	FillStatePending  FillState = "pending"
	FillStateFilled   FillState = "filled"
	FillStateRejected FillState = "rejected"
)

// Fill is the result of polling an order-id. Reason is populated only when
// State is FillStateRejected.
type Fill struct {
	State    FillState
	Price    decimal.Decimal
	Quantity int64
	Fee      decimal.Decimal
	Reason   string
}

// Backend is the capability set Broker and Strategy drive, implemented by
// SimBroker (backtest) and LiveClient (paper and live).
type Backend interface {
	// ExecuteOrder submits order and returns the backend-assigned order id.
	// order is taken by value, so the caller's Order is never changed; fee
	// is only known once the fill is polled.
	ExecuteOrder(ctx context.Context, order tradingtypes.Order) (orderID string, err error)

	// CheckFill polls the current state of a previously submitted order.
	CheckFill(ctx context.Context, orderID string) (Fill, error)

	// CancelOrder requests cancellation of a still-pending order.
	CancelOrder(ctx context.Context, orderID string) error

	// GetBalance returns the account's current cash and total valuation.
	GetBalance(ctx context.Context) (tradingtypes.Balance, error)

	// GetAveragePrice returns the position's weighted-average cost basis.
	// Meaningful only when a position in stockCode exists.
	GetAveragePrice(ctx context.Context, stockCode string) (decimal.Decimal, error)

	// GetCurrentPrice returns the price of stockCode at the given instant
	// (backtest) or the latest quote (paper/live, at is ignored).
	GetCurrentPrice(ctx context.Context, stockCode string, at time.Time) (decimal.Decimal, error)
}
