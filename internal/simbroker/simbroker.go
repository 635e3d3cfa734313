// Package simbroker implements the backtest ExecutionBackend: synchronous
// fills against the minute-bar store, with configurable fee and slippage,
// and an in-memory weighted-average-cost holdings ledger.
package simbroker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockrs-go/tradeengine/internal/apperr"
	"github.com/stockrs-go/tradeengine/internal/bars"
	"github.com/stockrs-go/tradeengine/internal/config"
	"github.com/stockrs-go/tradeengine/internal/execution"
	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
)

// Clock is the minimal time surface SimBroker needs: the logical instant
// and its minute-bar lookup key.
type Clock interface {
	Now() time.Time
	FormatYMDHM() string
}

// SimBroker is the backtest ExecutionBackend. All state — cash, holdings,
// fills — lives in memory and is mutated only from ExecuteOrder, under a
// single mutex, matching the single-threaded Runner's call pattern.
type SimBroker struct {
	mu       sync.Mutex
	cash     decimal.Decimal
	holdings map[string]tradingtypes.Holding
	fills    map[string]execution.Fill

	minuteBars *bars.Store
	clock      Clock
	cfg        config.BacktestConfig
}

// New constructs a SimBroker with initialCapital of starting cash.
func New(minuteBars *bars.Store, clock Clock, cfg config.BacktestConfig, initialCapital decimal.Decimal) *SimBroker {
	return &SimBroker{
		cash:       initialCapital,
		holdings:   make(map[string]tradingtypes.Holding),
		fills:      make(map[string]execution.Fill),
		minuteBars: minuteBars,
		clock:      clock,
		cfg:        cfg,
	}
}

var _ execution.Backend = (*SimBroker)(nil)

// ExecuteOrder fills synchronously at the current minute bar's close,
// applying slippage and fee, and mutates cash/holdings immediately.
func (s *SimBroker) ExecuteOrder(ctx context.Context, order tradingtypes.Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bar, err := s.minuteBars.LatestBarAtOrBefore(ctx, order.StockCode, s.clock.FormatYMDHM())
	if err != nil {
		return "", apperr.Wrap(apperr.KindData, "simbroker.ExecuteOrder", err)
	}
	intended := bar.Close

	var fillPrice, fee decimal.Decimal
	switch order.Side {
	case tradingtypes.SideBuy:
		fillPrice = intended.Mul(decimal.NewFromFloat(1 + s.cfg.BuySlippageRate))
		fee = fillPrice.Mul(decimal.NewFromInt(order.Quantity)).Mul(decimal.NewFromFloat(s.cfg.BuyFeeRate))
	case tradingtypes.SideSell:
		fillPrice = intended.Mul(decimal.NewFromFloat(1 - s.cfg.SellSlippageRate))
		fee = fillPrice.Mul(decimal.NewFromInt(order.Quantity)).Mul(decimal.NewFromFloat(s.cfg.SellFeeRate))
	default:
		return "", apperr.New(apperr.KindExecution, "simbroker.ExecuteOrder", "unknown side %q", order.Side)
	}

	if err := s.applyFill(order, fillPrice, fee); err != nil {
		return "", err
	}

	orderID := uuid.NewString()
	s.fills[orderID] = execution.Fill{
		State:    execution.FillStateFilled,
		Price:    fillPrice,
		Quantity: order.Quantity,
		Fee:      fee,
	}
	return orderID, nil
}

func (s *SimBroker) applyFill(order tradingtypes.Order, fillPrice, fee decimal.Decimal) error {
	h := s.holdings[order.StockCode]
	h.StockCode = order.StockCode

	switch order.Side {
	case tradingtypes.SideBuy:
		cost := fillPrice.Mul(decimal.NewFromInt(order.Quantity)).Add(fee)
		if cost.GreaterThan(s.cash) {
			return apperr.New(apperr.KindExecution, "simbroker.applyFill",
				"insufficient balance: need %s, have %s", cost, s.cash)
		}
		s.cash = s.cash.Sub(cost)
		s.holdings[order.StockCode] = h.Add(order.Quantity, fillPrice)
	case tradingtypes.SideSell:
		if order.Quantity > h.Quantity {
			return apperr.New(apperr.KindExecution, "simbroker.applyFill",
				"insufficient position: need %d, have %d", order.Quantity, h.Quantity)
		}
		proceeds := fillPrice.Mul(decimal.NewFromInt(order.Quantity)).Sub(fee)
		s.cash = s.cash.Add(proceeds)
		s.holdings[order.StockCode] = h.Reduce(order.Quantity)
	}
	return nil
}

// CheckFill returns the previously recorded fill: all SimBroker fills
// resolve synchronously inside ExecuteOrder, so this always reports Filled
// for a known order id.
func (s *SimBroker) CheckFill(ctx context.Context, orderID string) (execution.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fill, ok := s.fills[orderID]
	if !ok {
		return execution.Fill{}, apperr.New(apperr.KindExecution, "simbroker.CheckFill", "unknown order id %q", orderID)
	}
	return fill, nil
}

// CancelOrder always fails: SimBroker fills are synchronous, so by the time
// a caller could cancel, the order has already settled.
func (s *SimBroker) CancelOrder(ctx context.Context, orderID string) error {
	return apperr.New(apperr.KindExecution, "simbroker.CancelOrder", "order %q already filled synchronously", orderID)
}

// GetBalance returns cash plus the mark-to-market value of all holdings at
// the current logical instant.
func (s *SimBroker) GetBalance(ctx context.Context) (tradingtypes.Balance, error) {
	s.mu.Lock()
	holdings := make([]tradingtypes.Holding, 0, len(s.holdings))
	for _, h := range s.holdings {
		if h.Quantity > 0 {
			holdings = append(holdings, h)
		}
	}
	cash := s.cash
	s.mu.Unlock()

	total := cash
	for _, h := range holdings {
		price, err := s.GetCurrentPrice(ctx, h.StockCode, time.Time{})
		if err != nil {
			return tradingtypes.Balance{}, err
		}
		total = total.Add(price.Mul(decimal.NewFromInt(h.Quantity)))
	}
	return tradingtypes.Balance{Cash: cash, TotalAsset: total}, nil
}

// GetAveragePrice returns the current weighted-average cost basis for
// stockCode. Errors if no position is held.
func (s *SimBroker) GetAveragePrice(ctx context.Context, stockCode string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holdings[stockCode]
	if !ok || h.Quantity == 0 {
		return decimal.Zero, apperr.New(apperr.KindExecution, "simbroker.GetAveragePrice", "no position in %q", stockCode)
	}
	return h.AvgPrice, nil
}

// GetCurrentPrice returns the minute bar close at or before at (or the
// current logical instant, if at is zero).
func (s *SimBroker) GetCurrentPrice(ctx context.Context, stockCode string, at time.Time) (decimal.Decimal, error) {
	ts := s.clock.FormatYMDHM()
	if !at.IsZero() {
		ts = at.Format("200601021504")
	}
	bar, err := s.minuteBars.LatestBarAtOrBefore(ctx, stockCode, ts)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.KindData, "simbroker.GetCurrentPrice", err)
	}
	return bar.Close, nil
}

// Holding exposes the current position for a stock, used by Strategy to
// read quantity without going through the Backend interface.
func (s *SimBroker) Holding(stockCode string) tradingtypes.Holding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdings[stockCode]
}
