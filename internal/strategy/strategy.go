// Package strategy implements the single-position intraday state machine:
// wait for an entry signal, hold while tracking stop-loss/take-profit/
// force-close thresholds, exit, and reset at Overnight.
package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockrs-go/tradeengine/internal/apperr"
	"github.com/stockrs-go/tradeengine/internal/config"
	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
)

// State is the strategy's position lifecycle for the current trading day.
type State string

const (
	StateWaitingForEntry State = "waiting_for_entry"
	StateHolding         State = "holding"
	StateExiting         State = "exiting"
	StateDone            State = "done"
)

// PriceSource is the subset of ExecutionBackend Strategy needs to read
// prices and the account's available cash. Implemented by SimBroker and
// LiveClient alike, so Strategy never knows which backend is active.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, stockCode string, at time.Time) (decimal.Decimal, error)
	GetBalance(ctx context.Context) (tradingtypes.Balance, error)
}

// Predictor supplies the day's candidate symbol, or ok=false when nothing
// clears the probability threshold.
type Predictor interface {
	PredictTopStock(ctx context.Context, date string) (symbol string, ok bool, err error)
}

// Submitter is the subset of Broker Strategy drives: order submission.
type Submitter interface {
	Submit(ctx context.Context, order tradingtypes.Order, intendedPrice decimal.Decimal) (orderID string, err error)
}

// Strategy is the single-position state machine. All mutable fields are
// guarded by mu since OnEvent is called from the Runner's single loop but
// reads (e.g. State for diagnostics) may come from elsewhere.
type Strategy struct {
	mu sync.Mutex

	cfg                  config.StrategyConfig
	specialOffsetMinutes int
	runID                string

	prices    PriceSource
	predictor Predictor
	broker    Submitter

	state      State
	stockCode  string
	quantity   int64
	entryPrice decimal.Decimal
}

// New constructs a Strategy starting in StateWaitingForEntry.
func New(cfg config.StrategyConfig, specialOffsetMinutes int, prices PriceSource, predictor Predictor, broker Submitter, runID string) *Strategy {
	return &Strategy{
		cfg:                  cfg,
		specialOffsetMinutes: specialOffsetMinutes,
		runID:                runID,
		prices:               prices,
		predictor:            predictor,
		broker:               broker,
		state:                StateWaitingForEntry,
	}
}

// State reports the current lifecycle state.
func (s *Strategy) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnEvent dispatches a TimeEvent to the state machine. Overnight always
// resets to a fresh day regardless of current state; Update and MarketOpen
// events drive entry and exit checks; all other tags are no-ops.
func (s *Strategy) OnEvent(ctx context.Context, ev tradingtypes.TimeEvent, isSpecialStartDate bool) error {
	switch ev.Tag {
	case tradingtypes.EventOvernight:
		s.resetForNewDay()
		return nil
	case tradingtypes.EventUpdate, tradingtypes.EventMarketOpen:
		return s.onTick(ctx, ev.At, isSpecialStartDate)
	default:
		return nil
	}
}

func (s *Strategy) onTick(ctx context.Context, at time.Time, isSpecialStartDate bool) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateWaitingForEntry:
		return s.tryEntry(ctx, at, isSpecialStartDate)
	case StateHolding:
		return s.checkExit(ctx, at, isSpecialStartDate)
	default:
		return nil
	}
}

func (s *Strategy) tryEntry(ctx context.Context, at time.Time, isSpecialStartDate bool) error {
	entryHour, entryMinute, err := shiftedClock(s.cfg.EntryTime, s.specialOffsetMinutes, isSpecialStartDate)
	if err != nil {
		return apperr.Wrap(apperr.KindTime, "strategy.tryEntry", err)
	}
	if at.Hour() != entryHour || at.Minute() != entryMinute {
		return nil
	}

	date := at.Format("20060102")
	symbol, ok, err := s.predictor.PredictTopStock(ctx, date)
	if err != nil {
		return apperr.Wrap(apperr.KindPrediction, "strategy.tryEntry", err)
	}
	if !ok {
		return nil
	}

	price, err := s.prices.GetCurrentPrice(ctx, symbol, at)
	if err != nil {
		return apperr.Wrap(apperr.KindExecution, "strategy.tryEntry", err)
	}
	balance, err := s.prices.GetBalance(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindExecution, "strategy.tryEntry", err)
	}

	quantity := s.sizeEntry(price, balance.Cash)
	if quantity <= 0 {
		return nil
	}

	order := tradingtypes.Order{
		RunID:     s.runID,
		StockCode: symbol,
		Side:      tradingtypes.SideBuy,
		Quantity:  quantity,
		Price:     price,
		Strategy:  "entry",
		CreatedAt: at,
	}
	if _, err := s.broker.Submit(ctx, order, price); err != nil {
		return apperr.Wrap(apperr.KindExecution, "strategy.tryEntry", err)
	}

	s.mu.Lock()
	s.state = StateHolding
	s.stockCode = symbol
	s.quantity = quantity
	s.entryPrice = price
	s.mu.Unlock()
	return nil
}

// sizeEntry prefers the fixed entry amount when cash allows it; otherwise it
// spends entry_asset_ratio of available cash. Quantity is floor(budget/price).
func (s *Strategy) sizeEntry(price, cash decimal.Decimal) int64 {
	if price.IsZero() || price.IsNegative() {
		return 0
	}
	if s.cfg.FixedEntryAmount > 0 {
		fixed := decimal.NewFromFloat(s.cfg.FixedEntryAmount)
		if fixed.LessThanOrEqual(cash) {
			return floorDiv(fixed, price)
		}
	}
	ratio := decimal.NewFromFloat(s.cfg.EntryAssetRatio)
	budget := cash.Mul(ratio)
	return floorDiv(budget, price)
}

func floorDiv(budget, price decimal.Decimal) int64 {
	if price.IsZero() {
		return 0
	}
	q := budget.Div(price)
	f, _ := q.Float64()
	return int64(math.Floor(f))
}

func (s *Strategy) checkExit(ctx context.Context, at time.Time, isSpecialStartDate bool) error {
	s.mu.Lock()
	stockCode, quantity, entryPrice := s.stockCode, s.quantity, s.entryPrice
	s.mu.Unlock()
	if quantity <= 0 {
		return nil
	}

	price, err := s.prices.GetCurrentPrice(ctx, stockCode, at)
	if err != nil {
		return apperr.Wrap(apperr.KindExecution, "strategy.checkExit", err)
	}

	stopLoss := entryPrice.Mul(decimal.NewFromFloat(1 - s.cfg.StopLossPct))
	takeProfit := entryPrice.Mul(decimal.NewFromFloat(1 + s.cfg.TakeProfitPct))

	reason := ""
	switch {
	case price.LessThanOrEqual(stopLoss):
		reason = "stop_loss"
	case price.GreaterThanOrEqual(takeProfit):
		reason = "take_profit"
	default:
		closeHour, closeMinute, err := shiftedClock(s.cfg.ForceCloseTime, s.specialOffsetMinutes, isSpecialStartDate)
		if err != nil {
			return apperr.Wrap(apperr.KindTime, "strategy.checkExit", err)
		}
		if at.Hour() == closeHour && at.Minute() == closeMinute {
			reason = "force_close"
		}
	}
	if reason == "" {
		return nil
	}

	order := tradingtypes.Order{
		RunID:     s.runID,
		StockCode: stockCode,
		Side:      tradingtypes.SideSell,
		Quantity:  quantity,
		Price:     price,
		Strategy:  reason,
		CreatedAt: at,
	}
	if _, err := s.broker.Submit(ctx, order, price); err != nil {
		return apperr.Wrap(apperr.KindExecution, "strategy.checkExit", err)
	}

	s.mu.Lock()
	s.state = StateExiting
	s.mu.Unlock()
	return nil
}

// OnFillConfirmed transitions Exiting to Done once Broker reports the exit
// order's fill. Calling it while not Exiting is a no-op.
func (s *Strategy) OnFillConfirmed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateExiting {
		s.state = StateDone
	}
}

// resetForNewDay clears all position state and returns to WaitingForEntry,
// invoked on every Overnight transition regardless of where the day left
// off (a stuck Holding/Exiting state must not leak across days).
func (s *Strategy) resetForNewDay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateWaitingForEntry
	s.stockCode = ""
	s.quantity = 0
	s.entryPrice = decimal.Zero
}

// shiftedClock parses an "HH:MM" string and applies the special-start
// offset when isSpecialStartDate is true, the same shift TimeService
// applies to market-hours boundaries.
func shiftedClock(hhmm string, offsetMinutes int, isSpecialStartDate bool) (hour, minute int, err error) {
	var h, m int
	if _, scanErr := fmt.Sscanf(hhmm, "%d:%d", &h, &m); scanErr != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", hhmm, scanErr)
	}
	if isSpecialStartDate {
		total := h*60 + m + offsetMinutes
		if total < 0 || total >= 24*60 {
			return 0, 0, fmt.Errorf("special-start offset pushes %q out of 0-24h range", hhmm)
		}
		h, m = total/60, total%60
	}
	return h, m, nil
}
