package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockrs-go/tradeengine/internal/config"
	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
)

type fakePrices struct {
	price   decimal.Decimal
	cash    decimal.Decimal
	priceAt map[string]decimal.Decimal
}

func (f *fakePrices) GetCurrentPrice(ctx context.Context, stockCode string, at time.Time) (decimal.Decimal, error) {
	if f.priceAt != nil {
		if p, ok := f.priceAt[at.Format("15:04")]; ok {
			return p, nil
		}
	}
	return f.price, nil
}

func (f *fakePrices) GetBalance(ctx context.Context) (tradingtypes.Balance, error) {
	return tradingtypes.Balance{Cash: f.cash, TotalAsset: f.cash}, nil
}

type fakePredictor struct {
	symbol string
	ok     bool
}

func (f fakePredictor) PredictTopStock(ctx context.Context, date string) (string, bool, error) {
	return f.symbol, f.ok, nil
}

type fakeSubmitter struct {
	orders []tradingtypes.Order
}

func (f *fakeSubmitter) Submit(ctx context.Context, order tradingtypes.Order, intendedPrice decimal.Decimal) (string, error) {
	f.orders = append(f.orders, order)
	return "ORD-1", nil
}

func baseCfg() config.StrategyConfig {
	return config.StrategyConfig{
		StopLossPct: 0.02, TakeProfitPct: 0.03,
		EntryTime: "09:05", ForceCloseTime: "15:20",
		EntryAssetRatio: 0.9, FixedEntryAmount: 1_000_000,
	}
}

func at(hhmm string) time.Time {
	t, _ := time.Parse("2006-01-02 15:04", "2024-01-02 "+hhmm)
	return t
}

func TestTryEntry_NoOpOutsideEntryTime(t *testing.T) {
	prices := &fakePrices{price: decimal.NewFromInt(70000), cash: decimal.NewFromInt(10_000_000)}
	sub := &fakeSubmitter{}
	s := New(baseCfg(), 0, prices, fakePredictor{symbol: "005930", ok: true}, sub, "run-1")

	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:04")}, false))
	assert.Equal(t, StateWaitingForEntry, s.State())
	assert.Empty(t, sub.orders)
}

func TestTryEntry_SubmitsBuyAtEntryTimeWhenCandidateFound(t *testing.T) {
	prices := &fakePrices{price: decimal.NewFromInt(70000), cash: decimal.NewFromInt(10_000_000)}
	sub := &fakeSubmitter{}
	s := New(baseCfg(), 0, prices, fakePredictor{symbol: "005930", ok: true}, sub, "run-1")

	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:05")}, false))
	assert.Equal(t, StateHolding, s.State())
	require.Len(t, sub.orders, 1)
	assert.Equal(t, tradingtypes.SideBuy, sub.orders[0].Side)
	assert.Equal(t, "005930", sub.orders[0].StockCode)
	// fixed entry amount 1,000,000 / 70,000 = 14
	assert.Equal(t, int64(14), sub.orders[0].Quantity)
}

func TestTryEntry_NoOpWhenPredictorReturnsNoCandidate(t *testing.T) {
	prices := &fakePrices{price: decimal.NewFromInt(70000), cash: decimal.NewFromInt(10_000_000)}
	sub := &fakeSubmitter{}
	s := New(baseCfg(), 0, prices, fakePredictor{ok: false}, sub, "run-1")

	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:05")}, false))
	assert.Equal(t, StateWaitingForEntry, s.State())
	assert.Empty(t, sub.orders)
}

func TestSizeEntry_FallsBackToRatioWhenFixedAmountExceedsCash(t *testing.T) {
	cfg := baseCfg()
	cfg.FixedEntryAmount = 1_000_000
	prices := &fakePrices{price: decimal.NewFromInt(70000), cash: decimal.NewFromInt(500_000)}
	sub := &fakeSubmitter{}
	s := New(cfg, 0, prices, fakePredictor{symbol: "005930", ok: true}, sub, "run-1")

	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:05")}, false))
	require.Len(t, sub.orders, 1)
	// ratio 0.9 * 500,000 / 70,000 = 6 (floor)
	assert.Equal(t, int64(6), sub.orders[0].Quantity)
}

func TestCheckExit_StopLossTriggersSell(t *testing.T) {
	prices := &fakePrices{price: decimal.NewFromInt(70000), cash: decimal.NewFromInt(10_000_000)}
	sub := &fakeSubmitter{}
	s := New(baseCfg(), 0, prices, fakePredictor{symbol: "005930", ok: true}, sub, "run-1")
	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:05")}, false))
	require.Equal(t, StateHolding, s.State())

	prices.price = decimal.NewFromInt(68000) // -2.86%, below -2% stop
	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:10")}, false))
	assert.Equal(t, StateExiting, s.State())
	require.Len(t, sub.orders, 2)
	assert.Equal(t, tradingtypes.SideSell, sub.orders[1].Side)
	assert.Equal(t, "stop_loss", sub.orders[1].Strategy)
}

func TestCheckExit_TakeProfitTriggersSell(t *testing.T) {
	prices := &fakePrices{price: decimal.NewFromInt(70000), cash: decimal.NewFromInt(10_000_000)}
	sub := &fakeSubmitter{}
	s := New(baseCfg(), 0, prices, fakePredictor{symbol: "005930", ok: true}, sub, "run-1")
	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:05")}, false))

	prices.price = decimal.NewFromInt(72500) // +3.57%, above +3% target
	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:10")}, false))
	assert.Equal(t, StateExiting, s.State())
	require.Len(t, sub.orders, 2)
	assert.Equal(t, "take_profit", sub.orders[1].Strategy)
}

func TestCheckExit_ForceCloseAtConfiguredTime(t *testing.T) {
	prices := &fakePrices{price: decimal.NewFromInt(70000), cash: decimal.NewFromInt(10_000_000)}
	sub := &fakeSubmitter{}
	s := New(baseCfg(), 0, prices, fakePredictor{symbol: "005930", ok: true}, sub, "run-1")
	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:05")}, false))

	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("15:20")}, false))
	assert.Equal(t, StateExiting, s.State())
	require.Len(t, sub.orders, 2)
	assert.Equal(t, "force_close", sub.orders[1].Strategy)
}

func TestOnEvent_OvernightResetsEvenFromHolding(t *testing.T) {
	prices := &fakePrices{price: decimal.NewFromInt(70000), cash: decimal.NewFromInt(10_000_000)}
	sub := &fakeSubmitter{}
	s := New(baseCfg(), 0, prices, fakePredictor{symbol: "005930", ok: true}, sub, "run-1")
	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:05")}, false))
	require.Equal(t, StateHolding, s.State())

	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventOvernight, At: at("15:31")}, false))
	assert.Equal(t, StateWaitingForEntry, s.State())
}

func TestEntryAndForceCloseTimesShiftOnSpecialStartDate(t *testing.T) {
	prices := &fakePrices{price: decimal.NewFromInt(70000), cash: decimal.NewFromInt(10_000_000)}
	sub := &fakeSubmitter{}
	s := New(baseCfg(), 60, prices, fakePredictor{symbol: "005930", ok: true}, sub, "run-1")

	// unshifted 09:05 must NOT trigger on a special-start date
	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:05")}, true))
	assert.Equal(t, StateWaitingForEntry, s.State())

	// shifted 10:05 (09:05 + 60min) must trigger
	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("10:05")}, true))
	assert.Equal(t, StateHolding, s.State())
}

func TestOnFillConfirmed_TransitionsExitingToDone(t *testing.T) {
	prices := &fakePrices{price: decimal.NewFromInt(70000), cash: decimal.NewFromInt(10_000_000)}
	sub := &fakeSubmitter{}
	s := New(baseCfg(), 0, prices, fakePredictor{symbol: "005930", ok: true}, sub, "run-1")
	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:05")}, false))
	prices.price = decimal.NewFromInt(68000)
	require.NoError(t, s.OnEvent(context.Background(), tradingtypes.TimeEvent{Tag: tradingtypes.EventUpdate, At: at("09:10")}, false))
	require.Equal(t, StateExiting, s.State())

	s.OnFillConfirmed()
	assert.Equal(t, StateDone, s.State())
}
