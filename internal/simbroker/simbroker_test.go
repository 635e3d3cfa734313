package simbroker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockrs-go/tradeengine/internal/apperr"
	"github.com/stockrs-go/tradeengine/internal/bars"
	"github.com/stockrs-go/tradeengine/internal/config"
	"github.com/stockrs-go/tradeengine/internal/execution"
	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
)

type fixedClock struct{ ts string }

func (f fixedClock) Now() time.Time      { return time.Now() }
func (f fixedClock) FormatYMDHM() string { return f.ts }

func newTestBroker(t *testing.T, ts string, initialCapital float64) (*SimBroker, *bars.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minute.db")
	store, err := bars.Open(path, "minute_bars")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.BacktestConfig{
		BuyFeeRate: 0.00015, SellFeeRate: 0.00215,
		BuySlippageRate: 0.0005, SellSlippageRate: 0.0005,
	}
	sb := New(store, fixedClock{ts: ts}, cfg, decimal.NewFromFloat(initialCapital))
	return sb, store
}

func TestExecuteOrder_Buy_AppliesSlippageAndFee(t *testing.T) {
	sb, store := newTestBroker(t, "202401020901", 10_000_000)
	ctx := context.Background()
	require.NoError(t, store.InsertBar(ctx, bars.Bar{
		StockCode: "005930", Timestamp: "202401020901", Close: decimal.NewFromInt(70000), Volume: 1000,
	}))

	orderID, err := sb.ExecuteOrder(ctx, tradingtypes.Order{StockCode: "005930", Side: tradingtypes.SideBuy, Quantity: 10})
	require.NoError(t, err)

	fill, err := sb.CheckFill(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, execution.FillStateFilled, fill.State)

	expectedPrice := decimal.NewFromInt(70000).Mul(decimal.NewFromFloat(1.0005))
	assert.True(t, fill.Price.Equal(expectedPrice), "got %s want %s", fill.Price, expectedPrice)

	expectedFee := expectedPrice.Mul(decimal.NewFromInt(10)).Mul(decimal.NewFromFloat(0.00015))
	assert.True(t, fill.Fee.Equal(expectedFee), "got %s want %s", fill.Fee, expectedFee)
}

func TestExecuteOrder_Sell_RequiresSufficientPosition(t *testing.T) {
	sb, store := newTestBroker(t, "202401020901", 10_000_000)
	ctx := context.Background()
	require.NoError(t, store.InsertBar(ctx, bars.Bar{
		StockCode: "005930", Timestamp: "202401020901", Close: decimal.NewFromInt(70000), Volume: 1000,
	}))

	_, err := sb.ExecuteOrder(ctx, tradingtypes.Order{StockCode: "005930", Side: tradingtypes.SideSell, Quantity: 1})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExecution))
}

func TestExecuteOrder_Buy_RejectsInsufficientBalance(t *testing.T) {
	sb, store := newTestBroker(t, "202401020901", 100)
	ctx := context.Background()
	require.NoError(t, store.InsertBar(ctx, bars.Bar{
		StockCode: "005930", Timestamp: "202401020901", Close: decimal.NewFromInt(70000), Volume: 1000,
	}))

	_, err := sb.ExecuteOrder(ctx, tradingtypes.Order{StockCode: "005930", Side: tradingtypes.SideBuy, Quantity: 10})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExecution))
}

func TestGetAveragePrice_WeightedAcrossTwoBuys(t *testing.T) {
	sb, store := newTestBroker(t, "202401020901", 10_000_000)
	ctx := context.Background()
	require.NoError(t, store.InsertBar(ctx, bars.Bar{
		StockCode: "005930", Timestamp: "202401020901", Close: decimal.NewFromInt(70000), Volume: 1000,
	}))
	_, err := sb.ExecuteOrder(ctx, tradingtypes.Order{StockCode: "005930", Side: tradingtypes.SideBuy, Quantity: 10})
	require.NoError(t, err)

	require.NoError(t, store.InsertBar(ctx, bars.Bar{
		StockCode: "005930", Timestamp: "202401020902", Close: decimal.NewFromInt(71000), Volume: 1000,
	}))
	sb.clock = fixedClock{ts: "202401020902"}
	_, err = sb.ExecuteOrder(ctx, tradingtypes.Order{StockCode: "005930", Side: tradingtypes.SideBuy, Quantity: 10})
	require.NoError(t, err)

	avg, err := sb.GetAveragePrice(ctx, "005930")
	require.NoError(t, err)
	assert.True(t, avg.GreaterThan(decimal.NewFromInt(70000)))
	assert.True(t, avg.LessThan(decimal.NewFromInt(71100)))
}

func TestGetAveragePrice_NoPositionErrors(t *testing.T) {
	sb, _ := newTestBroker(t, "202401020901", 10_000_000)
	_, err := sb.GetAveragePrice(context.Background(), "005930")
	require.Error(t, err)
}
