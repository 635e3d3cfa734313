package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trading.db")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_EmptyPathIsError(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestSaveTrade_PersistsRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := tradingtypes.Trade{
		OrderID:       "ord-1",
		RunID:         "run-1",
		StockCode:     "005930",
		Side:          tradingtypes.SideBuy,
		Quantity:      10,
		IntendedPrice: decimal.NewFromInt(70000),
		Price:         decimal.NewFromInt(70035),
		Fee:           decimal.NewFromFloat(10.5),
		Strategy:      "joonwoo",
		AvgPrice:      decimal.NewFromInt(70035),
		ExecutedAt:    time.Date(2024, 1, 2, 9, 1, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveTrade(ctx, trade))

	var count int64
	require.NoError(t, s.db.Model(&tradeModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestInsertOverview_SeedsOpenHighLow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertOverview(ctx, "20240102", decimal.NewFromInt(10_000_000)))

	ov, ok, err := s.Overview(ctx, "20240102")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ov.Open.Equal(decimal.NewFromInt(10_000_000)))
	assert.True(t, ov.High.Equal(decimal.NewFromInt(10_000_000)))
	assert.True(t, ov.Low.Equal(decimal.NewFromInt(10_000_000)))
}

func TestInsertOverview_NoOpIfAlreadyExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertOverview(ctx, "20240102", decimal.NewFromInt(10_000_000)))
	require.NoError(t, s.InsertOverview(ctx, "20240102", decimal.NewFromInt(99_999_999)))

	ov, ok, err := s.Overview(ctx, "20240102")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ov.Open.Equal(decimal.NewFromInt(10_000_000)), "second insert must not overwrite the day's open")
}

func TestUpdateOverview_WidensHighLowBracket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertOverview(ctx, "20240102", decimal.NewFromInt(10_000_000)))
	require.NoError(t, s.UpdateOverview(ctx, "20240102", decimal.NewFromInt(10_500_000)))
	require.NoError(t, s.UpdateOverview(ctx, "20240102", decimal.NewFromInt(9_800_000)))
	require.NoError(t, s.UpdateOverview(ctx, "20240102", decimal.NewFromInt(10_100_000)))

	ov, ok, err := s.Overview(ctx, "20240102")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ov.High.Equal(decimal.NewFromInt(10_500_000)))
	assert.True(t, ov.Low.Equal(decimal.NewFromInt(9_800_000)))
}

func TestUpdateOverview_CreatesRowIfMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateOverview(ctx, "20240103", decimal.NewFromInt(5_000_000)))

	ov, ok, err := s.Overview(ctx, "20240103")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ov.Open.Equal(decimal.NewFromInt(5_000_000)))
}

func TestFinishOverview_ComputesProfitAndROI(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertOverview(ctx, "20240102", decimal.NewFromInt(10_000_000)))
	require.NoError(t, s.FinishOverview(ctx, "20240102", decimal.NewFromInt(10_500_000)))

	ov, ok, err := s.Overview(ctx, "20240102")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ov.Close.Equal(decimal.NewFromInt(10_500_000)))
	assert.True(t, ov.Profit.Equal(decimal.NewFromInt(500_000)))
	assert.True(t, ov.ROI.Equal(decimal.NewFromFloat(5)))
	assert.True(t, ov.Volume.IsZero())
	assert.True(t, ov.Fee.IsZero())
}

func TestFinishOverview_AggregatesTradingRowsWithCoalesce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertOverview(ctx, "20240102", decimal.NewFromInt(10_000_000)))
	require.NoError(t, s.SaveTrade(ctx, tradingtypes.Trade{
		OrderID: "ord-1", StockCode: "005930", Side: tradingtypes.SideBuy,
		Quantity: 10, Price: decimal.NewFromInt(70000), Fee: decimal.NewFromFloat(100.5),
		ExecutedAt: time.Date(2024, 1, 2, 9, 1, 0, 0, time.UTC),
	}))
	require.NoError(t, s.SaveTrade(ctx, tradingtypes.Trade{
		OrderID: "ord-2", StockCode: "005930", Side: tradingtypes.SideSell,
		Quantity: 10, Price: decimal.NewFromInt(70500), Fee: decimal.NewFromFloat(200.25),
		ExecutedAt: time.Date(2024, 1, 2, 9, 5, 0, 0, time.UTC),
	}))

	require.NoError(t, s.FinishOverview(ctx, "20240102", decimal.NewFromInt(10_050_000)))

	ov, ok, err := s.Overview(ctx, "20240102")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ov.Volume.Equal(decimal.NewFromInt(1_405_000)), "got %s", ov.Volume)
	assert.True(t, ov.Fee.Equal(decimal.NewFromFloat(300.75)), "got %s", ov.Fee)
}

func TestFinishOverview_NoPriorInsertStillFinishesCleanly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.FinishOverview(ctx, "20240104", decimal.NewFromInt(1_000_000)))

	ov, ok, err := s.Overview(ctx, "20240104")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ov.Open.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, ov.Close.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, ov.Profit.IsZero())
}

func TestResetForNewDay_SeedsFreshRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ResetForNewDay(ctx, "20240105", decimal.NewFromInt(2_000_000)))

	ov, ok, err := s.Overview(ctx, "20240105")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ov.Open.Equal(decimal.NewFromInt(2_000_000)))
}

func TestOverview_MissingDateIsNotFoundNotError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Overview(ctx, "19990101")
	require.NoError(t, err)
	assert.False(t, ok)
}
