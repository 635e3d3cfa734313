package timeservice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stockrs-go/tradeengine/internal/calendar"
	"github.com/stockrs-go/tradeengine/internal/config"
	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCalendar(t *testing.T, dates ...string) *calendar.TradingCalendar {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dates.csv")
	body := ""
	for _, d := range dates {
		body += d + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cal, err := calendar.Load(path, "")
	require.NoError(t, err)
	return cal
}

func testHours() config.MarketHoursConfig {
	return config.MarketHoursConfig{
		DataPrepTime:    "08:30",
		TradingStart:    "09:00",
		LastUpdateTime:  "15:29",
		TradingEndTime:  "15:30",
		MarketCloseTime: "15:30",
	}
}

func TestNew_AdvancesToFirstEvent(t *testing.T) {
	cal := testCalendar(t, "20240102")
	start := time.Date(2024, 1, 2, 8, 0, 0, 0, time.Local)

	ts, err := New(cal, testHours(), 0, 60, start)
	require.NoError(t, err)

	ev := ts.CurrentEvent()
	assert.Equal(t, tradingtypes.EventDataPrep, ev.Tag)
	assert.Equal(t, 8, ev.At.Hour())
	assert.Equal(t, 30, ev.At.Minute())
}

func TestWaitUntilNextEvent_Backtest_Sequence(t *testing.T) {
	cal := testCalendar(t, "20240102", "20240103")
	start := time.Date(2024, 1, 2, 8, 0, 0, 0, time.Local)
	ts, err := New(cal, testHours(), 0, 60, start)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, ts.WaitUntilNextEvent(ctx, ModeBacktest))
	assert.Equal(t, tradingtypes.EventMarketOpen, ts.CurrentEvent().Tag)

	require.NoError(t, ts.WaitUntilNextEvent(ctx, ModeBacktest))
	first := ts.CurrentEvent()
	assert.Equal(t, tradingtypes.EventUpdate, first.Tag)
	assert.Equal(t, 9, first.At.Hour())
	assert.Equal(t, 1, first.At.Minute())
}

func TestWaitUntilNextEvent_Backtest_IsInstantaneous(t *testing.T) {
	cal := testCalendar(t, "20240102", "20240103")
	start := time.Date(2024, 1, 2, 8, 0, 0, 0, time.Local)
	ts, err := New(cal, testHours(), 0, 60, start)
	require.NoError(t, err)

	began := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, ts.WaitUntilNextEvent(context.Background(), ModeBacktest))
	}
	assert.Less(t, time.Since(began), 50*time.Millisecond)
}

func TestComputeNext_OvernightFiresRightAfterMarketCloseThenSkipsToDataPrep(t *testing.T) {
	cal := testCalendar(t, "20240102", "20240103")
	atClose := time.Date(2024, 1, 2, 15, 30, 0, 0, time.Local)
	ts, err := New(cal, testHours(), 0, 60, atClose)
	require.NoError(t, err)

	ev := ts.CurrentEvent()
	assert.Equal(t, tradingtypes.EventOvernight, ev.Tag)
	assert.Equal(t, 2, ev.At.Day())
	assert.Equal(t, 15, ev.At.Hour())
	assert.Equal(t, 31, ev.At.Minute())

	require.NoError(t, ts.WaitUntilNextEvent(context.Background(), ModeBacktest))
	next := ts.CurrentEvent()
	assert.Equal(t, tradingtypes.EventDataPrep, next.Tag)
	assert.Equal(t, 3, next.At.Day())
	assert.Equal(t, 8, next.At.Hour())
	assert.Equal(t, 30, next.At.Minute())
}

func TestComputeNext_PastOvernightJumpsStraightToNextDataPrep(t *testing.T) {
	cal := testCalendar(t, "20240102", "20240103")
	afterOvernight := time.Date(2024, 1, 2, 16, 0, 0, 0, time.Local)
	ts, err := New(cal, testHours(), 0, 60, afterOvernight)
	require.NoError(t, err)

	ev := ts.CurrentEvent()
	assert.Equal(t, tradingtypes.EventDataPrep, ev.Tag)
	assert.Equal(t, 3, ev.At.Day())
}

func TestSpecialStartDateShiftsBoundaries(t *testing.T) {
	dir := t.TempDir()
	tradingPath := filepath.Join(dir, "trading.csv")
	specialPath := filepath.Join(dir, "special.csv")
	require.NoError(t, os.WriteFile(tradingPath, []byte("20240102\n"), 0o600))
	require.NoError(t, os.WriteFile(specialPath, []byte("20240102\n"), 0o600))
	cal, err := calendar.Load(tradingPath, specialPath)
	require.NoError(t, err)

	start := time.Date(2024, 1, 2, 8, 0, 0, 0, time.Local)
	ts, err := New(cal, testHours(), 60, 60, start)
	require.NoError(t, err)

	ev := ts.CurrentEvent()
	assert.Equal(t, tradingtypes.EventDataPrep, ev.Tag)
	assert.Equal(t, 9, ev.At.Hour())
	assert.Equal(t, 30, ev.At.Minute())
}

func TestEventsStrictlyIncreasing(t *testing.T) {
	cal := testCalendar(t, "20240102", "20240103")
	start := time.Date(2024, 1, 2, 8, 0, 0, 0, time.Local)
	ts, err := New(cal, testHours(), 0, 60, start)
	require.NoError(t, err)

	prev := ts.CurrentEvent().At
	for i := 0; i < 10; i++ {
		require.NoError(t, ts.WaitUntilNextEvent(context.Background(), ModeBacktest))
		cur := ts.CurrentEvent().At
		assert.True(t, cur.After(prev), "event %d: %s should be after %s", i, cur, prev)
		prev = cur
	}
}
