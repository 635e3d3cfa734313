// Package features builds the fixed-length, named feature vector the
// predictor scores each candidate against. Every feature is looked up by
// name in a registry rather than hardcoded by position, so the ordered
// feature-name list loaded from disk controls both which features are
// present and in what order — adding one only means registering a new
// extractor func.
package features

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/stockrs-go/tradeengine/internal/apperr"
	"github.com/stockrs-go/tradeengine/internal/bars"
	"github.com/stockrs-go/tradeengine/internal/calendar"
)

const dateLayout = "20060102"

// Window bounds the intraday feature-extraction session, e.g. 09:00-09:30
// on a normal day, shifted by the special-start offset on delayed-open
// days. Times are "HH:MM".
type Window struct {
	Start string
	End   string
}

// Extractor computes named features from the minute-bar and daily-bar
// stores. historyDays is N for the day3 rolling-average family.
type Extractor struct {
	minute      *bars.Store
	daily       *bars.Store
	cal         *calendar.TradingCalendar
	historyDays int
}

// New constructs an Extractor. historyDays <= 0 defaults to 5.
func New(minute, daily *bars.Store, cal *calendar.TradingCalendar, historyDays int) *Extractor {
	if historyDays <= 0 {
		historyDays = 5
	}
	return &Extractor{minute: minute, daily: daily, cal: cal, historyDays: historyDays}
}

type extractorFunc func(ctx context.Context, e *Extractor, stockCode, date string, window Window) (float64, error)

var registry = map[string]extractorFunc{
	"day1_cumulative_volume_ratio":    day1CumulativeVolumeRatio,
	"day1_intraday_return_since_open": day1IntradayReturnSinceOpen,
	"day1_intraday_volatility":        day1IntradayVolatility,
	"day2_open_to_prevclose_gap":      day2OpenToPrevCloseGap,
	"day2_volume_ratio_vs_prevday":    day2VolumeRatioVsPrevDay,
	"day3_avg_daily_range_5d":         day3AvgDailyRange,
	"day3_avg_daily_volume_5d":        day3AvgDailyVolume,
	"day4_rsi_14":                     day4RSI,
	"day4_macd_histogram":             day4MACDHistogram,
	"day4_atr_14":                     day4ATR,
}

// Vector builds the ordered feature vector for stockCode on date, within
// window, from the named feature list. NaN/Inf values are normalized to
// 0.0 uniformly before being handed to the scorer. An unregistered name is
// a configuration error, not a silent skip.
func (e *Extractor) Vector(ctx context.Context, stockCode, date string, window Window, names []string) ([]float32, error) {
	out := make([]float32, len(names))
	for i, name := range names {
		fn, ok := registry[name]
		if !ok {
			return nil, apperr.New(apperr.KindPrediction, "features.Vector", "unknown feature %q", name)
		}
		v, err := fn(ctx, e, stockCode, date, window)
		if err != nil {
			return nil, err
		}
		out[i] = float32(normalize(v))
	}
	return out, nil
}

func normalize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.0
	}
	return v
}

func parseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, date, time.Local)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.KindTime, "features.parseDate", err)
	}
	return t, nil
}

func windowRange(date string, window Window) (fromTS, toTS string) {
	from := date + strings.ReplaceAll(window.Start, ":", "")
	to := date + strings.ReplaceAll(window.End, ":", "")
	return from, to
}

// priorDailyBars walks backward from date through the calendar, collecting
// up to n completed trading days strictly before date, oldest first. It
// stops (without error) once the calendar runs out of earlier days — that
// is the "insufficient history" case callers treat as neutral, not a data
// error. A calendar-known date whose bar row is actually missing from the
// daily store is a genuine data error and is propagated.
func (e *Extractor) priorDailyBars(ctx context.Context, stockCode, date string, n int) ([]bars.Bar, error) {
	cursor, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	var collected []bars.Bar
	for i := 0; i < n; i++ {
		prev, err := e.cal.PreviousTradingDay(cursor)
		if err != nil {
			break
		}
		bar, err := e.daily.GetBar(ctx, stockCode, prev.Format(dateLayout))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindData, "features.priorDailyBars", err)
		}
		collected = append(collected, bar)
		cursor = prev
	}
	// collected is newest-to-oldest; reverse to chronological order.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

func stdev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
}

// --- day1: intraday, from the 1-minute bar store within window ---

func day1CumulativeVolumeRatio(ctx context.Context, e *Extractor, stockCode, date string, window Window) (float64, error) {
	from, to := windowRange(date, window)
	rows, err := e.minute.RangeBars(ctx, stockCode, from, to)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindData, "features.day1CumulativeVolumeRatio", err)
	}
	if len(rows) == 0 {
		return 0, apperr.New(apperr.KindData, "features.day1CumulativeVolumeRatio", "no minute bars for %s in window %s-%s on %s", stockCode, window.Start, window.End, date)
	}
	first := rows[0].Volume
	if first == 0 {
		return 1.0, nil
	}
	last := rows[len(rows)-1].Volume
	return float64(last) / float64(first), nil
}

func day1IntradayReturnSinceOpen(ctx context.Context, e *Extractor, stockCode, date string, window Window) (float64, error) {
	from, to := windowRange(date, window)
	rows, err := e.minute.RangeBars(ctx, stockCode, from, to)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindData, "features.day1IntradayReturnSinceOpen", err)
	}
	if len(rows) == 0 {
		return 0, apperr.New(apperr.KindData, "features.day1IntradayReturnSinceOpen", "no minute bars for %s in window %s-%s on %s", stockCode, window.Start, window.End, date)
	}
	open, _ := rows[0].Open.Float64()
	if open <= 0 {
		return 0, apperr.New(apperr.KindData, "features.day1IntradayReturnSinceOpen", "non-positive open for %s on %s", stockCode, date)
	}
	close, _ := rows[len(rows)-1].Close.Float64()
	return (close - open) / open, nil
}

func day1IntradayVolatility(ctx context.Context, e *Extractor, stockCode, date string, window Window) (float64, error) {
	from, to := windowRange(date, window)
	rows, err := e.minute.RangeBars(ctx, stockCode, from, to)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindData, "features.day1IntradayVolatility", err)
	}
	if len(rows) < 2 {
		return 0.0, nil
	}
	var returns []float64
	prev, _ := rows[0].Close.Float64()
	for _, r := range rows[1:] {
		c, _ := r.Close.Float64()
		if prev != 0 {
			returns = append(returns, (c-prev)/prev)
		}
		prev = c
	}
	return stdev(returns), nil
}

// --- day2: previous-day-relative, from the daily bar store ---

func day2OpenToPrevCloseGap(ctx context.Context, e *Extractor, stockCode, date string, window Window) (float64, error) {
	t, err := parseDate(date)
	if err != nil {
		return 0, err
	}
	if e.cal.FirstTradingDay(t) {
		return 0, apperr.New(apperr.KindData, "features.day2OpenToPrevCloseGap", "no previous day for %s on the calendar's first trading day %s", stockCode, date)
	}
	prevDay, err := e.cal.PreviousTradingDay(t)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTime, "features.day2OpenToPrevCloseGap", err)
	}
	prevBar, err := e.daily.GetBar(ctx, stockCode, prevDay.Format(dateLayout))
	if err != nil {
		return 0, apperr.Wrap(apperr.KindData, "features.day2OpenToPrevCloseGap", err)
	}
	todayBar, err := e.daily.GetBar(ctx, stockCode, date)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindData, "features.day2OpenToPrevCloseGap", err)
	}
	prevClose, _ := prevBar.Close.Float64()
	if prevClose <= 0 {
		return 0, apperr.New(apperr.KindData, "features.day2OpenToPrevCloseGap", "non-positive previous close for %s on %s", stockCode, prevDay.Format(dateLayout))
	}
	todayOpen, _ := todayBar.Open.Float64()
	return todayOpen / prevClose, nil
}

// day2VolumeRatioVsPrevDay is the feature the calendar's first trading day
// must surface as an explicit error, never a silent default: there is no
// previous day to compare against, and unlike the original model this
// never substitutes a neutral value for that case — only a structurally
// missing row on a date that does have a previous day falls back to the
// "missing data" error path below, and a previous day with exactly zero
// volume (present, not missing) returns 0.0 rather than erroring.
func day2VolumeRatioVsPrevDay(ctx context.Context, e *Extractor, stockCode, date string, window Window) (float64, error) {
	t, err := parseDate(date)
	if err != nil {
		return 0, err
	}
	if e.cal.FirstTradingDay(t) {
		return 0, apperr.New(apperr.KindData, "features.day2VolumeRatioVsPrevDay", "no previous-day volume for %s on the calendar's first trading day %s", stockCode, date)
	}
	prevDay, err := e.cal.PreviousTradingDay(t)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTime, "features.day2VolumeRatioVsPrevDay", err)
	}
	prevBar, err := e.daily.GetBar(ctx, stockCode, prevDay.Format(dateLayout))
	if err != nil {
		return 0, apperr.New(apperr.KindData, "features.day2VolumeRatioVsPrevDay", "missing previous-day volume for %s on %s: %v", stockCode, prevDay.Format(dateLayout), err)
	}
	if prevBar.Volume == 0 {
		return 0.0, nil
	}
	from, to := windowRange(date, window)
	rows, err := e.minute.RangeBars(ctx, stockCode, from, to)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindData, "features.day2VolumeRatioVsPrevDay", err)
	}
	if len(rows) == 0 {
		return 0, apperr.New(apperr.KindData, "features.day2VolumeRatioVsPrevDay", "missing today's volume for %s on %s", stockCode, date)
	}
	var sum int64
	for _, r := range rows {
		sum += r.Volume
	}
	avgVolume := float64(sum) / float64(len(rows))
	return avgVolume / float64(prevBar.Volume), nil
}

// --- day3: historical, N-day rolling averages over the daily bar store ---

func day3AvgDailyRange(ctx context.Context, e *Extractor, stockCode, date string, window Window) (float64, error) {
	prior, err := e.priorDailyBars(ctx, stockCode, date, e.historyDays)
	if err != nil {
		return 0, err
	}
	if len(prior) == 0 {
		return 0.0, nil
	}
	var sum float64
	for _, b := range prior {
		high, _ := b.High.Float64()
		low, _ := b.Low.Float64()
		close, _ := b.Close.Float64()
		if close <= 0 {
			continue
		}
		sum += (high - low) / close
	}
	return sum / float64(len(prior)), nil
}

func day3AvgDailyVolume(ctx context.Context, e *Extractor, stockCode, date string, window Window) (float64, error) {
	prior, err := e.priorDailyBars(ctx, stockCode, date, e.historyDays)
	if err != nil {
		return 0, err
	}
	if len(prior) == 0 {
		return 0.0, nil
	}
	var sum int64
	for _, b := range prior {
		sum += b.Volume
	}
	return float64(sum) / float64(len(prior)), nil
}

// --- day4: technical indicators over completed daily closes ---
//
// Prediction runs intraday, before today's daily bar exists, so these are
// computed from history strictly before date — never from today's own
// close — via go-talib the same way an indicator pipeline feeds
// RSI/MACD/ATR from a rolling candle window.

const day4Lookback = 60

func day4RSI(ctx context.Context, e *Extractor, stockCode, date string, window Window) (float64, error) {
	prior, err := e.priorDailyBars(ctx, stockCode, date, day4Lookback)
	if err != nil {
		return 0, err
	}
	if len(prior) < 15 {
		return 50.0, nil
	}
	closes := closesOf(prior)
	rsi := talib.Rsi(closes, 14)
	return lastValid(rsi, 50.0), nil
}

func day4MACDHistogram(ctx context.Context, e *Extractor, stockCode, date string, window Window) (float64, error) {
	prior, err := e.priorDailyBars(ctx, stockCode, date, day4Lookback)
	if err != nil {
		return 0, err
	}
	if len(prior) < 35 {
		return 0.0, nil
	}
	closes := closesOf(prior)
	_, _, hist := talib.Macd(closes, 12, 26, 9)
	return lastValid(hist, 0.0), nil
}

func day4ATR(ctx context.Context, e *Extractor, stockCode, date string, window Window) (float64, error) {
	prior, err := e.priorDailyBars(ctx, stockCode, date, day4Lookback)
	if err != nil {
		return 0, err
	}
	if len(prior) < 15 {
		return 0.0, nil
	}
	highs := make([]float64, len(prior))
	lows := make([]float64, len(prior))
	closes := make([]float64, len(prior))
	for i, b := range prior {
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
		closes[i], _ = b.Close.Float64()
	}
	atr := talib.Atr(highs, lows, closes, 14)
	return lastValid(atr, 0.0), nil
}

func closesOf(rows []bars.Bar) []float64 {
	out := make([]float64, len(rows))
	for i, b := range rows {
		out[i], _ = b.Close.Float64()
	}
	return out
}

// lastValid returns the last non-NaN value in xs, or fallback if xs is
// empty or every value is still NaN (the talib warm-up period).
func lastValid(xs []float64, fallback float64) float64 {
	for i := len(xs) - 1; i >= 0; i-- {
		if !math.IsNaN(xs[i]) {
			return xs[i]
		}
	}
	return fallback
}
