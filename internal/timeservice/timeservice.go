// Package timeservice drives the engine's logical clock: it decides, from
// configured market hours and a trading calendar, what the next scheduled
// event is, and how to wait for it — by sleeping in paper/live mode, or by
// jumping instantly in backtest mode.
package timeservice

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stockrs-go/tradeengine/internal/apperr"
	"github.com/stockrs-go/tradeengine/internal/calendar"
	"github.com/stockrs-go/tradeengine/internal/config"
	"github.com/stockrs-go/tradeengine/internal/logger"
	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
)

// RunMode tells WaitUntilNextEvent whether to sleep on the wall clock or
// jump the logical clock instantly.
type RunMode int

const (
	ModeBacktest RunMode = iota
	ModeLive
)

// TimeService owns the logical "current instant" and the tag of the event
// it represents. now() is cached for cacheDuration so that every component
// touched within a single tick observes the same value.
type TimeService struct {
	cal   *calendar.TradingCalendar
	hours config.MarketHoursConfig

	specialOffset time.Duration
	cacheDuration time.Duration

	current    time.Time
	currentTag tradingtypes.EventTag

	cachedAt   time.Time
	cachedTime time.Time

	nowFn func() time.Time
}

// New builds a TimeService starting at start (typically start_date at
// 08:00 local time) and immediately advances to the first scheduled event,
// mirroring construction semantics of similar calendar-driven clocks.
func New(cal *calendar.TradingCalendar, hours config.MarketHoursConfig, specialOffsetMinutes int, eventCheckIntervalSeconds int, start time.Time) (*TimeService, error) {
	if cal == nil {
		return nil, apperr.New(apperr.KindConfig, "timeservice.New", "trading calendar is required")
	}
	if eventCheckIntervalSeconds <= 0 {
		eventCheckIntervalSeconds = 60
	}
	ts := &TimeService{
		cal:           cal,
		hours:         hours,
		specialOffset: time.Duration(specialOffsetMinutes) * time.Minute,
		cacheDuration: time.Duration(eventCheckIntervalSeconds) * time.Second / 2,
		current:       start,
		currentTag:    tradingtypes.EventDataPrep,
		nowFn:         time.Now,
	}
	next, tag, err := ts.computeNext(ts.current)
	if err != nil {
		return nil, err
	}
	ts.current = next
	ts.currentTag = tag
	ts.invalidateCache()
	return ts, nil
}

// Now returns the current logical instant, serving a cached value if one
// was captured within cacheDuration.
func (t *TimeService) Now() time.Time {
	if !t.cachedAt.IsZero() && t.nowFn().Sub(t.cachedAt) < t.cacheDuration {
		return t.cachedTime
	}
	return t.current
}

func (t *TimeService) updateCache() {
	t.cachedTime = t.current
	t.cachedAt = t.nowFn()
}

func (t *TimeService) invalidateCache() {
	t.cachedAt = time.Time{}
}

// CurrentEvent returns the TimeEvent the logical clock is presently
// parked on.
func (t *TimeService) CurrentEvent() tradingtypes.TimeEvent {
	return tradingtypes.TimeEvent{Tag: t.currentTag, At: t.current}
}

// NextEvent computes, without mutating state, the event strictly after the
// current instant.
func (t *TimeService) NextEvent() (tradingtypes.TimeEvent, error) {
	at, tag, err := t.computeNext(t.current)
	if err != nil {
		return tradingtypes.TimeEvent{}, err
	}
	return tradingtypes.TimeEvent{Tag: tag, At: at}, nil
}

// WaitUntilNextEvent advances the logical clock to the next event. In
// ModeBacktest this is instantaneous; in ModeLive it blocks until the wall
// clock reaches the event instant, then re-validates the calendar in case
// the day stopped being a trading day while asleep.
func (t *TimeService) WaitUntilNextEvent(ctx context.Context, mode RunMode) error {
	next, tag, err := t.computeNext(t.current)
	if err != nil {
		return err
	}

	if mode == ModeLive {
		if err := t.sleepUntil(ctx, next); err != nil {
			return err
		}
		if !t.cal.IsTradingDay(next) {
			skipped, skipTag, err := t.skipToNextTradingDay(next)
			if err != nil {
				return err
			}
			next, tag = skipped, skipTag
		}
	}

	t.current = next
	t.currentTag = tag
	t.updateCache()
	return nil
}

func (t *TimeService) sleepUntil(ctx context.Context, target time.Time) error {
	wait := target.Sub(t.nowFn())
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsSpecialStartDate reports whether date shifts its intraday schedule by
// the configured offset.
func (t *TimeService) IsSpecialStartDate(date time.Time) bool {
	return t.cal.IsSpecialStartDate(date)
}

// NextTradingDay / PreviousTradingDay expose calendar-aware day arithmetic.
func (t *TimeService) NextTradingDay(date time.Time) (time.Time, error) {
	return t.cal.NextTradingDay(date)
}

func (t *TimeService) PreviousTradingDay(date time.Time) (time.Time, error) {
	return t.cal.PreviousTradingDay(date)
}

// AddMinutes returns the current instant shifted by the given number of
// minutes, without mutating state.
func (t *TimeService) AddMinutes(minutes int) time.Time {
	return t.current.Add(time.Duration(minutes) * time.Minute)
}

// DiffMinutes returns the number of minutes between the current instant
// and other.
func (t *TimeService) DiffMinutes(other time.Time) int64 {
	return int64(t.current.Sub(other).Minutes())
}

// FormatYMD renders the current instant as YYYYMMDD, the daily-bar lookup
// key.
func (t *TimeService) FormatYMD() string {
	return t.current.Format("20060102")
}

// FormatYMDHM renders the current instant as YYYYMMDDHHMM, the minute-bar
// lookup key.
func (t *TimeService) FormatYMDHM() string {
	return t.current.Format("200601021504")
}

// FormatHMS renders the current instant as HH:MM:SS for log output.
func (t *TimeService) FormatHMS() string {
	return t.current.Format("15:04:05")
}

// computeNext implements the DataPrep → MarketOpen → Update → MarketClose
// → Overnight → (next trading day) DataPrep cycle, shifting all five
// boundary times by the special-start offset when applicable.
func (t *TimeService) computeNext(current time.Time) (time.Time, tradingtypes.EventTag, error) {
	day := time.Date(current.Year(), current.Month(), current.Day(), 0, 0, 0, 0, current.Location())
	if !t.cal.IsTradingDay(current) {
		return t.skipToNextTradingDay(current)
	}

	offset := time.Duration(0)
	if t.cal.IsSpecialStartDate(current) {
		offset = t.specialOffset
	}

	prep, err := t.clockOn(day, t.hours.DataPrepTime, offset)
	if err != nil {
		return time.Time{}, "", apperr.Wrap(apperr.KindTime, "computeNext.data_prep_time", err)
	}
	open, err := t.clockOn(day, t.hours.TradingStart, offset)
	if err != nil {
		return time.Time{}, "", apperr.Wrap(apperr.KindTime, "computeNext.trading_start_time", err)
	}
	lastUpdate, err := t.clockOn(day, t.hours.LastUpdateTime, offset)
	if err != nil {
		return time.Time{}, "", apperr.Wrap(apperr.KindTime, "computeNext.last_update_time", err)
	}
	marketClose, err := t.clockOn(day, t.hours.MarketCloseTime, offset)
	if err != nil {
		return time.Time{}, "", apperr.Wrap(apperr.KindTime, "computeNext.market_close_time", err)
	}
	// Overnight fires once, immediately after MarketClose, on the same
	// calendar day; the event strictly after that is the next trading
	// day's DataPrep (computed by skipToNextTradingDay below).
	overnight := marketClose.Add(time.Minute)

	switch {
	case current.Before(prep):
		return prep, tradingtypes.EventDataPrep, nil
	case current.Before(open):
		return open, tradingtypes.EventMarketOpen, nil
	case current.Before(lastUpdate):
		return current.Add(time.Minute), tradingtypes.EventUpdate, nil
	case current.Before(marketClose):
		return marketClose, tradingtypes.EventMarketClose, nil
	case current.Before(overnight):
		return overnight, tradingtypes.EventOvernight, nil
	default:
		return t.skipToNextTradingDay(current)
	}
}

// skipToNextTradingDay jumps straight to the next trading day's DataPrep
// instant: the event strictly after Overnight, and the recovery path when
// a live wait wakes up on a day that turned out not to be a trading day.
func (t *TimeService) skipToNextTradingDay(from time.Time) (time.Time, tradingtypes.EventTag, error) {
	nextDay, err := t.cal.NextTradingDay(from)
	if err != nil {
		return time.Time{}, "", apperr.Wrap(apperr.KindTime, "skipToNextTradingDay", err)
	}
	offset := time.Duration(0)
	if t.cal.IsSpecialStartDate(nextDay) {
		offset = t.specialOffset
	}
	prep, err := t.clockOn(nextDay, t.hours.DataPrepTime, offset)
	if err != nil {
		return time.Time{}, "", apperr.Wrap(apperr.KindTime, "skipToNextTradingDay.data_prep_time", err)
	}
	return prep, tradingtypes.EventDataPrep, nil
}

// clockOn parses an "HH:MM" string and returns the instant on day it
// denotes, shifted by offset.
func (t *TimeService) clockOn(day time.Time, hhmm string, offset time.Duration) (time.Time, error) {
	hour, min, err := parseHHMM(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	at := time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, day.Location())
	return at.Add(offset), nil
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time out of range: %q", s)
	}
	return hour, minute, nil
}

// LogCurrent emits a single info line describing the logical clock's
// position, in the style used throughout the ambient stack.
func (t *TimeService) LogCurrent() {
	logger.Infof("timeservice: now=%s tag=%s", t.FormatHMS(), t.currentTag)
}
