// Package calendar provides trading-day lookups backed by a flat file of
// YYYYMMDD dates, one per line, plus a separate set of dates the market
// opens on a delayed schedule (a shortened session, a special event).
package calendar

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const dateLayout = "20060102"

// TradingCalendar answers "is this a trading day" and "what's the next/
// previous one" in O(log n) via a sorted slice, and "is this date known at
// all" in O(1) via a companion set.
type TradingCalendar struct {
	dates   []time.Time // sorted ascending
	index   map[string]int
	special map[string]struct{}
}

// Load reads the trading-day file (one YYYYMMDD date per line, blank
// lines and lines starting with '#' ignored) and, if provided, the
// special-start-date file in the same format.
func Load(tradingDatesPath, specialStartDatesPath string) (*TradingCalendar, error) {
	dates, err := readDateFile(tradingDatesPath)
	if err != nil {
		return nil, fmt.Errorf("loading trading dates: %w", err)
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("trading dates file %s contained no dates", tradingDatesPath)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	index := make(map[string]int, len(dates))
	for i, d := range dates {
		index[d.Format(dateLayout)] = i
	}

	special := make(map[string]struct{})
	if specialStartDatesPath != "" {
		specialDates, err := readDateFile(specialStartDatesPath)
		if err != nil {
			return nil, fmt.Errorf("loading special start dates: %w", err)
		}
		for _, d := range specialDates {
			special[d.Format(dateLayout)] = struct{}{}
		}
	}

	return &TradingCalendar{dates: dates, index: index, special: special}, nil
}

func readDateFile(path string) ([]time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []time.Time
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// tolerate a trailing CSV column, e.g. "20240102,open"
		if idx := strings.IndexByte(line, ','); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		d, err := time.ParseInLocation(dateLayout, line, time.Local)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", line, err)
		}
		out = append(out, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// IsTradingDay reports whether the calendar day (ignoring time-of-day) is a
// known trading day.
func (c *TradingCalendar) IsTradingDay(t time.Time) bool {
	_, ok := c.index[t.Format(dateLayout)]
	return ok
}

// IsSpecialStartDate reports whether t is a day on which the market opens
// with a delayed or adjusted schedule.
func (c *TradingCalendar) IsSpecialStartDate(t time.Time) bool {
	_, ok := c.special[t.Format(dateLayout)]
	return ok
}

// NextTradingDay returns the first known trading day strictly after t. It
// errors if t is on or after the last date the calendar knows about.
func (c *TradingCalendar) NextTradingDay(t time.Time) (time.Time, error) {
	key := t.Format(dateLayout)
	if idx, ok := c.index[key]; ok {
		if idx+1 >= len(c.dates) {
			return time.Time{}, fmt.Errorf("no trading day after %s: end of calendar", key)
		}
		return c.dates[idx+1], nil
	}
	// t isn't itself a trading day: find the first date strictly after it.
	i := sort.Search(len(c.dates), func(i int) bool { return c.dates[i].After(t) })
	if i >= len(c.dates) {
		return time.Time{}, fmt.Errorf("no trading day after %s: end of calendar", key)
	}
	return c.dates[i], nil
}

// PreviousTradingDay returns the last known trading day strictly before t.
func (c *TradingCalendar) PreviousTradingDay(t time.Time) (time.Time, error) {
	key := t.Format(dateLayout)
	if idx, ok := c.index[key]; ok {
		if idx == 0 {
			return time.Time{}, fmt.Errorf("no trading day before %s: start of calendar", key)
		}
		return c.dates[idx-1], nil
	}
	i := sort.Search(len(c.dates), func(i int) bool { return !c.dates[i].Before(t) })
	if i == 0 {
		return time.Time{}, fmt.Errorf("no trading day before %s: start of calendar", key)
	}
	return c.dates[i-1], nil
}

// FirstTradingDay reports whether t is the earliest date this calendar
// knows about — the day on which day2 (previous-day-relative) features
// have no prior session to compare against.
func (c *TradingCalendar) FirstTradingDay(t time.Time) bool {
	if len(c.dates) == 0 {
		return false
	}
	return t.Format(dateLayout) == c.dates[0].Format(dateLayout)
}

// Bounds returns the first and last trading days the calendar knows about.
func (c *TradingCalendar) Bounds() (start, end time.Time) {
	if len(c.dates) == 0 {
		return time.Time{}, time.Time{}
	}
	return c.dates[0], c.dates[len(c.dates)-1]
}

// LoadScheduleRange reads the first "start,end" (YYYYMMDD,YYYYMMDD) line
// from the file at path — blank lines and '#' comments ignored — the run
// range time_management.schedule_dates_file_path names. A run reads this
// instead of explicit start_date/end_date config keys when
// auto_set_dates_from_file is true and neither date was set explicitly.
func LoadScheduleRange(path string) (start, end string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("invalid schedule line %q in %s: want \"start,end\"", line, path)
		}
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	return "", "", fmt.Errorf("schedule dates file %s contained no start,end line", path)
}
