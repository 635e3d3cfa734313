package calendar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDates(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dates.csv")
	require.NoError(t, os.WriteFile(path, []byte(joinLines(lines)), 0o600))
	return path
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

func date(s string) time.Time {
	d, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		panic(err)
	}
	return d
}

func TestLoad_SortsAndIndexes(t *testing.T) {
	path := writeDates(t, "20240103", "20240102", "# comment", "", "20240104")

	cal, err := Load(path, "")
	require.NoError(t, err)

	assert.True(t, cal.IsTradingDay(date("20240102")))
	assert.True(t, cal.IsTradingDay(date("20240103")))
	assert.False(t, cal.IsTradingDay(date("20240105")))
}

func TestLoad_EmptyFileErrors(t *testing.T) {
	path := writeDates(t, "# nothing here")
	_, err := Load(path, "")
	require.Error(t, err)
}

func TestNextPreviousTradingDay(t *testing.T) {
	path := writeDates(t, "20240102", "20240103", "20240104")
	cal, err := Load(path, "")
	require.NoError(t, err)

	next, err := cal.NextTradingDay(date("20240102"))
	require.NoError(t, err)
	assert.Equal(t, date("20240103"), next)

	prev, err := cal.PreviousTradingDay(date("20240104"))
	require.NoError(t, err)
	assert.Equal(t, date("20240103"), prev)

	_, err = cal.NextTradingDay(date("20240104"))
	assert.Error(t, err)

	_, err = cal.PreviousTradingDay(date("20240102"))
	assert.Error(t, err)
}

func TestFirstTradingDay(t *testing.T) {
	path := writeDates(t, "20240102", "20240103")
	cal, err := Load(path, "")
	require.NoError(t, err)

	assert.True(t, cal.FirstTradingDay(date("20240102")))
	assert.False(t, cal.FirstTradingDay(date("20240103")))
}

func TestSpecialStartDates(t *testing.T) {
	tradingPath := writeDates(t, "20240102", "20240103")
	specialPath := writeDates(t, "20240103")

	cal, err := Load(tradingPath, specialPath)
	require.NoError(t, err)

	assert.False(t, cal.IsSpecialStartDate(date("20240102")))
	assert.True(t, cal.IsSpecialStartDate(date("20240103")))
}

func TestLoadScheduleRange(t *testing.T) {
	path := writeDates(t, "# run range", "", "20240102,20240131")

	start, end, err := LoadScheduleRange(path)
	require.NoError(t, err)
	assert.Equal(t, "20240102", start)
	assert.Equal(t, "20240131", end)
}

func TestLoadScheduleRange_MalformedLine(t *testing.T) {
	path := writeDates(t, "20240102")

	_, _, err := LoadScheduleRange(path)
	assert.Error(t, err)
}

func TestLoadScheduleRange_Empty(t *testing.T) {
	path := writeDates(t, "# nothing here")

	_, _, err := LoadScheduleRange(path)
	assert.Error(t, err)
}
