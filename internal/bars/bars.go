// Package bars is a thin, cgo-free SQLite query layer over 1-minute and
// daily OHLCV bar tables. The engine only reads from it — prices come from a
// data pipeline outside this module's scope — serving lookups for SimBroker
// fills and Predictor feature extraction; InsertBar is the one write path,
// an upsert for seeding a table.
package bars

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/stockrs-go/tradeengine/internal/apperr"
)

// Bar is one OHLCV row for a stock at a given timestamp key. Timestamp is
// YYYYMMDDHHMM for minute bars or YYYYMMDD for daily bars — a string key
// avoids timezone ambiguity across the whole persistence layer.
type Bar struct {
	StockCode string
	Timestamp string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Store wraps a single SQLite-backed bar table (the caller decides whether
// it's the minute-bar or the daily-bar database by the path it opens).
type Store struct {
	db    *sql.DB
	table string
}

// Open opens (creating if necessary) a bar database at path and ensures the
// table schema exists. table is typically "minute_bars" or "daily_bars".
func Open(path, table string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindData, "bars.Open", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		stock_code TEXT NOT NULL,
		ts TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		PRIMARY KEY (stock_code, ts)
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return apperr.Wrap(apperr.KindData, "bars.ensureSchema", err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts)`, s.table, s.table)
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return apperr.Wrap(apperr.KindData, "bars.ensureSchema", err)
	}
	return nil
}

// InsertBar upserts a single bar row.
func (s *Store) InsertBar(ctx context.Context, b Bar) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (stock_code, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stock_code, ts) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume`, s.table)
	_, err := s.db.ExecContext(ctx, stmt, b.StockCode, b.Timestamp,
		mustFloat(b.Open), mustFloat(b.High), mustFloat(b.Low), mustFloat(b.Close), b.Volume)
	if err != nil {
		return apperr.Wrap(apperr.KindData, "bars.InsertBar", err)
	}
	return nil
}

// GetBar fetches the exact bar at (stockCode, ts).
func (s *Store) GetBar(ctx context.Context, stockCode, ts string) (Bar, error) {
	stmt := fmt.Sprintf(`SELECT stock_code, ts, open, high, low, close, volume FROM %s
		WHERE stock_code = ? AND ts = ?`, s.table)
	row := s.db.QueryRowContext(ctx, stmt, stockCode, ts)
	bar, err := scanBar(row)
	if err != nil {
		return Bar{}, apperr.Wrap(apperr.KindData, "bars.GetBar", err)
	}
	return bar, nil
}

// LatestBarAtOrBefore returns the most recent bar for stockCode whose
// timestamp is <= ts — the price SimBroker fills against when the exact
// minute has no print.
func (s *Store) LatestBarAtOrBefore(ctx context.Context, stockCode, ts string) (Bar, error) {
	stmt := fmt.Sprintf(`SELECT stock_code, ts, open, high, low, close, volume FROM %s
		WHERE stock_code = ? AND ts <= ? ORDER BY ts DESC LIMIT 1`, s.table)
	row := s.db.QueryRowContext(ctx, stmt, stockCode, ts)
	bar, err := scanBar(row)
	if err != nil {
		return Bar{}, apperr.Wrap(apperr.KindData, "bars.LatestBarAtOrBefore", err)
	}
	return bar, nil
}

// RangeBars returns all bars for stockCode with fromTS <= ts <= toTS,
// ordered ascending — the shape Features needs for rolling windows.
func (s *Store) RangeBars(ctx context.Context, stockCode, fromTS, toTS string) ([]Bar, error) {
	stmt := fmt.Sprintf(`SELECT stock_code, ts, open, high, low, close, volume FROM %s
		WHERE stock_code = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`, s.table)
	rows, err := s.db.QueryContext(ctx, stmt, stockCode, fromTS, toTS)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindData, "bars.RangeBars", err)
	}
	defer rows.Close()
	return scanBars(rows)
}

// TopByTradedValue returns the stock codes with the highest traded value —
// Σ close*volume over every minute bar with fromTS <= ts <= toTS — descending,
// truncated to limit. This is the candidate-ranking primitive Predictor uses
// before applying the inclusion-list filter.
func (s *Store) TopByTradedValue(ctx context.Context, fromTS, toTS string, limit int) ([]string, error) {
	stmt := fmt.Sprintf(`SELECT stock_code FROM %s WHERE ts >= ? AND ts <= ?
		GROUP BY stock_code ORDER BY SUM(close * volume) DESC LIMIT ?`, s.table)
	rows, err := s.db.QueryContext(ctx, stmt, fromTS, toTS, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindData, "bars.TopByTradedValue", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, apperr.Wrap(apperr.KindData, "bars.TopByTradedValue", err)
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBar(row scanner) (Bar, error) {
	var b Bar
	var open, high, low, closeVal float64
	if err := row.Scan(&b.StockCode, &b.Timestamp, &open, &high, &low, &closeVal, &b.Volume); err != nil {
		return Bar{}, err
	}
	b.Open = decimal.NewFromFloat(open)
	b.High = decimal.NewFromFloat(high)
	b.Low = decimal.NewFromFloat(low)
	b.Close = decimal.NewFromFloat(closeVal)
	return b, nil
}

func scanBars(rows *sql.Rows) ([]Bar, error) {
	var out []Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
