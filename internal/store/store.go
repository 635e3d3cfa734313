// Package store persists trades and the daily overview rollup. The schema
// is two tables — trading and overview — matching the engine's own history
// of this data rather than a normalized ledger, since the overview row is
// rebuilt from the trading rows (or from account balance, for the
// open/high/low columns) rather than stored redundantly elsewhere.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stockrs-go/tradeengine/internal/apperr"
	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
)

// Store is the gorm-backed trading/overview persistence layer.
type Store struct {
	db *gorm.DB
}

// tradeModel is the trading table row. Amounts are stored as strings
// (decimal.Decimal's native gorm representation) to avoid float rounding
// drift across runs.
type tradeModel struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID       string `gorm:"column:order_id;index"`
	RunID         string `gorm:"column:run_id;index"`
	Date          string `gorm:"column:date;index"`
	Time          string `gorm:"column:time"`
	StockCode     string `gorm:"column:stockcode"`
	BuyOrSell     string `gorm:"column:buy_or_sell"`
	Quantity      int64  `gorm:"column:quantity"`
	Price         string `gorm:"column:price"`
	IntendedPrice string `gorm:"column:intended_price"`
	Fee           string `gorm:"column:fee"`
	Strategy      string `gorm:"column:strategy"`
	AvgPrice      string `gorm:"column:avg_price"`
	Profit        string `gorm:"column:profit"`
	ROI           string `gorm:"column:roi"`
	Note          string `gorm:"column:note"`
}

func (tradeModel) TableName() string { return "trading" }

// overviewModel is the one-row-per-trading-day rollup.
type overviewModel struct {
	Date   string `gorm:"column:date;primaryKey"`
	Open   string `gorm:"column:open"`
	High   string `gorm:"column:high"`
	Low    string `gorm:"column:low"`
	Close  string `gorm:"column:close"`
	Volume string `gorm:"column:volume"`
	Fee    string `gorm:"column:fee"`
	Profit string `gorm:"column:profit"`
	ROI    string `gorm:"column:roi"`
}

func (overviewModel) TableName() string { return "overview" }

// New opens (creating if absent) the SQLite database at path and migrates
// the trading/overview tables.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, apperr.New(apperr.KindConfig, "store.New", "trading store path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "store.New", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindData, "store.New", err)
	}
	if err := db.AutoMigrate(&tradeModel{}, &overviewModel{}); err != nil {
		return nil, apperr.Wrap(apperr.KindData, "store.New", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindData, "store.New", err)
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveTrade inserts a completed fill into the trading table. Satisfies
// broker.Store.
func (s *Store) SaveTrade(ctx context.Context, trade tradingtypes.Trade) error {
	date, tm := splitTimestamp(trade.ExecutedAt)
	model := tradeModel{
		OrderID:       trade.OrderID,
		RunID:         trade.RunID,
		Date:          date,
		Time:          tm,
		StockCode:     trade.StockCode,
		BuyOrSell:     string(trade.Side),
		Quantity:      trade.Quantity,
		Price:         trade.Price.String(),
		IntendedPrice: trade.IntendedPrice.String(),
		Fee:           trade.Fee.String(),
		Strategy:      trade.Strategy,
		AvgPrice:      trade.AvgPrice.String(),
		Profit:        trade.Profit.String(),
		ROI:           trade.ROI.String(),
		Note:          trade.Note,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return apperr.Wrap(apperr.KindData, "store.SaveTrade", err)
	}
	return nil
}

// InsertOverview creates today's overview row seeded with the account's
// current total asset value as open/high/low, unless a row for date
// already exists — in which case this is a no-op, matching the
// insert-once-per-day semantics callers rely on when a restart replays
// reset_for_new_day on the same day.
func (s *Store) InsertOverview(ctx context.Context, date string, asset decimal.Decimal) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&overviewModel{}).Where("date = ?", date).Count(&count).Error; err != nil {
		return apperr.Wrap(apperr.KindData, "store.InsertOverview", err)
	}
	if count > 0 {
		return nil
	}
	model := overviewModel{
		Date: date,
		Open: asset.String(),
		High: asset.String(),
		Low:  asset.String(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return apperr.Wrap(apperr.KindData, "store.InsertOverview", err)
	}
	return nil
}

// UpdateOverview widens today's high/low bracket against the account's
// current total asset value. If no row exists yet for date, it is created
// first (seeded at asset), matching the semantics of tolerating an update
// that races ahead of the day's insert.
func (s *Store) UpdateOverview(ctx context.Context, date string, asset decimal.Decimal) error {
	var row overviewModel
	err := s.db.WithContext(ctx).Where("date = ?", date).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return s.InsertOverview(ctx, date, asset)
		}
		return apperr.Wrap(apperr.KindData, "store.UpdateOverview", err)
	}

	high, err := decimal.NewFromString(row.High)
	if err != nil {
		return apperr.Wrap(apperr.KindData, "store.UpdateOverview", err)
	}
	low, err := decimal.NewFromString(row.Low)
	if err != nil {
		return apperr.Wrap(apperr.KindData, "store.UpdateOverview", err)
	}

	if asset.GreaterThan(high) {
		high = asset
	}
	if asset.LessThan(low) {
		low = asset
	}

	if err := s.db.WithContext(ctx).Model(&overviewModel{}).
		Where("date = ?", date).
		Updates(map[string]interface{}{"high": high.String(), "low": low.String()}).Error; err != nil {
		return apperr.Wrap(apperr.KindData, "store.UpdateOverview", err)
	}
	return nil
}

// FinishOverview closes out today's overview row: close is set to the
// current asset value, profit/ROI are derived from open, and fee/volume
// are aggregated from the day's trading rows via COALESCE so a day with
// zero trades still finishes cleanly at zero rather than erroring or
// leaving the columns null. volume is traded value (Σ real_price·qty),
// not share count.
func (s *Store) FinishOverview(ctx context.Context, date string, asset decimal.Decimal) error {
	var row overviewModel
	if err := s.db.WithContext(ctx).Where("date = ?", date).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			if err := s.InsertOverview(ctx, date, asset); err != nil {
				return err
			}
			if err := s.db.WithContext(ctx).Where("date = ?", date).First(&row).Error; err != nil {
				return apperr.Wrap(apperr.KindData, "store.FinishOverview", err)
			}
		} else {
			return apperr.Wrap(apperr.KindData, "store.FinishOverview", err)
		}
	}

	open, err := decimal.NewFromString(row.Open)
	if err != nil {
		return apperr.Wrap(apperr.KindData, "store.FinishOverview", err)
	}

	profit := asset.Sub(open)
	var roi decimal.Decimal
	if !open.IsZero() {
		roi = profit.Div(open).Mul(decimal.NewFromInt(100))
	}

	var agg struct {
		Fee    string
		Volume string
	}
	if err := s.db.WithContext(ctx).
		Model(&tradeModel{}).
		Select("COALESCE(SUM(CAST(fee AS REAL)), 0.0) AS fee, COALESCE(SUM(CAST(price AS REAL) * quantity), 0.0) AS volume").
		Where("date = ?", date).
		Scan(&agg).Error; err != nil {
		return apperr.Wrap(apperr.KindData, "store.FinishOverview", err)
	}
	fee := decimal.Zero
	if agg.Fee != "" {
		fee, err = decimal.NewFromString(agg.Fee)
		if err != nil {
			fee = decimal.Zero
		}
	}
	volume := decimal.Zero
	if agg.Volume != "" {
		volume, err = decimal.NewFromString(agg.Volume)
		if err != nil {
			volume = decimal.Zero
		}
	}

	if err := s.db.WithContext(ctx).Model(&overviewModel{}).
		Where("date = ?", date).
		Updates(map[string]interface{}{
			"close":  asset.String(),
			"profit": profit.String(),
			"roi":    roi.String(),
			"fee":    fee.String(),
			"volume": volume.String(),
		}).Error; err != nil {
		return apperr.Wrap(apperr.KindData, "store.FinishOverview", err)
	}
	return nil
}

// ResetForNewDay re-seeds the overview row for a fresh trading day,
// identical to InsertOverview — the no-op-if-exists guard makes the two
// calls interchangeable, but ResetForNewDay names the Runner's actual
// intent at the DataPrep/Overnight boundary.
func (s *Store) ResetForNewDay(ctx context.Context, date string, asset decimal.Decimal) error {
	return s.InsertOverview(ctx, date, asset)
}

// Overview returns the persisted rollup row for date, if any.
func (s *Store) Overview(ctx context.Context, date string) (tradingtypes.Overview, bool, error) {
	var row overviewModel
	if err := s.db.WithContext(ctx).Where("date = ?", date).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return tradingtypes.Overview{}, false, nil
		}
		return tradingtypes.Overview{}, false, apperr.Wrap(apperr.KindData, "store.Overview", err)
	}
	ov, err := overviewModelToRecord(row)
	if err != nil {
		return tradingtypes.Overview{}, false, apperr.Wrap(apperr.KindData, "store.Overview", err)
	}
	return ov, true, nil
}

func overviewModelToRecord(m overviewModel) (tradingtypes.Overview, error) {
	parse := func(s string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}
	open, err := parse(m.Open)
	if err != nil {
		return tradingtypes.Overview{}, err
	}
	high, err := parse(m.High)
	if err != nil {
		return tradingtypes.Overview{}, err
	}
	low, err := parse(m.Low)
	if err != nil {
		return tradingtypes.Overview{}, err
	}
	close, err := parse(m.Close)
	if err != nil {
		return tradingtypes.Overview{}, err
	}
	volume, err := parse(m.Volume)
	if err != nil {
		return tradingtypes.Overview{}, err
	}
	fee, err := parse(m.Fee)
	if err != nil {
		return tradingtypes.Overview{}, err
	}
	profit, err := parse(m.Profit)
	if err != nil {
		return tradingtypes.Overview{}, err
	}
	roi, err := parse(m.ROI)
	if err != nil {
		return tradingtypes.Overview{}, err
	}
	return tradingtypes.Overview{
		Date:   m.Date,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: volume,
		Fee:    fee,
		Profit: profit,
		ROI:    roi,
	}, nil
}

func splitTimestamp(t time.Time) (date, tm string) {
	return t.Format("20060102"), t.Format("1504")
}
