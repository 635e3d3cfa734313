package config

import (
	"fmt"
	"strings"
)

// validate performs basic structural validation on a loaded configuration.
func validate(c *Config) error {
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.OnnxModel.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.TimeManagement.validate(); err != nil {
		return err
	}
	if err := c.MarketHours.validate(); err != nil {
		return err
	}
	if err := c.TokenManagement.validate(); err != nil {
		return err
	}
	if err := c.KoreaInvestmentAPI.validate(c.Trading.DefaultMode); err != nil {
		return err
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	if strings.TrimSpace(d.TradingStorePath) == "" {
		return fmt.Errorf("database.trading_store_path cannot be empty")
	}
	return nil
}

func (o *OnnxModelConfig) validate() error {
	if strings.TrimSpace(o.ModelPath) == "" {
		return fmt.Errorf("onnx_model.model_path cannot be empty")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	switch t.DefaultMode {
	case ModeReal, ModePaper, ModeBacktest:
	default:
		return fmt.Errorf("trading.default_mode must be one of real, paper, backtest, got %q", t.DefaultMode)
	}
	if t.InitialCapital <= 0 {
		return fmt.Errorf("trading.initial_capital must be > 0")
	}
	if t.MaxPositionAmount <= 0 {
		return fmt.Errorf("trading.max_position_amount must be > 0")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	rates := map[string]float64{
		"backtest.buy_fee_rate":        b.BuyFeeRate,
		"backtest.sell_fee_rate":       b.SellFeeRate,
		"backtest.buy_slippage_rate":   b.BuySlippageRate,
		"backtest.sell_slippage_rate":  b.SellSlippageRate,
	}
	for name, v := range rates {
		if v < 0 || v > 0.1 {
			return fmt.Errorf("%s must be in [0, 0.1], got %v", name, v)
		}
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if s.StopLossPct <= 0 || s.StopLossPct > 1 {
		return fmt.Errorf("strategy.stop_loss_pct must be in (0, 1]")
	}
	if s.TakeProfitPct <= 0 {
		return fmt.Errorf("strategy.take_profit_pct must be > 0")
	}
	if _, err := parseClockTime(s.EntryTime); err != nil {
		return fmt.Errorf("strategy.entry_time: %w", err)
	}
	if _, err := parseClockTime(s.ForceCloseTime); err != nil {
		return fmt.Errorf("strategy.force_close_time: %w", err)
	}
	if s.EntryAssetRatio <= 0 && s.FixedEntryAmount <= 0 {
		return fmt.Errorf("strategy requires either entry_asset_ratio or fixed_entry_amount > 0")
	}
	if s.EntryAssetRatio < 0 || s.EntryAssetRatio > 1 {
		return fmt.Errorf("strategy.entry_asset_ratio must be in [0, 1]")
	}
	return nil
}

func (tm *TimeManagementConfig) validate() error {
	if strings.TrimSpace(tm.TradingDatesFilePath) == "" {
		return fmt.Errorf("time_management.trading_dates_file_path cannot be empty")
	}
	if tm.EventCheckIntervalSeconds <= 0 {
		return fmt.Errorf("time_management.event_check_interval_seconds must be > 0")
	}
	return nil
}

func (m *MarketHoursConfig) validate() error {
	fields := map[string]string{
		"market_hours.data_prep_time":          m.DataPrepTime,
		"market_hours.trading_start_time":      m.TradingStart,
		"market_hours.feature_window_end_time": m.FeatureWindowEndTime,
		"market_hours.trading_end_time":        m.TradingEndTime,
		"market_hours.last_update_time":        m.LastUpdateTime,
		"market_hours.market_close_time":       m.MarketCloseTime,
	}
	for name, v := range fields {
		if _, err := parseClockTime(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (t *TokenManagementConfig) validate() error {
	if strings.TrimSpace(t.TokenFilePath) == "" {
		return fmt.Errorf("token_management.token_file_path cannot be empty")
	}
	if t.MaxRetries <= 0 {
		return fmt.Errorf("token_management.max_retries must be > 0")
	}
	if t.BaseDelayMillis <= 0 || t.MaxDelayMillis < t.BaseDelayMillis {
		return fmt.Errorf("token_management.max_delay_millis must be >= base_delay_millis")
	}
	if t.JitterFraction < 0 || t.JitterFraction > 1 {
		return fmt.Errorf("token_management.jitter_fraction must be in [0, 1]")
	}
	return nil
}

func (k *KoreaInvestmentAPIConfig) validate(mode Mode) error {
	var profile APIProfile
	var section string
	switch mode {
	case ModeReal:
		profile, section = k.Real, "korea_investment_api.real"
	case ModePaper:
		profile, section = k.Paper, "korea_investment_api.paper"
	case ModeBacktest:
		return nil
	default:
		return fmt.Errorf("korea_investment_api: unknown mode %q", mode)
	}
	if strings.TrimSpace(profile.AppKey) == "" || strings.TrimSpace(profile.AppSecret) == "" {
		return fmt.Errorf("%s requires app_key and app_secret for mode %q", section, mode)
	}
	if strings.TrimSpace(profile.BaseURL) == "" {
		return fmt.Errorf("%s.base_url cannot be empty for mode %q", section, mode)
	}
	if strings.TrimSpace(profile.AccountNumber) == "" {
		return fmt.Errorf("%s.account_number cannot be empty for mode %q", section, mode)
	}
	return nil
}

// parseClockTime validates an "HH:MM" string without pulling in a full
// time.Parse just to check shape; internal/timeservice does the real parsing.
func parseClockTime(s string) (struct{ Hour, Minute int }, error) {
	var out struct{ Hour, Minute int }
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return out, fmt.Errorf("expected HH:MM, got %q", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(parts[0], "%d", &h); err != nil {
		return out, fmt.Errorf("invalid hour in %q", s)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &m); err != nil {
		return out, fmt.Errorf("invalid minute in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return out, fmt.Errorf("time out of range: %q", s)
	}
	out.Hour, out.Minute = h, m
	return out, nil
}
