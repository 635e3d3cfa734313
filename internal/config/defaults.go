package config

const (
	defaultMinuteBarsPath   = "data/minute_bars.db"
	defaultDailyBarsPath    = "data/daily_bars.db"
	defaultTradingStorePath = "data/trading.db"

	defaultOnnxModelPath    = "model/model.onnx"
	defaultOnnxFeaturesPath = "model/features.json"
	defaultOnnxInclusion    = "model/included_stocks.txt"
	defaultOnnxTopK         = 30

	defaultMode              = ModeBacktest
	defaultInitialCapital    = 10_000_000.0
	defaultMaxPositionAmount = 2_000_000.0

	defaultBuyFeeRate       = 0.00015
	defaultSellFeeRate      = 0.00215
	defaultBuySlippageRate  = 0.0005
	defaultSellSlippageRate = 0.0005

	defaultStopLossPct      = 0.02
	defaultTakeProfitPct    = 0.05
	defaultEntryTime        = "09:05"
	defaultForceCloseTime   = "15:20"
	defaultEntryAssetRatio  = 0.3
	defaultFixedEntryAmount = 0.0

	defaultSpecialStartOffsetMins = 5
	defaultEventCheckIntervalSecs = 60

	defaultDataPrepTime         = "08:30"
	defaultTradingStart         = "09:00"
	defaultFeatureWindowEndTime = "09:30"
	defaultTradingEndTime       = "15:30"
	defaultLastUpdateTime       = "15:29"
	defaultMarketCloseTime      = "15:30"

	defaultRefreshSkewMinutes   = 5
	defaultTokenMaxRetries      = 5
	defaultTokenBaseDelayMillis = 500
	defaultTokenMaxDelayMillis  = 30000
	defaultTokenJitterFraction  = 0.2
	defaultPerCallTimeoutSecs   = 10
	defaultBreakerThreshold     = 5
	defaultBreakerCooldownSecs  = 30

	defaultLogLevel = "info"
	defaultLogPath  = "logs/tradeengine.log"
)

// applyDefaults fills in zero-valued fields with sane defaults, skipping any
// field that was explicitly present in the loaded TOML file.
func (c *Config) applyDefaults(keys keySet) {
	c.Database.applyDefaults(keys)
	c.OnnxModel.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.TimeManagement.applyDefaults(keys)
	c.MarketHours.applyDefaults(keys)
	c.TokenManagement.applyDefaults(keys)
	c.Logging.applyDefaults(keys)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("database.minute_bars_path", &d.MinuteBarsPath, defaultMinuteBarsPath),
		stringFieldDefault("database.daily_bars_path", &d.DailyBarsPath, defaultDailyBarsPath),
		stringFieldDefault("database.trading_store_path", &d.TradingStorePath, defaultTradingStorePath),
	)
}

func (o *OnnxModelConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("onnx_model.model_path", &o.ModelPath, defaultOnnxModelPath),
		stringFieldDefault("onnx_model.features_path", &o.FeaturesPath, defaultOnnxFeaturesPath),
		stringFieldDefault("onnx_model.inclusion_list_path", &o.InclusionListPath, defaultOnnxInclusion),
		fieldDefault{
			key:   "onnx_model.top_k",
			need:  func() bool { return o.TopK <= 0 },
			apply: func() { o.TopK = defaultOnnxTopK },
		},
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trading.default_mode",
			need:  func() bool { return t.DefaultMode == "" },
			apply: func() { t.DefaultMode = defaultMode },
		},
		fieldDefault{
			key:   "trading.initial_capital",
			need:  func() bool { return t.InitialCapital <= 0 },
			apply: func() { t.InitialCapital = defaultInitialCapital },
		},
		fieldDefault{
			key:   "trading.max_position_amount",
			need:  func() bool { return t.MaxPositionAmount <= 0 },
			apply: func() { t.MaxPositionAmount = defaultMaxPositionAmount },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.buy_fee_rate",
			need:  func() bool { return b.BuyFeeRate <= 0 },
			apply: func() { b.BuyFeeRate = defaultBuyFeeRate },
		},
		fieldDefault{
			key:   "backtest.sell_fee_rate",
			need:  func() bool { return b.SellFeeRate <= 0 },
			apply: func() { b.SellFeeRate = defaultSellFeeRate },
		},
		fieldDefault{
			key:   "backtest.buy_slippage_rate",
			need:  func() bool { return b.BuySlippageRate <= 0 },
			apply: func() { b.BuySlippageRate = defaultBuySlippageRate },
		},
		fieldDefault{
			key:   "backtest.sell_slippage_rate",
			need:  func() bool { return b.SellSlippageRate <= 0 },
			apply: func() { b.SellSlippageRate = defaultSellSlippageRate },
		},
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "strategy.stop_loss_pct",
			need:  func() bool { return s.StopLossPct <= 0 },
			apply: func() { s.StopLossPct = defaultStopLossPct },
		},
		fieldDefault{
			key:   "strategy.take_profit_pct",
			need:  func() bool { return s.TakeProfitPct <= 0 },
			apply: func() { s.TakeProfitPct = defaultTakeProfitPct },
		},
		stringFieldDefault("strategy.entry_time", &s.EntryTime, defaultEntryTime),
		stringFieldDefault("strategy.force_close_time", &s.ForceCloseTime, defaultForceCloseTime),
		fieldDefault{
			key:   "strategy.entry_asset_ratio",
			need:  func() bool { return s.EntryAssetRatio <= 0 && s.FixedEntryAmount <= 0 },
			apply: func() { s.EntryAssetRatio = defaultEntryAssetRatio },
		},
	)
}

func (tm *TimeManagementConfig) applyDefaults(keys keySet) {
	if tm == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("time_management.auto_set_dates_from_file", &tm.AutoSetDatesFromFile, true),
		fieldDefault{
			key:   "time_management.special_start_time_offset_minutes",
			need:  func() bool { return tm.SpecialStartTimeOffsetMins <= 0 },
			apply: func() { tm.SpecialStartTimeOffsetMins = defaultSpecialStartOffsetMins },
		},
		fieldDefault{
			key:   "time_management.event_check_interval_seconds",
			need:  func() bool { return tm.EventCheckIntervalSeconds <= 0 },
			apply: func() { tm.EventCheckIntervalSeconds = defaultEventCheckIntervalSecs },
		},
	)
}

func (m *MarketHoursConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market_hours.data_prep_time", &m.DataPrepTime, defaultDataPrepTime),
		stringFieldDefault("market_hours.trading_start_time", &m.TradingStart, defaultTradingStart),
		stringFieldDefault("market_hours.feature_window_end_time", &m.FeatureWindowEndTime, defaultFeatureWindowEndTime),
		stringFieldDefault("market_hours.trading_end_time", &m.TradingEndTime, defaultTradingEndTime),
		stringFieldDefault("market_hours.last_update_time", &m.LastUpdateTime, defaultLastUpdateTime),
		stringFieldDefault("market_hours.market_close_time", &m.MarketCloseTime, defaultMarketCloseTime),
	)
}

func (t *TokenManagementConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("token_management.token_file_path", &t.TokenFilePath, "data/token.json"),
		fieldDefault{
			key:   "token_management.refresh_skew_minutes",
			need:  func() bool { return t.RefreshSkewMinutes <= 0 },
			apply: func() { t.RefreshSkewMinutes = defaultRefreshSkewMinutes },
		},
		fieldDefault{
			key:   "token_management.max_retries",
			need:  func() bool { return t.MaxRetries <= 0 },
			apply: func() { t.MaxRetries = defaultTokenMaxRetries },
		},
		fieldDefault{
			key:   "token_management.base_delay_millis",
			need:  func() bool { return t.BaseDelayMillis <= 0 },
			apply: func() { t.BaseDelayMillis = defaultTokenBaseDelayMillis },
		},
		fieldDefault{
			key:   "token_management.max_delay_millis",
			need:  func() bool { return t.MaxDelayMillis <= 0 },
			apply: func() { t.MaxDelayMillis = defaultTokenMaxDelayMillis },
		},
		fieldDefault{
			key:   "token_management.jitter_fraction",
			need:  func() bool { return t.JitterFraction <= 0 },
			apply: func() { t.JitterFraction = defaultTokenJitterFraction },
		},
		fieldDefault{
			key:   "token_management.per_call_timeout_seconds",
			need:  func() bool { return t.PerCallTimeoutSecs <= 0 },
			apply: func() { t.PerCallTimeoutSecs = defaultPerCallTimeoutSecs },
		},
		fieldDefault{
			key:   "token_management.breaker_failure_threshold",
			need:  func() bool { return t.BreakerFailureThreshold <= 0 },
			apply: func() { t.BreakerFailureThreshold = defaultBreakerThreshold },
		},
		fieldDefault{
			key:   "token_management.breaker_cooldown_seconds",
			need:  func() bool { return t.BreakerCooldownSeconds <= 0 },
			apply: func() { t.BreakerCooldownSeconds = defaultBreakerCooldownSecs },
		},
	)
}

func (l *LoggingConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("logging.level", &l.Level, defaultLogLevel),
		stringFieldDefault("logging.log_path", &l.LogPath, defaultLogPath),
	)
}

// Helper functions, reused across sections.

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && *target == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
