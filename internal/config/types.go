package config

import "strings"

// Config is the root configuration for the trading engine, loaded from a
// single TOML file.
type Config struct {
	Database           DatabaseConfig           `toml:"database"`
	OnnxModel          OnnxModelConfig          `toml:"onnx_model"`
	KoreaInvestmentAPI KoreaInvestmentAPIConfig `toml:"korea_investment_api"`
	Trading            TradingConfig            `toml:"trading"`
	Backtest           BacktestConfig           `toml:"backtest"`
	Strategy           StrategyConfig           `toml:"strategy"`
	TimeManagement     TimeManagementConfig     `toml:"time_management"`
	MarketHours        MarketHoursConfig        `toml:"market_hours"`
	TokenManagement    TokenManagementConfig    `toml:"token_management"`
	Logging            LoggingConfig            `toml:"logging"`
}

type DatabaseConfig struct {
	MinuteBarsPath   string `toml:"minute_bars_path"`
	DailyBarsPath    string `toml:"daily_bars_path"`
	TradingStorePath string `toml:"trading_store_path"`
}

type OnnxModelConfig struct {
	ModelPath         string `toml:"model_path"`
	FeaturesPath      string `toml:"features_path"`
	InclusionListPath string `toml:"inclusion_list_path"`
	// TopK is how many symbols by traded value enter the candidate pool
	// before the inclusion-list filter and the 15-candidate truncation.
	TopK int `toml:"top_k"`
}

// APIProfile is one app_key/app_secret/base_url/account_number quadruple.
type APIProfile struct {
	AppKey        string `toml:"app_key"`
	AppSecret     string `toml:"app_secret"`
	BaseURL       string `toml:"base_url"`
	AccountNumber string `toml:"account_number"`
}

// KoreaInvestmentAPIConfig carries the three brokerage profiles: real-money
// trading, paper trading, and quote-only (info) access.
type KoreaInvestmentAPIConfig struct {
	Real  APIProfile `toml:"real"`
	Paper APIProfile `toml:"paper"`
	Info  APIProfile `toml:"info"`
}

// Mode selects which ExecutionBackend the runner constructs.
type Mode string

const (
	ModeReal     Mode = "real"
	ModePaper    Mode = "paper"
	ModeBacktest Mode = "backtest"
)

type TradingConfig struct {
	DefaultMode       Mode    `toml:"default_mode"`
	InitialCapital    float64 `toml:"initial_capital"`
	MaxPositionAmount float64 `toml:"max_position_amount"`
}

// BacktestConfig carries SimBroker's fee and slippage parameters. Each rate
// is a fraction, e.g. 0.00015 for 1.5bps.
type BacktestConfig struct {
	BuyFeeRate       float64 `toml:"buy_fee_rate"`
	SellFeeRate      float64 `toml:"sell_fee_rate"`
	BuySlippageRate  float64 `toml:"buy_slippage_rate"`
	SellSlippageRate float64 `toml:"sell_slippage_rate"`
}

type StrategyConfig struct {
	StopLossPct      float64 `toml:"stop_loss_pct"`
	TakeProfitPct    float64 `toml:"take_profit_pct"`
	EntryTime        string  `toml:"entry_time"`
	ForceCloseTime   string  `toml:"force_close_time"`
	EntryAssetRatio  float64 `toml:"entry_asset_ratio"`
	FixedEntryAmount float64 `toml:"fixed_entry_amount"`
}

type TimeManagementConfig struct {
	TradingDatesFilePath string `toml:"trading_dates_file_path"`
	// AutoSetDatesFromFile, when true, prefers the start,end pair in
	// ScheduleDatesFilePath over StartDate/EndDate whenever neither was set
	// explicitly.
	AutoSetDatesFromFile       bool   `toml:"auto_set_dates_from_file"`
	ScheduleDatesFilePath      string `toml:"schedule_dates_file_path"`
	StartDate                  string `toml:"start_date"`
	EndDate                    string `toml:"end_date"`
	SpecialStartDatesFilePath  string `toml:"special_start_dates_file_path"`
	SpecialStartTimeOffsetMins int    `toml:"special_start_time_offset_minutes"`
	EventCheckIntervalSeconds  int    `toml:"event_check_interval_seconds"`
}

type MarketHoursConfig struct {
	DataPrepTime    string `toml:"data_prep_time"`
	TradingStart    string `toml:"trading_start_time"`
	// FeatureWindowEndTime closes the intraday feature-extraction window
	// Predictor and the day1/day2 features read from — distinct from
	// TradingStart, which opens it.
	FeatureWindowEndTime string `toml:"feature_window_end_time"`
	TradingEndTime       string `toml:"trading_end_time"`
	LastUpdateTime       string `toml:"last_update_time"`
	MarketCloseTime      string `toml:"market_close_time"`
}

type TokenManagementConfig struct {
	TokenFilePath        string  `toml:"token_file_path"`
	RefreshSkewMinutes   int     `toml:"refresh_skew_minutes"`
	MaxRetries           int     `toml:"max_retries"`
	BaseDelayMillis      int     `toml:"base_delay_millis"`
	MaxDelayMillis       int     `toml:"max_delay_millis"`
	JitterFraction       float64 `toml:"jitter_fraction"`
	PerCallTimeoutSecs   int     `toml:"per_call_timeout_seconds"`

	// BreakerFailureThreshold trips the brokerage circuit breaker after this
	// many consecutive call failures; BreakerCooldownSeconds is how long it
	// stays open before allowing one trial call through.
	BreakerFailureThreshold int `toml:"breaker_failure_threshold"`
	BreakerCooldownSeconds  int `toml:"breaker_cooldown_seconds"`
}

type LoggingConfig struct {
	Level   string `toml:"level"`
	LogPath string `toml:"log_path"`
}

// keySet tracks which config paths were explicitly set in the file, so
// applyDefaults can tell "zero value" from "deliberately zero".
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default-value rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
