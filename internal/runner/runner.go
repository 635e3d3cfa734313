// Package runner wires every component together behind the single
// control loop: TimeService decides the next event, Strategy reacts to
// it, Broker reconciles whatever the backend has since filled, and Store
// records both trades and the rolling daily overview. Exactly one
// ExecutionBackend is active per run, selected by configuration.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockrs-go/tradeengine/internal/apperr"
	"github.com/stockrs-go/tradeengine/internal/bars"
	"github.com/stockrs-go/tradeengine/internal/broker"
	"github.com/stockrs-go/tradeengine/internal/calendar"
	"github.com/stockrs-go/tradeengine/internal/config"
	"github.com/stockrs-go/tradeengine/internal/execution"
	"github.com/stockrs-go/tradeengine/internal/features"
	"github.com/stockrs-go/tradeengine/internal/liveclient"
	"github.com/stockrs-go/tradeengine/internal/logger"
	"github.com/stockrs-go/tradeengine/internal/predictor"
	"github.com/stockrs-go/tradeengine/internal/simbroker"
	"github.com/stockrs-go/tradeengine/internal/store"
	"github.com/stockrs-go/tradeengine/internal/strategy"
	"github.com/stockrs-go/tradeengine/internal/timeservice"
	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
)

// Runner owns every component and drives the single cooperative loop: one
// tick reconciles pending fills, dispatches the event to Strategy, then
// folds the account's current valuation into the day's overview — in that
// order, so a fill that completes this tick is reflected in the same
// tick's overview update.
type Runner struct {
	cfg   *config.Config
	mode  timeservice.RunMode
	clock *timeservice.TimeService

	backend execution.Backend
	broker  *broker.Broker
	strat   *strategy.Strategy
	st      *store.Store

	minuteBars *bars.Store
	dailyBars  *bars.Store
	scorer     *predictor.Scorer

	calendarEnd time.Time
	runID       string
}

// New builds a Runner from cfg: opens the bar and trading stores, loads the
// calendar, constructs TimeService, the feature extractor and predictor
// (always loading the ONNX model), and
// the ExecutionBackend selected by cfg.Trading.DefaultMode (or the CLI
// override baked into cfg before New is called).
func New(cfg *config.Config) (*Runner, error) {
	if cfg == nil {
		return nil, apperr.New(apperr.KindConfig, "runner.New", "config is required")
	}

	cal, err := calendar.Load(cfg.TimeManagement.TradingDatesFilePath, cfg.TimeManagement.SpecialStartDatesFilePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "runner.New", err)
	}
	start, end := cal.Bounds()
	if cfg.TimeManagement.StartDate == "" && cfg.TimeManagement.EndDate == "" &&
		cfg.TimeManagement.AutoSetDatesFromFile && cfg.TimeManagement.ScheduleDatesFilePath != "" {
		schedStart, schedEnd, err := calendar.LoadScheduleRange(cfg.TimeManagement.ScheduleDatesFilePath)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "runner.New", err)
		}
		cfg.TimeManagement.StartDate = schedStart
		cfg.TimeManagement.EndDate = schedEnd
	}
	if cfg.TimeManagement.StartDate != "" {
		parsed, err := time.ParseInLocation("20060102", cfg.TimeManagement.StartDate, time.Local)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "runner.New", err)
		}
		start = parsed
	}
	if cfg.TimeManagement.EndDate != "" {
		parsed, err := time.ParseInLocation("20060102", cfg.TimeManagement.EndDate, time.Local)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "runner.New", err)
		}
		end = parsed
	}

	clock, err := timeservice.New(cal, cfg.MarketHours, cfg.TimeManagement.SpecialStartTimeOffsetMins,
		cfg.TimeManagement.EventCheckIntervalSeconds, start)
	if err != nil {
		return nil, err
	}

	minuteBars, err := bars.Open(cfg.Database.MinuteBarsPath, "minute_bars")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "runner.New", err)
	}
	dailyBars, err := bars.Open(cfg.Database.DailyBarsPath, "daily_bars")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "runner.New", err)
	}

	tradingStore, err := store.New(cfg.Database.TradingStorePath)
	if err != nil {
		return nil, err
	}

	featureNames, err := predictor.LoadFeatureNames(cfg.OnnxModel.FeaturesPath)
	if err != nil {
		return nil, err
	}
	inclusion, err := predictor.LoadInclusionList(cfg.OnnxModel.InclusionListPath)
	if err != nil {
		return nil, err
	}
	scorer, err := predictor.NewScorer(cfg.OnnxModel.ModelPath, len(featureNames))
	if err != nil {
		return nil, err
	}

	window := features.Window{Start: cfg.MarketHours.TradingStart, End: cfg.MarketHours.FeatureWindowEndTime}
	extractor := features.New(minuteBars, dailyBars, cal, 0)
	pred := predictor.New(minuteBars, extractor, scorer, featureNames, inclusion, cfg.OnnxModel.TopK, window)

	runID := uuid.NewString()

	var backend execution.Backend
	var mode timeservice.RunMode
	switch cfg.Trading.DefaultMode {
	case config.ModeBacktest:
		mode = timeservice.ModeBacktest
		backend = simbroker.New(minuteBars, clock, cfg.Backtest, decimal.NewFromFloat(cfg.Trading.InitialCapital))
	case config.ModePaper:
		mode = timeservice.ModeLive
		backend = liveclient.New(cfg.KoreaInvestmentAPI.Paper, cfg.TokenManagement.TokenFilePath, cfg.TokenManagement)
	case config.ModeReal:
		mode = timeservice.ModeLive
		backend = liveclient.New(cfg.KoreaInvestmentAPI.Real, cfg.TokenManagement.TokenFilePath, cfg.TokenManagement)
	default:
		scorer.Close()
		return nil, apperr.New(apperr.KindConfig, "runner.New", "unknown trading mode %q", cfg.Trading.DefaultMode)
	}

	br := broker.New(backend, tradingStore)
	strat := strategy.New(cfg.Strategy, cfg.TimeManagement.SpecialStartTimeOffsetMins, backend, pred, br, runID)
	br.OnTrade(func(tradingtypes.Trade) { strat.OnFillConfirmed() })

	return &Runner{
		cfg: cfg, mode: mode, clock: clock,
		backend: backend, broker: br, strat: strat, st: tradingStore,
		minuteBars: minuteBars, dailyBars: dailyBars, scorer: scorer,
		calendarEnd: end, runID: runID,
	}, nil
}

// Close releases every resource New opened.
func (r *Runner) Close() error {
	r.scorer.Close()
	_ = r.minuteBars.Close()
	_ = r.dailyBars.Close()
	return r.st.Close()
}

// Run drives the loop until the calendar's bounds are exhausted (backtest,
// returning apperr.EndOfBacktest) or ctx is canceled (paper/live). Each
// iteration: reconcile pending fills, dispatch the current event to
// Strategy, then fold the account's valuation into the day's overview.
func (r *Runner) Run(ctx context.Context) error {
	defer r.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev := r.clock.CurrentEvent()
		if err := r.tick(ctx, ev, r.clock.IsSpecialStartDate(ev.At)); err != nil {
			return err
		}

		next, err := r.clock.NextEvent()
		if err != nil {
			return err
		}
		if r.mode == timeservice.ModeBacktest && !r.calendarEnd.IsZero() && next.At.After(r.calendarEnd) {
			return apperr.EndOfBacktest
		}

		if err := r.clock.WaitUntilNextEvent(ctx, r.mode); err != nil {
			return err
		}
	}
}

// tick runs one event's reconcile/dispatch/overview sequence. Only a
// config-class error is fatal: a fill-query failure leaves Broker's
// pending queue untouched for Reconcile to retry next tick, and a
// prediction or execution failure from Strategy.OnEvent simply skips the
// current entry/exit opportunity without corrupting strategy state. On
// Overnight, Strategy, Broker, and Store each turn over for the new day in
// that fixed order — Strategy inside its own OnEvent dispatch, Broker right
// after, Store last via updateOverview, so the day's overview close is
// finalized only once the other two have already reset.
func (r *Runner) tick(ctx context.Context, ev tradingtypes.TimeEvent, isSpecial bool) error {
	if err := r.broker.Reconcile(ctx); err != nil {
		if apperr.Is(err, apperr.KindConfig) {
			logger.Errorf("runner: reconcile failed (fatal): %v", err)
			return err
		}
		logger.Errorf("runner: reconcile failed, pending queue preserved for next tick: %v", err)
	}

	if err := r.strat.OnEvent(ctx, ev, isSpecial); err != nil {
		if apperr.Is(err, apperr.KindConfig) {
			logger.Errorf("runner: strategy dispatch failed at %s (fatal): %v", ev.Tag, err)
			return err
		}
		logger.Errorf("runner: strategy dispatch failed at %s, skipping this opportunity: %v", ev.Tag, err)
	}

	if ev.Tag == tradingtypes.EventOvernight {
		if err := r.broker.ResetForNewDay(ctx, ev.At.Format("20060102")); err != nil {
			logger.Errorf("runner: broker reset failed at overnight: %v", err)
			return err
		}
	}

	if err := r.updateOverview(ctx, ev); err != nil {
		logger.Errorf("runner: overview update failed: %v", err)
		return err
	}
	return nil
}

// updateOverview dispatches the daily overview bookkeeping appropriate to
// the current event tag: DataPrep seeds the day's row, Update widens the
// high/low bracket, and Overnight finalizes it — Overnight fires one
// minute after MarketClose on the same calendar day, so ev.At still names
// the closing day.
func (r *Runner) updateOverview(ctx context.Context, ev tradingtypes.TimeEvent) error {
	balance, err := r.backend.GetBalance(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindExecution, "runner.updateOverview", err)
	}
	date := ev.At.Format("20060102")

	switch ev.Tag {
	case tradingtypes.EventDataPrep:
		return r.st.ResetForNewDay(ctx, date, balance.TotalAsset)
	case tradingtypes.EventOvernight:
		return r.st.FinishOverview(ctx, date, balance.TotalAsset)
	default:
		return r.st.UpdateOverview(ctx, date, balance.TotalAsset)
	}
}
