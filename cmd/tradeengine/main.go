package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stockrs-go/tradeengine/internal/apperr"
	"github.com/stockrs-go/tradeengine/internal/config"
	"github.com/stockrs-go/tradeengine/internal/logger"
	"github.com/stockrs-go/tradeengine/internal/runner"
)

func main() {
	ctx := context.Background()

	cfgPath := flag.String("config", "", "path to the TOML config file (overrides TRADEENGINE_CONFIG)")
	modeFlag := flag.String("mode", "", "override trading.default_mode: backtest, paper, or real")
	startFlag := flag.String("start", "", "override time_management.start_date (YYYYMMDD)")
	endFlag := flag.String("end", "", "override time_management.end_date (YYYYMMDD)")
	batchFlag := flag.String("batch", "", "path to a file of start,end date-range pairs to replay as independent backtests instead of running a single session")
	batchConcurrency := flag.Int("batch-concurrency", 4, "max backtest runs from -batch to execute at once")
	flag.Parse()

	path := strings.TrimSpace(*cfgPath)
	if path == "" {
		path = os.Getenv("TRADEENGINE_CONFIG")
	}
	if path == "" {
		path = "configs/config.toml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}

	logFile, err := setupLogOutput(cfg.Logging.LogPath)
	if err != nil {
		log.Fatalf("initializing log output failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.Logging.Level)

	if m := strings.TrimSpace(*modeFlag); m != "" {
		cfg.Trading.DefaultMode = config.Mode(m)
	}
	if s := strings.TrimSpace(*startFlag); s != "" {
		cfg.TimeManagement.StartDate = s
	}
	if e := strings.TrimSpace(*endFlag); e != "" {
		cfg.TimeManagement.EndDate = e
	}

	if b := strings.TrimSpace(*batchFlag); b != "" {
		ranges, err := readDateRanges(b)
		if err != nil {
			log.Fatalf("reading -batch file failed: %v", err)
		}
		if err := runBatch(ctx, cfg, ranges, *batchConcurrency); err != nil {
			log.Fatalf("batch run failed: %v", err)
		}
		return
	}

	logger.Infof("starting tradeengine (mode=%s, config=%s)", cfg.Trading.DefaultMode, path)

	r, err := runner.New(cfg)
	if err != nil {
		log.Fatalf("initializing runner failed: %v", err)
	}
	if err := r.Run(ctx); err != nil && !errors.Is(err, apperr.EndOfBacktest) {
		log.Fatalf("run failed: %v", err)
	}
}

type dateRange struct {
	start, end string
}

// readDateRanges reads one "start,end" (YYYYMMDD) pair per line from path,
// blank lines and '#' comments ignored.
func readDateRanges(path string) ([]dateRange, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []dateRange
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid batch line %q: want \"start,end\"", line)
		}
		out = append(out, dateRange{start: strings.TrimSpace(parts[0]), end: strings.TrimSpace(parts[1])})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// runBatch replays each date range as an independent backtest Runner,
// bounded to maxConcurrent in flight at once. Each range gets its own
// *config.Config copy so overriding start/end dates on one run never
// races with another, the same isolation a semaphore-gated worker pool
// gives each concurrent run.
func runBatch(ctx context.Context, cfg *config.Config, ranges []dateRange, maxConcurrent int) error {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, rng := range ranges {
		runCfg := *cfg
		runCfg.Trading.DefaultMode = config.ModeBacktest
		runCfg.TimeManagement.StartDate = rng.start
		runCfg.TimeManagement.EndDate = rng.end

		wg.Add(1)
		sem <- struct{}{}
		go func(rng dateRange, runCfg config.Config) {
			defer wg.Done()
			defer func() { <-sem }()

			logger.Infof("batch: starting backtest run %s..%s", rng.start, rng.end)
			r, err := runner.New(&runCfg)
			if err != nil {
				logger.Errorf("batch: run %s..%s failed to initialize: %v", rng.start, rng.end, err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			if err := r.Run(ctx); err != nil && !errors.Is(err, apperr.EndOfBacktest) {
				logger.Errorf("batch: run %s..%s failed: %v", rng.start, rng.end, err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(rng, runCfg)
	}

	wg.Wait()
	return firstErr
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if dir := filepath.Dir(trimmed); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
