package liveclient

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/stockrs-go/tradeengine/internal/apperr"
)

// RetryPolicy bounds how aggressively Do retries a retryable operation:
// delay_n = min(max_delay, base * 2^n) * (1 ± jitter).
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
	Sleep          func(time.Duration) // overridable in tests
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(p.MaxDelay); backoff > max {
		backoff = max
	}
	if p.JitterFraction > 0 {
		jitter := 1 + (rand.Float64()*2-1)*p.JitterFraction
		backoff *= jitter
	}
	return time.Duration(backoff)
}

// Do runs fn, retrying while it returns a KindRetryable or KindExpired
// error. Expired errors trigger exactly one call to refresh before the
// next attempt; a second expiry within the same logical operation
// surfaces as an error rather than looping. Non-retryable errors and
// success both return immediately. The budget is max_retries+1 total
// attempts.
func Do(ctx context.Context, policy RetryPolicy, refresh func(context.Context) error, fn func(context.Context) error) error {
	sleep := policy.Sleep
	if sleep == nil {
		sleep = func(d time.Duration) { time.Sleep(d) }
	}

	refreshedOnce := false
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		switch {
		case apperr.Is(err, apperr.KindExpired):
			if refreshedOnce {
				return apperr.Wrap(apperr.KindAuth, "liveclient.Do", err)
			}
			refreshedOnce = true
			if refresh == nil {
				return apperr.Wrap(apperr.KindAuth, "liveclient.Do", err)
			}
			if rerr := refresh(ctx); rerr != nil {
				return apperr.Wrap(apperr.KindAuth, "liveclient.Do.refresh", rerr)
			}
			continue // retry immediately with the refreshed token, doesn't consume backoff
		case apperr.Is(err, apperr.KindRetryable):
			if attempt == policy.MaxRetries {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			sleep(policy.delay(attempt))
			continue
		default:
			return err
		}
	}
	return lastErr
}
