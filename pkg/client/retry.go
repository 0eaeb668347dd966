package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_http_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_http_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_http_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleepContext is the default Sleeper.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the delay before the retry that follows the given
// zero-based attempt: factor * 2^attempt. A zero factor means no delay.
func Backoff(factor time.Duration, attempt int) time.Duration {
	if factor <= 0 || attempt < 0 {
		return 0
	}
	d := float64(factor) * math.Pow(2, float64(attempt))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// retryPolicy runs one request up to maxAttempts times.
type retryPolicy struct {
	maxAttempts int
	factor      time.Duration
	sleep       Sleeper
	logger      zerolog.Logger
}

// do executes fn until it succeeds or the attempts run out. fn receives the
// zero-based attempt number. Context cancellation stops retrying at once.
func (p retryPolicy) do(ctx context.Context, url string, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 0 {
				p.logger.Info().
					Str("url", url).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctxErr)
		}

		lastErr = err
		class := classOf(err)

		// the last attempt does not wait
		if attempt == p.maxAttempts-1 {
			break
		}

		delay := Backoff(p.factor, attempt)
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		p.logger.Warn().
			Err(err).
			Str("url", url).
			Str("error_class", string(class)).
			Int("attempt", attempt+1).
			Int("max_attempts", p.maxAttempts).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := p.sleep(ctx, delay); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.logger.Warn().
					Str("url", url).
					Int("attempt", attempt+1).
					Msg("Context cancelled during retry backoff")
				return fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}
			return err
		}
	}

	retryExhaustedTotal.WithLabelValues(string(classOf(lastErr))).Inc()
	p.logger.Error().
		Err(lastErr).
		Str("url", url).
		Int("max_attempts", p.maxAttempts).
		Msg("Retry attempts exhausted")

	return &FetchError{URL: url, Attempts: p.maxAttempts, Last: lastErr}
}
