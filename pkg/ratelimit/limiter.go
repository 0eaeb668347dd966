// Package ratelimit throttles outgoing API requests on the client side and
// honours the server's Retry-After pushback.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a request slot",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	pushbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_rate_limit_pushbacks_total",
		Help: "Total number of Retry-After pauses requested by the server",
	})
)

// Limiter gates requests to a steady rate and pauses all callers while the
// server has asked us to back off.
type Limiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu          sync.Mutex
	pausedUntil time.Time
}

// New creates a limiter allowing requestsPerSecond with the given burst.
// A non-positive rate disables throttling; pushback is still honoured.
func New(requestsPerSecond float64, burst int, logger zerolog.Logger) *Limiter {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		throttleWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	if pause := l.PauseRemaining(); pause > 0 {
		l.logger.Debug().Dur("pause", pause).Msg("Waiting for server pushback to clear")
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Observe inspects a response for Retry-After pushback. It only reacts to
// 429 and 503 responses.
func (l *Limiter) Observe(resp *http.Response) {
	if resp == nil {
		return
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return
	}

	delay, ok := RetryAfter(resp.Header, time.Now())
	if !ok {
		return
	}
	l.Pause(delay)
	pushbacksTotal.Inc()

	l.logger.Warn().
		Int("status", resp.StatusCode).
		Dur("retry_after", delay).
		Msg("Server requested backoff")
}

// Pause stops all callers for d. Overlapping pauses keep the later deadline.
func (l *Limiter) Pause(d time.Duration) {
	until := time.Now().Add(d)
	l.mu.Lock()
	if until.After(l.pausedUntil) {
		l.pausedUntil = until
	}
	l.mu.Unlock()
}

// PauseRemaining returns how long callers are still paused.
func (l *Limiter) PauseRemaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := time.Until(l.pausedUntil)
	if d < 0 {
		return 0
	}
	return d
}
