package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		factor  time.Duration
		attempt int
		want    time.Duration
	}{
		{time.Second, 0, 1 * time.Second},
		{time.Second, 1, 2 * time.Second},
		{time.Second, 2, 4 * time.Second},
		{time.Second, 4, 16 * time.Second},
		{500 * time.Millisecond, 3, 4 * time.Second},
		{0, 3, 0},
		{time.Second, -1, 0},
	}

	for _, tt := range tests {
		if got := Backoff(tt.factor, tt.attempt); got != tt.want {
			t.Errorf("Backoff(%v, %d) = %v, want %v", tt.factor, tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_AttemptNumbers(t *testing.T) {
	var seen []int
	var delays []time.Duration
	p := retryPolicy{
		maxAttempts: 3,
		factor:      time.Second,
		sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
		logger: zerolog.Nop(),
	}

	err := p.do(context.Background(), "http://x", func(attempt int) error {
		seen = append(seen, attempt)
		return &HTTPError{ErrorClass: ErrorClassServer, StatusCode: 500}
	})

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Errorf("attempts = %v, want [0 1 2]", seen)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", delays)
	}
}

func TestRetryPolicy_SingleAttempt(t *testing.T) {
	p := retryPolicy{
		maxAttempts: 1,
		factor:      time.Second,
		sleep: func(context.Context, time.Duration) error {
			t.Error("sleep must not be called with a single attempt")
			return nil
		},
		logger: zerolog.Nop(),
	}

	err := p.do(context.Background(), "http://x", func(int) error {
		return errors.New("boom")
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("sleepContext(0) = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext(cancelled) = %v, want context.Canceled", err)
	}
}
