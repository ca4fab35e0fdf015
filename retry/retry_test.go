package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var fastConfig = Config{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     4 * time.Millisecond,
	Multiplier:   2.0,
}

func always(error) bool { return true }

func TestWithRetry(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		calls := 0
		result, err := WithRetry(context.Background(), fastConfig, always, func() (string, error) {
			calls++
			return "success", nil
		})

		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if result != "success" {
			t.Errorf("expected 'success', got %s", result)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("retries on retryable error", func(t *testing.T) {
		calls := 0
		result, err := WithRetry(context.Background(), fastConfig, always, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("connection reset")
			}
			return 42, nil
		})

		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if result != 42 {
			t.Errorf("expected 42, got %d", result)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("wraps the last error when attempts run out", func(t *testing.T) {
		calls := 0
		persistent := errors.New("persistent error")

		_, err := WithRetry(context.Background(), fastConfig, always, func() (string, error) {
			calls++
			return "", persistent
		})

		if !errors.Is(err, ErrExhausted) {
			t.Errorf("expected ErrExhausted, got %v", err)
		}
		if !errors.Is(err, persistent) {
			t.Errorf("expected the last error to be wrapped, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("does not retry non-retryable errors", func(t *testing.T) {
		calls := 0
		revert := errors.New("execution reverted")

		_, err := WithRetry(context.Background(), fastConfig,
			func(err error) bool { return !errors.Is(err, revert) },
			func() (string, error) {
				calls++
				return "", revert
			},
		)

		if !errors.Is(err, revert) || errors.Is(err, ErrExhausted) {
			t.Errorf("expected the revert unchanged, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call (no retries), got %d", calls)
		}
	})

	t.Run("respects context cancellation before attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		_, err := WithRetry(ctx, fastConfig, always, func() (string, error) {
			calls++
			return "", errors.New("error")
		})

		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if calls != 0 {
			t.Errorf("expected 0 calls, got %d", calls)
		}
	})

	t.Run("respects context cancellation during backoff", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		slow := Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}
		start := time.Now()
		_, err := WithRetry(ctx, slow, always, func() (string, error) {
			return "", errors.New("error")
		})

		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
		if time.Since(start) > 500*time.Millisecond {
			t.Errorf("backoff was not interrupted")
		}
	})

	t.Run("zero attempts still calls once", func(t *testing.T) {
		calls := 0
		_, _ = WithRetry(context.Background(), Config{}, always, func() (string, error) {
			calls++
			return "", errors.New("error")
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})
}

func TestWithRetry_OnRetry(t *testing.T) {
	var delays []time.Duration
	var attempts []int
	cfg := Config{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     3 * time.Millisecond,
		Multiplier:   2.0,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		},
	}

	_, _ = WithRetry(context.Background(), cfg, always, func() (string, error) {
		return "", errors.New("error")
	})

	wantDelays := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}
	if len(delays) != len(wantDelays) {
		t.Fatalf("expected %d hooks, got %d", len(wantDelays), len(delays))
	}
	for i := range wantDelays {
		if delays[i] != wantDelays[i] {
			t.Errorf("delay %d = %v, want %v", i, delays[i], wantDelays[i])
		}
		if attempts[i] != i+1 {
			t.Errorf("attempt %d = %d", i, attempts[i])
		}
	}
}

func TestDo(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig, always, func() error {
		calls++
		if calls == 1 {
			return errors.New("blip")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}
