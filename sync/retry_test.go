package sync

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), FixedRetryConfig(3, time.Millisecond), func() error {
		attempts++
		if attempts < 3 {
			return errFlaky
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), FixedRetryConfig(2, time.Millisecond), func() error {
		attempts++
		return errFlaky
	})
	if !IsRetryError(err) {
		t.Fatalf("Retry = %v, want RetryError", err)
	}
	if !errors.Is(err, errFlaky) {
		t.Errorf("RetryError does not wrap the last error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryNotRetryable(t *testing.T) {
	cfg := FixedRetryConfig(5, time.Millisecond)
	cfg.Retryable = func(error) bool { return false }

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errFlaky
	})
	if err != errFlaky || attempts != 1 {
		t.Errorf("Retry = %v after %d attempts", err, attempts)
	}
}

func TestRetryNoRetries(t *testing.T) {
	attempts := 0
	_ = Retry(context.Background(), RetryConfig{}, func() error {
		attempts++
		return errFlaky
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, FixedRetryConfig(3, time.Hour), func() error { return errFlaky })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry = %v, want context.Canceled", err)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestIsTemporaryError(t *testing.T) {
	if IsTemporaryError(nil) || IsTemporaryError(errFlaky) {
		t.Error("plain errors are not temporary")
	}
	if !IsTemporaryError(timeoutErr{}) {
		t.Error("timeout errors are temporary")
	}
}
