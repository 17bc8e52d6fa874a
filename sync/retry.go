package sync

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures Retry.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialDelay is the wait before the first retry. Default is 1 second.
	InitialDelay time.Duration

	// MaxDelay caps the wait between retries. Default is 30 seconds.
	MaxDelay time.Duration

	// Multiplier grows the delay after each retry. Default is 2.
	Multiplier float64

	// Jitter is the relative random variation applied to each delay.
	Jitter float64

	// Retryable decides whether an error is worth retrying. Nil retries
	// everything.
	Retryable func(error) bool
}

// DefaultRetryConfig returns three retries with exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// FixedRetryConfig returns a config that retries n times with a constant
// delay, the way the storage SDK's RetryLimit and RetrySleep options behave.
func FixedRetryConfig(n int, delay time.Duration) RetryConfig {
	return RetryConfig{
		MaxRetries:   n,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1,
	}
}

// Retry runs op until it succeeds, the error is not retryable, the context
// ends, or the retries are used up.
func Retry(ctx context.Context, config RetryConfig, op func() error) error {
	if config.MaxRetries <= 0 {
		return op()
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	var lastErr error
	delay := config.InitialDelay
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.Retryable != nil && !config.Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == config.MaxRetries {
			break
		}

		wait := delay
		if config.Jitter > 0 {
			j := float64(delay) * config.Jitter
			wait = delay + time.Duration((rand.Float64()*2-1)*j) //nolint:gosec // G404: timing jitter only
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = min(time.Duration(float64(delay)*config.Multiplier), config.MaxDelay)
	}

	return &RetryError{Attempts: config.MaxRetries + 1, LastErr: lastErr}
}

// RetryError reports an operation that failed on every attempt.
type RetryError struct {
	Attempts int
	LastErr  error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryError) Unwrap() error {
	return e.LastErr
}

// IsRetryError reports whether err is a *RetryError.
func IsRetryError(err error) bool {
	var re *RetryError
	return errors.As(err, &re)
}

// IsTemporaryError reports whether err advertises itself as temporary or as
// a timeout.
func IsTemporaryError(err error) bool {
	if err == nil {
		return false
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}
