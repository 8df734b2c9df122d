package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// RetryPolicy drives transient-failure retries at a call site.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Sleep          Sleeper
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Sleep:          Sleep,
	}
}

// ShouldRetryStatus reports whether an HTTP status is worth another attempt.
func ShouldRetryStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

func IsRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}

// Do runs fn until it succeeds, returns a non-retryable error or retries run out.
func (p RetryPolicy) Do(ctx context.Context, op string, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxRetries {
			break
		}
		backoff := Backoff(attempt, p.InitialBackoff, p.MaxBackoff)
		logger.Warn("retry.backoff", "op", op, "attempt", attempt+1, "max_retries", p.MaxRetries, "wait", backoff, "error", lastErr)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return NewAppError("RETRIES_EXHAUSTED", fmt.Sprintf("%s failed after %d retries", op, p.MaxRetries), fmt.Errorf("%w: %v", ErrUnavailable, lastErr))
}
