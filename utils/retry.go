package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RetryExhaustedError is returned when every attempt failed with a retryable error.
type RetryExhaustedError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// HTTPStatusError carries a non-2xx response from a remote API.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// RetryingCaller wraps a fallible remote call with bounded retries and
// exponential backoff (baseDelay * 2^attempt, no jitter). Each attempt runs
// under its own timeout so a hung call cannot eat the whole budget.
type RetryingCaller struct {
	name        string
	timeout     time.Duration
	baseDelay   time.Duration
	maxAttempts int
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRetryingCaller builds a caller. timeout <= 0 disables the per-attempt deadline.
func NewRetryingCaller(name string, timeout, baseDelay time.Duration, maxAttempts int, logger *zap.Logger) *RetryingCaller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingCaller{
		name:        name,
		timeout:     timeout,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// MaxAttempts is the default budget used by Do.
func (c *RetryingCaller) MaxAttempts() int { return c.maxAttempts }

// Do runs op with the caller's default attempt budget.
func (c *RetryingCaller) Do(ctx context.Context, op func(ctx context.Context) error, isRetryable func(error) bool) error {
	return c.Call(ctx, op, isRetryable, c.maxAttempts)
}

// Call performs op. On a retryable failure with attempts remaining it sleeps
// and tries again; a non-retryable failure is returned as is. When the budget
// is exhausted a *RetryExhaustedError wrapping the last failure is returned.
func (c *RetryingCaller) Call(ctx context.Context, op func(ctx context.Context) error, isRetryable func(error) bool, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if isRetryable == nil {
		isRetryable = IsRetryableHTTP
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := c.attempt(ctx, op)
		if err == nil {
			return nil
		}
		lastErr = err

		// The caller gave up; the per-attempt deadline is the only one we retry.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := c.baseDelay * time.Duration(1<<uint(attempt))
		c.logger.Warn("remote call failed, retrying",
			zap.String("call", c.name),
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", c.name, lastErr)
		}
	}
	return &RetryExhaustedError{Name: c.name, Attempts: maxAttempts, Err: lastErr}
}

func (c *RetryingCaller) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if c.timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return op(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// IsRetryableHTTP reports whether err is worth another attempt: HTTP 429/5xx,
// network failures and per-attempt deadline expiry.
func IsRetryableHTTP(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return IsRetryableStatus(statusErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryableStatus is true for 429 and any 5xx.
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
