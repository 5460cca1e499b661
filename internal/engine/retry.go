package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type (
	// BackoffStrategy selects how retry delays grow between attempts
	BackoffStrategy string

	// RetryConfig bounds a retried operation. MaxRetries counts retries
	// after the first attempt, so an operation runs at most MaxRetries+1
	// times. RetryOnErrors, when set, limits retrying to errors whose
	// message contains one of the substrings
	RetryConfig struct {
		Enabled       bool            `json:"enabled"`
		MaxRetries    int             `json:"maxRetries"`
		Delay         time.Duration   `json:"delay"`
		Strategy      BackoffStrategy `json:"strategy"`
		RetryOnErrors []string        `json:"retryOnErrors,omitempty"`
	}

	// RetryResult reports the outcome of a retried operation
	RetryResult struct {
		Success   bool          `json:"success"`
		Result    any           `json:"result,omitempty"`
		Error     string        `json:"error,omitempty"`
		Attempts  int           `json:"attempts"`
		TotalTime time.Duration `json:"totalTime"`
	}

	// RetryFunc is the operation being retried
	RetryFunc func(ctx context.Context) (any, error)

	// OnRetry fires before each retry sleep
	OnRetry func(attempt int, err error, delay time.Duration)
)

const (
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFibonacci   BackoffStrategy = "fibonacci"
)

var ErrRetriesExhausted = errors.New("all retry attempts failed")

// ExecuteWithRetry runs fn with bounded retry and backoff, returning a
// result object instead of an error. Non-retryable errors and context
// cancellation stop the attempt loop immediately
func ExecuteWithRetry(
	ctx context.Context, fn RetryFunc, cfg *RetryConfig, onRetry OnRetry,
) *RetryResult {
	start := time.Now()

	maxRetries := 0
	if cfg != nil && cfg.Enabled {
		maxRetries = cfg.MaxRetries
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		result, err := fn(ctx)
		if err == nil {
			return &RetryResult{
				Success:   true,
				Result:    result,
				Attempts:  attempts,
				TotalTime: time.Since(start),
			}
		}
		lastErr = err

		if attempt == maxRetries || !retryable(cfg, err) {
			break
		}

		delay := backoffDelay(cfg, attempt+1)
		if onRetry != nil {
			onRetry(attempt+1, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	return &RetryResult{
		Success:   false,
		Error:     lastErr.Error(),
		Attempts:  attempts,
		TotalTime: time.Since(start),
	}
}

// Retry is a convenience wrapper that returns the result directly and
// surfaces the last error when all attempts are exhausted
func Retry(
	ctx context.Context, fn RetryFunc, cfg *RetryConfig,
) (any, error) {
	res := ExecuteWithRetry(ctx, fn, cfg, nil)
	if res.Success {
		return res.Result, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %s",
		ErrRetriesExhausted, res.Attempts, res.Error)
}

func retryable(cfg *RetryConfig, err error) bool {
	if cfg == nil || len(cfg.RetryOnErrors) == 0 {
		return true
	}
	msg := err.Error()
	for _, substr := range cfg.RetryOnErrors {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// backoffDelay computes the sleep before retry number attempt (1-based)
func backoffDelay(cfg *RetryConfig, attempt int) time.Duration {
	base := cfg.Delay
	if base <= 0 {
		return 0
	}

	switch cfg.Strategy {
	case BackoffExponential:
		return base * time.Duration(1<<(attempt-1))
	case BackoffFibonacci:
		return base * time.Duration(fibonacci(attempt))
	default:
		return base * time.Duration(attempt)
	}
}

func fibonacci(n int) int {
	a, b := 0, 1
	for range n {
		a, b = b, a+b
	}
	return a
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
