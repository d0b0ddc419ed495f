package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Decision is the retry policy's verdict for one failed attempt.
type Decision int

const (
	DecisionRetry Decision = iota
	DecisionFail
)

// Classify is the pure retry policy shared by every capability call site:
// it maps (attempt, error) to retry-or-fail independent of the caller.
// User cancellation is never retried; everything else (timeouts, transport
// faults, malformed responses) is retried until attempts run out.
func Classify(err error, attempt, maxAttempts int) Decision {
	if errors.Is(err, context.Canceled) {
		return DecisionFail
	}
	if attempt >= maxAttempts {
		return DecisionFail
	}
	return DecisionRetry
}

// BackoffDelay returns the exponential backoff before the given (1-based)
// attempt's retry: 1s, 2s, 4s, ...
func BackoffDelay(attempt int) time.Duration {
	return time.Second << (attempt - 1)
}

// withRetry runs fn up to maxAttempts times under the shared policy.
// It returns the number of retries performed (attempts beyond the first)
// and the last error when all attempts failed.
func withRetry(ctx context.Context, logCtx *slog.Logger, maxAttempts int, op string, fn func(context.Context) error) (int, error) {
	var lastErr error
	attempt := 1
	for ; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt - 1, nil
		}
		lastErr = err

		if Classify(err, attempt, maxAttempts) == DecisionFail {
			break
		}

		backoff := BackoffDelay(attempt)
		logCtx.Warn("Attempt failed, will retry.",
			"op", op,
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return attempt - 1, ctx.Err()
		}
	}
	logCtx.Error("All attempts failed.", "op", op, "attempts", attempt, "error", lastErr)
	return attempt - 1, fmt.Errorf("%s failed after %d attempts: %w", op, attempt, lastErr)
}
