// Package retry provides the exponential-backoff retry loop used by
// call_op's admission retries against a Lane B endpoint.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// UntilDeadline calls operation repeatedly, waiting an exponentially
// growing backoff (capped at maxBackoff) between attempts, until operation
// succeeds, ctx is done, or deadline passes. It returns operation's last
// error once deadline has passed, or ctx.Err() if ctx is done during a
// backoff wait.
func UntilDeadline(ctx context.Context, operationName string, deadline time.Time, initialBackoff, maxBackoff time.Duration, operation func() error) error {
	backoff := initialBackoff
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := operation(); err == nil {
			if attempt > 0 {
				slog.Debug("operation succeeded after retry", "operation", operationName, "attempt", attempt)
			}
			return nil
		} else {
			lastErr = err
			slog.Debug("attempt failed, will retry", "operation", operationName, "attempt", attempt, "error", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return lastErr
		}
		wait := backoff
		if wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
