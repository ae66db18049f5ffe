package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/convgateway/core/internal/shared"
)

// withBusyRetry runs fn up to maxRetries times with exponential backoff
// whenever fn's error is a SQLITE_BUSY / "database is locked" condition,
// mirroring the teacher's DeleteAgentSession/updateContainerIDWithRetry
// pattern. The delay doubles on each attempt (baseDelay, 2*baseDelay,
// 4*baseDelay, ...).
func withBusyRetry(ctx context.Context, op string, maxRetries int, baseDelay time.Duration, fn func() error) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("store: retrying after SQLITE_BUSY", "op", op, "attempt", i+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
	}
	return fmt.Errorf("%s: exhausted retries: %w", op, lastErr)
}
