// Package retry provides a minimal fixed-delay retry helper for
// operations that fail transiently, such as waiting for SSH on a
// freshly booted node.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do calls op up to attempts times, sleeping delay between failures.
// It returns nil on the first success, the context error if the context
// is cancelled while waiting, and otherwise the last error wrapped with
// the attempt count.
func Do(ctx context.Context, attempts int, delay time.Duration, op func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = op(ctx); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
