package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/orders"
)

type RetryPolicy struct {
	MaxAttempts int
	// Backoff grows linearly with the attempt number.
	Backoff     time.Duration
	IsTransient func(error) bool
	OnRetry     func(attempt int, err error)
}

// Retry runs fn until it succeeds, fails with a non-transient error, or the
// attempts run out. Exhaustion is reported as orders.ErrTransientFailure.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	attempts := max(p.MaxAttempts, 1)
	for i := 1; ; i++ {
		err := fn()
		if err == nil || p.IsTransient == nil || !p.IsTransient(err) {
			return err
		}
		if i >= attempts {
			return fmt.Errorf("%w after %d attempts: %v", orders.ErrTransientFailure, i, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(i, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff * time.Duration(i)):
		}
	}
}
