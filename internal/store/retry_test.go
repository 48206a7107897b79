package store

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/stretchr/testify/assert"
)

var errDeadlock = errors.New("deadlock detected")

func transient(err error) bool { return errors.Is(err, errDeadlock) }

func TestRetrySucceedsAfterTransient(t *testing.T) {
	calls := 0
	var retried []int
	err := Retry(context.Background(), RetryPolicy{
		MaxAttempts: 3,
		IsTransient: transient,
		OnRetry:     func(attempt int, _ error) { retried = append(retried, attempt) },
	}, func() error {
		calls++
		if calls < 3 {
			return errDeadlock
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryExhaustedIsTransientFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 2, IsTransient: transient}, func() error {
		calls++
		return errDeadlock
	})

	assert.ErrorIs(t, err, orders.ErrTransientFailure)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, IsTransient: transient}, func() error {
		calls++
		return orders.ErrEmptyCart
	})

	assert.ErrorIs(t, err, orders.ErrEmptyCart)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryPolicy{MaxAttempts: 3, IsTransient: transient}, func() error {
		return errDeadlock
	})
	assert.ErrorIs(t, err, context.Canceled)
}
