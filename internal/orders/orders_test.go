package orders

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumbersFormat(t *testing.T) {
	num := NewOrderNumber()
	assert.Regexp(t, regexp.MustCompile(`^ORD-[0-9A-F]{8}$`), num)
	ref := NewPaymentReference(num)
	assert.Regexp(t, regexp.MustCompile(`^TX-ORD-[0-9A-F]{8}-[0-9A-F]{6}$`), ref)
	assert.NotEqual(t, ref, NewPaymentReference(num))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPendingPayment, StatusCompleted))
	assert.True(t, CanTransition(StatusPaymentFailed, StatusCompleted))
	assert.True(t, CanTransition(StatusPendingPayment, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusCompleted))
	assert.False(t, CanTransition(StatusCompleted, StatusCancelled))
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusProcessing.UserCancellable())
}

func TestInsufficientStockErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("checkout: %w", &InsufficientStockError{ProductID: "p1", Available: 3, Requested: 5})
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	var ise *InsufficientStockError
	assert.True(t, errors.As(err, &ise))
	assert.Equal(t, StockRejectedDetail{ProductID: "p1", Required: 5, Available: 3}, ise.Detail())
	assert.Contains(t, err.Error(), "available 3, requested 5")
}
