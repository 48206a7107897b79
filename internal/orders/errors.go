package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrNoAddress         = errors.New("no shipping address provided and no default found")
	ErrInvalidAddress    = errors.New("invalid shipping address")
	ErrAlreadyCompleted  = errors.New("order already completed")
	ErrAlreadyCancelled  = errors.New("order already cancelled")
	ErrNotCancellable    = errors.New("order is already processing")
	ErrUnknownReference  = errors.New("unknown payment reference")
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
	ErrTransientFailure  = errors.New("transient storage failure")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrNotPayable        = errors.New("order is not awaiting payment")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// InsufficientStockError carries the figures seen under lock. It matches
// ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Detail converts the error into the payload shape published on rejection.
func (e *InsufficientStockError) Detail() StockRejectedDetail {
	return StockRejectedDetail{ProductID: e.ProductID, Required: e.Requested, Available: e.Available}
}
