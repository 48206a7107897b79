package orders

import (
	"strings"

	"github.com/google/uuid"
)

func shortHex(n int) string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n])
}

// NewOrderNumber returns a human readable order number, ORD-XXXXXXXX.
func NewOrderNumber() string { return "ORD-" + shortHex(8) }

// NewPaymentReference returns TX-{order number}-XXXXXX. Every payment attempt
// on an order gets its own reference.
func NewPaymentReference(orderNumber string) string {
	return "TX-" + orderNumber + "-" + shortHex(6)
}
