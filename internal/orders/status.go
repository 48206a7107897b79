package orders

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaymentFailed  Status = "payment_failed"
	StatusProcessing     Status = "processing"
	StatusCancelled      Status = "cancelled"
	StatusCompleted      Status = "completed"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusPaymentFailed: true, StatusProcessing: true, StatusCancelled: true, StatusCompleted: true},
	StatusPaymentFailed:  {StatusPendingPayment: true, StatusCancelled: true, StatusCompleted: true},
	StatusProcessing:     {StatusCancelled: true, StatusCompleted: true},
	StatusCancelled:      {},
	StatusCompleted:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// UserCancellable reports whether the owner may cancel without staff help.
func (s Status) UserCancellable() bool {
	return s == StatusPendingPayment || s == StatusPaymentFailed
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSuccess   PaymentStatus = "success"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)
