// Package store declares the transactional data access the stock engine runs
// on. Every core operation receives a Tx explicitly; nothing reads ambient
// transaction state.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/orders"
)

type Store interface {
	// InTx runs fn inside one transaction. fn may run more than once when the
	// backend reports a transient conflict, so it must not have side effects
	// outside tx.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	StockTx
	ReservationTx
	CatalogTx
	CartTx
	AddressTx
	OrderTx
	PaymentTx

	// Savepoint runs fn in a nested scope. An error from fn undoes only the
	// writes fn made and is returned to the caller.
	Savepoint(ctx context.Context, fn func(tx Tx) error) error
}

type StockTx interface {
	// LockStockRecords locks every record of the product in ascending id order.
	LockStockRecords(ctx context.Context, productID string) ([]orders.StockRecord, error)
	SetStockQuantity(ctx context.Context, recordID int64, qty int) error
	InsertStockRecord(ctx context.Context, productID string, qty int, location *string) (int64, error)
	SumStock(ctx context.Context, productID string) (int, error)
	InsertStockMovement(ctx context.Context, m orders.StockMovement) error
}

type ReservationTx interface {
	DeleteExpiredReservations(ctx context.Context, productID string, now time.Time) (int64, error)
	PurgeExpiredReservations(ctx context.Context, now time.Time) (int64, error)
	// SumActiveReservations ignores reservations expired at now. An empty
	// excludeCartID excludes nothing.
	SumActiveReservations(ctx context.Context, productID, excludeCartID string, now time.Time) (int, error)
	UpsertCartReservation(ctx context.Context, cartID, productID string, qty int, expiresAt time.Time) error
	DeleteCartReservation(ctx context.Context, cartID, productID string) error
	DeleteCartReservations(ctx context.Context, cartID string) (int64, error)
	ListCartReservations(ctx context.Context, cartID string) ([]orders.Reservation, error)
}

type CatalogTx interface {
	InsertProduct(ctx context.Context, p *orders.Product) error
	GetProduct(ctx context.Context, id string) (*orders.Product, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type CartTx interface {
	GetCartByUser(ctx context.Context, userID string) (*orders.Cart, error)
	CreateCart(ctx context.Context, userID string) (*orders.Cart, error)
	// CartLines returns lines ordered by product id with current catalog prices.
	CartLines(ctx context.Context, cartID string) ([]orders.CartLine, error)
	GetCartLine(ctx context.Context, cartID, productID string) (*orders.CartLine, error)
	UpsertCartLine(ctx context.Context, cartID, productID string, qty int) error
	DeleteCartLine(ctx context.Context, cartID, productID string) error
	ClearCart(ctx context.Context, cartID string) (int64, error)
}

type AddressTx interface {
	GetAddress(ctx context.Context, userID, addressID string) (*orders.Address, error)
	DefaultAddress(ctx context.Context, userID string) (*orders.Address, error)
}

type OrderTx interface {
	InsertOrder(ctx context.Context, o *orders.Order) error
	InsertOrderItems(ctx context.Context, items []orders.OrderItem) error
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	// LockOrder reads the order FOR UPDATE, items included.
	LockOrder(ctx context.Context, id string) (*orders.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status orders.Status) error
	ListStaleOrderIDs(ctx context.Context, status orders.Status, createdBefore time.Time, limit int) ([]string, error)
}

type PaymentTx interface {
	InsertPayment(ctx context.Context, p *orders.Payment) error
	GetPayment(ctx context.Context, reference string) (*orders.Payment, error)
	LockPayment(ctx context.Context, reference string) (*orders.Payment, error)
	UpdatePayment(ctx context.Context, id string, status orders.PaymentStatus, raw json.RawMessage) error
	CancelPendingPayments(ctx context.Context, orderID string) (int64, error)
}
