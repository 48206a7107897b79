package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StockRecord is one lockable quantity bucket of a product. Physical stock is
// the sum over all records of the product.
type StockRecord struct {
	ID        int64     `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Location  *string   `json:"location,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Movement reasons recorded in the stock audit trail.
const (
	MovementSeed        = "seed"
	MovementCheckout    = "checkout"
	MovementCancel      = "cancel"
	MovementExpireOrder = "expire_order"
	MovementRestore     = "restore"
	MovementAdjustment  = "adjustment"
)

type StockMovement struct {
	ID            int64     `json:"id"`
	ProductID     string    `json:"product_id"`
	StockRecordID int64     `json:"stock_record_id"`
	Delta         int       `json:"delta"`
	Reason        string    `json:"reason"`
	Reference     string    `json:"reference,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Reservation is held by exactly one of a cart or an order.
type Reservation struct {
	ID        int64     `json:"id"`
	CartID    *string   `json:"cart_id,omitempty"`
	OrderID   *string   `json:"order_id,omitempty"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (r Reservation) Active(now time.Time) bool { return r.ExpiresAt.After(now) }

type Cart struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CartLine joins a cart item with the current catalog name and price.
type CartLine struct {
	CartID      string          `json:"cart_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

func (l CartLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Address struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	AddressLine1 string `json:"address_line_1"`
	City         string `json:"city"`
	Country      string `json:"country"`
	IsDefault    bool   `json:"is_default"`
}

type AddressSnapshot struct {
	AddressLine1 string `json:"address_line_1"`
	City         string `json:"city"`
	Country      string `json:"country"`
}

func (a Address) Snapshot() AddressSnapshot {
	return AddressSnapshot{AddressLine1: a.AddressLine1, City: a.City, Country: a.Country}
}

type Order struct {
	ID              string          `json:"id"`
	Number          string          `json:"order_number"`
	UserID          string          `json:"user_id"`
	Status          Status          `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	ShippingAddress AddressSnapshot `json:"shipping_address"`
	Items           []OrderItem     `json:"items,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderItem is an immutable snapshot taken at checkout.
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type Payment struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      PaymentStatus   `json:"status"`
	Provider    string          `json:"provider"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

const DefaultCurrency = "ETB"
