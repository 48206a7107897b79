package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Tx struct {
	tx pgx.Tx
}

var _ store.Tx = (*Tx)(nil)

func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, orders.ErrNotFound)
	}
	return err
}

// Savepoint maps onto a pgx nested transaction, which issues SAVEPOINT /
// ROLLBACK TO SAVEPOINT underneath.
func (t *Tx) Savepoint(ctx context.Context, fn func(tx store.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(&Tx{tx: sp}); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return sp.Commit(ctx)
}

// ---- stock ----

func (t *Tx) LockStockRecords(ctx context.Context, productID string) ([]orders.StockRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, product_id, quantity, location, updated_at
		FROM stock_records
		WHERE product_id = $1
		ORDER BY id
		FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.StockRecord
	for rows.Next() {
		var r orders.StockRecord
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Quantity, &r.Location, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *Tx) SetStockQuantity(ctx context.Context, recordID int64, qty int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE stock_records SET quantity = $2, updated_at = now() WHERE id = $1`, recordID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("stock record %d: %w", recordID, orders.ErrNotFound)
	}
	return nil
}

func (t *Tx) InsertStockRecord(ctx context.Context, productID string, qty int, location *string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_records(product_id, quantity, location)
		VALUES ($1, $2, $3)
		RETURNING id`, productID, qty, location).Scan(&id)
	return id, err
}

func (t *Tx) SumStock(ctx context.Context, productID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_records WHERE product_id = $1`, productID).Scan(&n)
	return n, err
}

func (t *Tx) InsertStockMovement(ctx context.Context, m orders.StockMovement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_movements(product_id, stock_record_id, delta, reason, reference)
		VALUES ($1, $2, $3, $4, $5)`, m.ProductID, m.StockRecordID, m.Delta, m.Reason, m.Reference)
	return err
}

// ---- reservations ----

func (t *Tx) DeleteExpiredReservations(ctx context.Context, productID string, now time.Time) (int64, error) {
	ct, err := t.tx.Exec(ctx, `DELETE FROM reservations WHERE product_id = $1 AND expires_at <= $2`, productID, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t *Tx) PurgeExpiredReservations(ctx context.Context, now time.Time) (int64, error) {
	ct, err := t.tx.Exec(ctx, `DELETE FROM reservations WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t *Tx) SumActiveReservations(ctx context.Context, productID, excludeCartID string, now time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM reservations
		WHERE product_id = $1
		  AND expires_at > $2
		  AND ($3::text = '' OR cart_id IS DISTINCT FROM $3::text)`,
		productID, now, excludeCartID).Scan(&n)
	return n, err
}

func (t *Tx) UpsertCartReservation(ctx context.Context, cartID, productID string, qty int, expiresAt time.Time) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations(cart_id, product_id, quantity, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, expires_at = EXCLUDED.expires_at`,
		cartID, productID, qty, expiresAt)
	return err
}

func (t *Tx) DeleteCartReservation(ctx context.Context, cartID, productID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM reservations WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
	return err
}

func (t *Tx) DeleteCartReservations(ctx context.Context, cartID string) (int64, error) {
	ct, err := t.tx.Exec(ctx, `DELETE FROM reservations WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t *Tx) ListCartReservations(ctx context.Context, cartID string) ([]orders.Reservation, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, cart_id, order_id, product_id, quantity, expires_at, created_at
		FROM reservations
		WHERE cart_id = $1
		ORDER BY product_id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Reservation
	for rows.Next() {
		var r orders.Reservation
		if err := rows.Scan(&r.ID, &r.CartID, &r.OrderID, &r.ProductID, &r.Quantity, &r.ExpiresAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- catalog ----

func (t *Tx) InsertProduct(ctx context.Context, p *orders.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO products(id, name, price)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`, p.ID, p.Name, p.Price).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (t *Tx) GetProduct(ctx context.Context, id string) (*orders.Product, error) {
	var p orders.Product
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, price, created_at, updated_at FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return &p, nil
}

func (t *Tx) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, name, price, created_at, updated_at FROM products ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Product{}
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- carts ----

func (t *Tx) GetCartByUser(ctx context.Context, userID string) (*orders.Cart, error) {
	var c orders.Cart
	err := t.tx.QueryRow(ctx, `SELECT id, user_id, created_at FROM carts WHERE user_id = $1`, userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, "cart for user", userID)
	}
	return &c, nil
}

// CreateCart returns the user's cart, creating it if a concurrent request
// has not already done so.
func (t *Tx) CreateCart(ctx context.Context, userID string) (*orders.Cart, error) {
	var c orders.Cart
	err := t.tx.QueryRow(ctx, `
		INSERT INTO carts(id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, created_at`, uuid.NewString(), userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const cartLineSelect = `
	SELECT ci.cart_id, ci.product_id, p.name, p.price, ci.quantity
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id`

func scanCartLine(row pgx.Row) (orders.CartLine, error) {
	var l orders.CartLine
	err := row.Scan(&l.CartID, &l.ProductID, &l.ProductName, &l.UnitPrice, &l.Quantity)
	return l, err
}

func (t *Tx) CartLines(ctx context.Context, cartID string) ([]orders.CartLine, error) {
	rows, err := t.tx.Query(ctx, cartLineSelect+` WHERE ci.cart_id = $1 ORDER BY ci.product_id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.CartLine{}
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *Tx) GetCartLine(ctx context.Context, cartID, productID string) (*orders.CartLine, error) {
	l, err := scanCartLine(t.tx.QueryRow(ctx, cartLineSelect+` WHERE ci.cart_id = $1 AND ci.product_id = $2`, cartID, productID))
	if err != nil {
		return nil, notFound(err, "cart line", productID)
	}
	return &l, nil
}

func (t *Tx) UpsertCartLine(ctx context.Context, cartID, productID string, qty int) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cart_items(cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		cartID, productID, qty)
	return err
}

func (t *Tx) DeleteCartLine(ctx context.Context, cartID, productID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
	return err
}

func (t *Tx) ClearCart(ctx context.Context, cartID string) (int64, error) {
	ct, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// ---- addresses ----

const addressSelect = `SELECT id, user_id, address_line_1, city, country, is_default FROM addresses`

func scanAddress(row pgx.Row) (*orders.Address, error) {
	var a orders.Address
	if err := row.Scan(&a.ID, &a.UserID, &a.AddressLine1, &a.City, &a.Country, &a.IsDefault); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *Tx) GetAddress(ctx context.Context, userID, addressID string) (*orders.Address, error) {
	a, err := scanAddress(t.tx.QueryRow(ctx, addressSelect+` WHERE id = $1 AND user_id = $2`, addressID, userID))
	if err != nil {
		return nil, notFound(err, "address", addressID)
	}
	return a, nil
}

func (t *Tx) DefaultAddress(ctx context.Context, userID string) (*orders.Address, error) {
	a, err := scanAddress(t.tx.QueryRow(ctx, addressSelect+` WHERE user_id = $1 AND is_default ORDER BY id LIMIT 1`, userID))
	if err != nil {
		return nil, notFound(err, "default address for user", userID)
	}
	return a, nil
}

// ---- orders ----

func (t *Tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO orders(id, order_number, user_id, status, total_amount, currency, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		o.ID, o.Number, o.UserID, string(o.Status), o.TotalAmount, o.Currency, o.ShippingAddress).
		Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (t *Tx) InsertOrderItems(ctx context.Context, items []orders.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, it := range items {
		b.Queue(`
			INSERT INTO order_items(order_id, product_id, product_name, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			it.OrderID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.TotalPrice)
	}
	return t.tx.SendBatch(ctx, b).Close()
}

func (t *Tx) getOrder(ctx context.Context, id string, lock bool) (*orders.Order, error) {
	q := `
		SELECT id, order_number, user_id, status, total_amount, currency, shipping_address, created_at, updated_at
		FROM orders WHERE id = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	var (
		o      orders.Order
		status string
	)
	err := t.tx.QueryRow(ctx, q, id).Scan(&o.ID, &o.Number, &o.UserID, &status, &o.TotalAmount,
		&o.Currency, &o.ShippingAddress, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	o.Status = orders.Status(status)

	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, total_price
		FROM order_items WHERE order_id = $1 ORDER BY product_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *Tx) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return t.getOrder(ctx, id, false)
}

func (t *Tx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	return t.getOrder(ctx, id, true)
}

func (t *Tx) UpdateOrderStatus(ctx context.Context, id string, status orders.Status) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
	}
	return nil
}

func (t *Tx) ListStaleOrderIDs(ctx context.Context, status orders.Status, createdBefore time.Time, limit int) ([]string, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id FROM orders
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`, string(status), createdBefore, lim)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ---- payments ----

func (t *Tx) InsertPayment(ctx context.Context, p *orders.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO payments(id, order_id, reference, amount, currency, status, provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.OrderID, p.Reference, p.Amount, p.Currency, string(p.Status), p.Provider).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (t *Tx) getPayment(ctx context.Context, reference string, lock bool) (*orders.Payment, error) {
	q := `
		SELECT id, order_id, reference, amount, currency, status, provider, raw_response, created_at, updated_at
		FROM payments WHERE reference = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	var (
		p      orders.Payment
		status string
		raw    []byte
	)
	err := t.tx.QueryRow(ctx, q, reference).Scan(&p.ID, &p.OrderID, &p.Reference, &p.Amount, &p.Currency,
		&status, &p.Provider, &raw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "payment", reference)
	}
	p.Status = orders.PaymentStatus(status)
	p.RawResponse = raw
	return &p, nil
}

func (t *Tx) GetPayment(ctx context.Context, reference string) (*orders.Payment, error) {
	return t.getPayment(ctx, reference, false)
}

func (t *Tx) LockPayment(ctx context.Context, reference string) (*orders.Payment, error) {
	return t.getPayment(ctx, reference, true)
}

// UpdatePayment keeps the stored raw response when raw is empty.
func (t *Tx) UpdatePayment(ctx context.Context, id string, status orders.PaymentStatus, raw json.RawMessage) error {
	var rawArg *string
	if len(raw) > 0 {
		s := string(raw)
		rawArg = &s
	}
	ct, err := t.tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, raw_response = COALESCE($3::jsonb, raw_response), updated_at = now()
		WHERE id = $1`, id, string(status), rawArg)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("payment %s: %w", id, orders.ErrNotFound)
	}
	return nil
}

func (t *Tx) CancelPendingPayments(ctx context.Context, orderID string) (int64, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE payments SET status = 'cancelled', updated_at = now()
		WHERE order_id = $1 AND status = 'pending'`, orderID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
