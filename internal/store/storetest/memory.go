// Package storetest provides an in-memory store.Store for tests. Transactions
// are fully serialized behind one mutex and work on a private copy of the
// state that is swapped in on commit, so a failing callback leaves no trace.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrSimulatedDeadlock is returned by InTx while Conflicts is positive.
var ErrSimulatedDeadlock = errors.New("storetest: simulated deadlock")

type Store struct {
	mu sync.Mutex
	st *state

	// Conflicts makes the next N transaction attempts fail after running fn,
	// the way a deadlock victim is rolled back at commit.
	Conflicts   int
	MaxAttempts int
	attempts    int

	failStock map[string]error
}

func New() *Store {
	return &Store{st: newState(), MaxAttempts: 3, failStock: map[string]error{}}
}

// Attempts reports how many transaction attempts have run.
func (s *Store) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// FailStock makes every lock of the product's stock records fail with err.
func (s *Store) FailStock(productID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStock[productID] = err
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return store.Retry(ctx, store.RetryPolicy{
		MaxAttempts: s.MaxAttempts,
		IsTransient: func(err error) bool { return errors.Is(err, ErrSimulatedDeadlock) },
	}, func() error {
		s.attempts++
		work := s.st.clone()
		if err := fn(ctx, &Tx{st: work, failStock: s.failStock}); err != nil {
			return err
		}
		if s.Conflicts > 0 {
			s.Conflicts--
			return ErrSimulatedDeadlock
		}
		s.st = work
		return nil
	})
}

// ---- seeding and inspection helpers ----

func (s *Store) AddProduct(name string, price string, stock ...int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := orders.Product{ID: uuid.NewString(), Name: name, Price: decimal.RequireFromString(price)}
	s.st.products[p.ID] = p
	for _, q := range stock {
		s.st.seq++
		s.st.stock[s.st.seq] = orders.StockRecord{ID: s.st.seq, ProductID: p.ID, Quantity: q}
	}
	return p.ID
}

func (s *Store) SetPrice(productID, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.st.products[productID]
	p.Price = decimal.RequireFromString(price)
	s.st.products[productID] = p
}

func (s *Store) AddAddress(userID string, isDefault bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := orders.Address{
		ID: uuid.NewString(), UserID: userID, AddressLine1: "Bole Road 12",
		City: "Addis Ababa", Country: "ET", IsDefault: isDefault,
	}
	s.st.addresses[a.ID] = a
	return a.ID
}

func (s *Store) Physical(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.sumStock(productID)
}

func (s *Store) StockRecords(productID string) []orders.StockRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.records(productID)
}

func (s *Store) Movements() []orders.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.movements)
}

func (s *Store) Reservations() []orders.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Reservation, 0, len(s.st.reservations))
	for _, r := range s.st.reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Reservation(cartID, productID string) (orders.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.cartReservation(cartID, productID)
	return r, ok
}

// ExpireReservations moves every reservation's expiry to at.
func (s *Store) ExpireReservations(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.st.reservations {
		r.ExpiresAt = at
		s.st.reservations[id] = r
	}
}

func (s *Store) Order(id string) (orders.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if ok {
		o.Items = slices.Clone(s.st.items[id])
	}
	return o, ok
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.st.items {
		n += len(it)
	}
	return n
}

func (s *Store) SetOrderStatus(id string, status orders.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.st.orders[id]
	o.Status = status
	s.st.orders[id] = o
}

func (s *Store) SetOrderCreatedAt(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.st.orders[id]
	o.CreatedAt = at
	s.st.orders[id] = o
}

func (s *Store) Payment(reference string) (orders.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.paymentByRef(reference)
	return p, ok
}

func (s *Store) SetPaymentStatus(reference string, status orders.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.paymentByRef(reference)
	if ok {
		p.Status = status
		s.st.payments[p.ID] = p
	}
}

func (s *Store) CartLineCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.st.carts {
		if c.UserID == userID {
			return len(s.st.lines[c.ID])
		}
	}
	return 0
}

// ---- state ----

type state struct {
	seq          int64
	products     map[string]orders.Product
	stock        map[int64]orders.StockRecord
	movements    []orders.StockMovement
	reservations map[int64]orders.Reservation
	carts        map[string]orders.Cart
	lines        map[string]map[string]int
	addresses    map[string]orders.Address
	orders       map[string]orders.Order
	items        map[string][]orders.OrderItem
	payments     map[string]orders.Payment
}

func newState() *state {
	return &state{
		products:     map[string]orders.Product{},
		stock:        map[int64]orders.StockRecord{},
		reservations: map[int64]orders.Reservation{},
		carts:        map[string]orders.Cart{},
		lines:        map[string]map[string]int{},
		addresses:    map[string]orders.Address{},
		orders:       map[string]orders.Order{},
		items:        map[string][]orders.OrderItem{},
		payments:     map[string]orders.Payment{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	c := &state{
		seq:          s.seq,
		products:     cloneMap(s.products),
		stock:        cloneMap(s.stock),
		movements:    slices.Clone(s.movements),
		reservations: cloneMap(s.reservations),
		carts:        cloneMap(s.carts),
		lines:        make(map[string]map[string]int, len(s.lines)),
		addresses:    cloneMap(s.addresses),
		orders:       cloneMap(s.orders),
		items:        make(map[string][]orders.OrderItem, len(s.items)),
		payments:     cloneMap(s.payments),
	}
	for k, v := range s.lines {
		c.lines[k] = cloneMap(v)
	}
	for k, v := range s.items {
		c.items[k] = slices.Clone(v)
	}
	return c
}

func (s *state) records(productID string) []orders.StockRecord {
	var out []orders.StockRecord
	for _, r := range s.stock {
		if r.ProductID == productID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) sumStock(productID string) int {
	n := 0
	for _, r := range s.records(productID) {
		n += r.Quantity
	}
	return n
}

func (s *state) cartReservation(cartID, productID string) (orders.Reservation, bool) {
	for _, r := range s.reservations {
		if r.CartID != nil && *r.CartID == cartID && r.ProductID == productID {
			return r, true
		}
	}
	return orders.Reservation{}, false
}

func (s *state) paymentByRef(ref string) (orders.Payment, bool) {
	for _, p := range s.payments {
		if p.Reference == ref {
			return p, true
		}
	}
	return orders.Payment{}, false
}

// ---- Tx ----

type Tx struct {
	st        *state
	failStock map[string]error
}

var _ store.Tx = (*Tx)(nil)

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, orders.ErrNotFound)
}

func (t *Tx) Savepoint(ctx context.Context, fn func(tx store.Tx) error) error {
	snapshot := t.st.clone()
	if err := fn(t); err != nil {
		*t.st = *snapshot
		return err
	}
	return nil
}

func (t *Tx) LockStockRecords(_ context.Context, productID string) ([]orders.StockRecord, error) {
	if err := t.failStock[productID]; err != nil {
		return nil, err
	}
	return t.st.records(productID), nil
}

func (t *Tx) SetStockQuantity(_ context.Context, recordID int64, qty int) error {
	r, ok := t.st.stock[recordID]
	if !ok {
		return notFound("stock record", fmt.Sprint(recordID))
	}
	if qty < 0 {
		return fmt.Errorf("stock record %d: quantity %d violates check constraint", recordID, qty)
	}
	r.Quantity = qty
	r.UpdatedAt = time.Now()
	t.st.stock[recordID] = r
	return nil
}

func (t *Tx) InsertStockRecord(_ context.Context, productID string, qty int, location *string) (int64, error) {
	if qty < 0 {
		return 0, fmt.Errorf("stock record: quantity %d violates check constraint", qty)
	}
	t.st.seq++
	t.st.stock[t.st.seq] = orders.StockRecord{
		ID: t.st.seq, ProductID: productID, Quantity: qty, Location: location, UpdatedAt: time.Now(),
	}
	return t.st.seq, nil
}

func (t *Tx) SumStock(_ context.Context, productID string) (int, error) {
	return t.st.sumStock(productID), nil
}

func (t *Tx) InsertStockMovement(_ context.Context, m orders.StockMovement) error {
	t.st.seq++
	m.ID = t.st.seq
	m.CreatedAt = time.Now()
	t.st.movements = append(t.st.movements, m)
	return nil
}

func (t *Tx) DeleteExpiredReservations(_ context.Context, productID string, now time.Time) (int64, error) {
	var n int64
	for id, r := range t.st.reservations {
		if r.ProductID == productID && !r.Active(now) {
			delete(t.st.reservations, id)
			n++
		}
	}
	return n, nil
}

func (t *Tx) PurgeExpiredReservations(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, r := range t.st.reservations {
		if !r.Active(now) {
			delete(t.st.reservations, id)
			n++
		}
	}
	return n, nil
}

func (t *Tx) SumActiveReservations(_ context.Context, productID, excludeCartID string, now time.Time) (int, error) {
	n := 0
	for _, r := range t.st.reservations {
		if r.ProductID != productID || !r.Active(now) {
			continue
		}
		if excludeCartID != "" && r.CartID != nil && *r.CartID == excludeCartID {
			continue
		}
		n += r.Quantity
	}
	return n, nil
}

func (t *Tx) UpsertCartReservation(_ context.Context, cartID, productID string, qty int, expiresAt time.Time) error {
	if r, ok := t.st.cartReservation(cartID, productID); ok {
		r.Quantity = qty
		r.ExpiresAt = expiresAt
		t.st.reservations[r.ID] = r
		return nil
	}
	t.st.seq++
	cid := cartID
	t.st.reservations[t.st.seq] = orders.Reservation{
		ID: t.st.seq, CartID: &cid, ProductID: productID, Quantity: qty,
		ExpiresAt: expiresAt, CreatedAt: time.Now(),
	}
	return nil
}

func (t *Tx) DeleteCartReservation(_ context.Context, cartID, productID string) error {
	if r, ok := t.st.cartReservation(cartID, productID); ok {
		delete(t.st.reservations, r.ID)
	}
	return nil
}

func (t *Tx) DeleteCartReservations(_ context.Context, cartID string) (int64, error) {
	var n int64
	for id, r := range t.st.reservations {
		if r.CartID != nil && *r.CartID == cartID {
			delete(t.st.reservations, id)
			n++
		}
	}
	return n, nil
}

func (t *Tx) ListCartReservations(_ context.Context, cartID string) ([]orders.Reservation, error) {
	var out []orders.Reservation
	for _, r := range t.st.reservations {
		if r.CartID != nil && *r.CartID == cartID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (t *Tx) InsertProduct(_ context.Context, p *orders.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.products[p.ID] = *p
	return nil
}

func (t *Tx) GetProduct(_ context.Context, id string) (*orders.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	return &p, nil
}

func (t *Tx) ListProducts(_ context.Context) ([]orders.Product, error) {
	out := make([]orders.Product, 0, len(t.st.products))
	for _, p := range t.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *Tx) GetCartByUser(_ context.Context, userID string) (*orders.Cart, error) {
	for _, c := range t.st.carts {
		if c.UserID == userID {
			return &c, nil
		}
	}
	return nil, notFound("cart for user", userID)
}

func (t *Tx) CreateCart(_ context.Context, userID string) (*orders.Cart, error) {
	c := orders.Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: time.Now()}
	t.st.carts[c.ID] = c
	t.st.lines[c.ID] = map[string]int{}
	return &c, nil
}

func (t *Tx) CartLines(_ context.Context, cartID string) ([]orders.CartLine, error) {
	out := make([]orders.CartLine, 0, len(t.st.lines[cartID]))
	for pid, q := range t.st.lines[cartID] {
		p := t.st.products[pid]
		out = append(out, orders.CartLine{
			CartID: cartID, ProductID: pid, ProductName: p.Name, UnitPrice: p.Price, Quantity: q,
		})
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].ProductID, out[j].ProductID) < 0 })
	return out, nil
}

func (t *Tx) GetCartLine(_ context.Context, cartID, productID string) (*orders.CartLine, error) {
	q, ok := t.st.lines[cartID][productID]
	if !ok {
		return nil, notFound("cart line", productID)
	}
	p := t.st.products[productID]
	return &orders.CartLine{CartID: cartID, ProductID: productID, ProductName: p.Name, UnitPrice: p.Price, Quantity: q}, nil
}

func (t *Tx) UpsertCartLine(_ context.Context, cartID, productID string, qty int) error {
	if _, ok := t.st.products[productID]; !ok {
		return notFound("product", productID)
	}
	if t.st.lines[cartID] == nil {
		t.st.lines[cartID] = map[string]int{}
	}
	t.st.lines[cartID][productID] = qty
	return nil
}

func (t *Tx) DeleteCartLine(_ context.Context, cartID, productID string) error {
	delete(t.st.lines[cartID], productID)
	return nil
}

func (t *Tx) ClearCart(_ context.Context, cartID string) (int64, error) {
	n := int64(len(t.st.lines[cartID]))
	t.st.lines[cartID] = map[string]int{}
	return n, nil
}

func (t *Tx) GetAddress(_ context.Context, userID, addressID string) (*orders.Address, error) {
	a, ok := t.st.addresses[addressID]
	if !ok || a.UserID != userID {
		return nil, notFound("address", addressID)
	}
	return &a, nil
}

func (t *Tx) DefaultAddress(_ context.Context, userID string) (*orders.Address, error) {
	for _, a := range t.st.addresses {
		if a.UserID == userID && a.IsDefault {
			return &a, nil
		}
	}
	return nil, notFound("default address for user", userID)
}

func (t *Tx) InsertOrder(_ context.Context, o *orders.Order) error {
	for _, existing := range t.st.orders {
		if existing.Number == o.Number {
			return fmt.Errorf("order number %s already exists", o.Number)
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.UpdatedAt = o.CreatedAt
	stored := *o
	stored.Items = nil
	t.st.orders[o.ID] = stored
	return nil
}

func (t *Tx) InsertOrderItems(_ context.Context, items []orders.OrderItem) error {
	for _, it := range items {
		if _, ok := t.st.orders[it.OrderID]; !ok {
			return notFound("order", it.OrderID)
		}
		t.st.seq++
		it.ID = t.st.seq
		t.st.items[it.OrderID] = append(t.st.items[it.OrderID], it)
	}
	return nil
}

func (t *Tx) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	o.Items = slices.Clone(t.st.items[id])
	return &o, nil
}

func (t *Tx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *Tx) UpdateOrderStatus(_ context.Context, id string, status orders.Status) error {
	o, ok := t.st.orders[id]
	if !ok {
		return notFound("order", id)
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	t.st.orders[id] = o
	return nil
}

func (t *Tx) ListStaleOrderIDs(_ context.Context, status orders.Status, createdBefore time.Time, limit int) ([]string, error) {
	var stale []orders.Order
	for _, o := range t.st.orders {
		if o.Status == status && o.CreatedAt.Before(createdBefore) {
			stale = append(stale, o)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]string, len(stale))
	for i, o := range stale {
		ids[i] = o.ID
	}
	return ids, nil
}

func (t *Tx) InsertPayment(_ context.Context, p *orders.Payment) error {
	if _, dup := t.st.paymentByRef(p.Reference); dup {
		return fmt.Errorf("payment reference %s already exists", p.Reference)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.payments[p.ID] = *p
	return nil
}

func (t *Tx) GetPayment(_ context.Context, reference string) (*orders.Payment, error) {
	p, ok := t.st.paymentByRef(reference)
	if !ok {
		return nil, notFound("payment", reference)
	}
	return &p, nil
}

func (t *Tx) LockPayment(ctx context.Context, reference string) (*orders.Payment, error) {
	return t.GetPayment(ctx, reference)
}

func (t *Tx) UpdatePayment(_ context.Context, id string, status orders.PaymentStatus, raw json.RawMessage) error {
	p, ok := t.st.payments[id]
	if !ok {
		return notFound("payment", id)
	}
	p.Status = status
	if len(raw) > 0 {
		p.RawResponse = slices.Clone(raw)
	}
	p.UpdatedAt = time.Now()
	t.st.payments[id] = p
	return nil
}

func (t *Tx) CancelPendingPayments(_ context.Context, orderID string) (int64, error) {
	var n int64
	for id, p := range t.st.payments {
		if p.OrderID == orderID && p.Status == orders.PaymentPending {
			p.Status = orders.PaymentCancelled
			t.st.payments[id] = p
			n++
		}
	}
	return n, nil
}
