package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"github.com/ariefcatur/go-stock-engine/internal/store/storetest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedEvent struct {
	Type    string
	OrderID string
	Payload any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Emit(_ context.Context, eventType, orderID string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, OrderID: orderID, Payload: payload})
}

type stubLocker struct {
	granted  bool
	err      error
	acquired int
	released int
}

func (l *stubLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil || !l.granted {
		return nil, false, l.err
	}
	l.acquired++
	return func(context.Context) error { l.released++; return nil }, true, nil
}

// placeOrder deducts stock and writes a pending order created at createdAt.
func placeOrder(t *testing.T, st *storetest.Store, createdAt time.Time, lines map[string]int) string {
	t.Helper()
	id := uuid.NewString()
	l := NewLedger()
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		o := &orders.Order{
			ID: id, Number: "ORD-" + id[:8], UserID: "u1", Status: orders.StatusPendingPayment,
			TotalAmount: decimal.Zero, Currency: orders.DefaultCurrency, CreatedAt: createdAt,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		var items []orders.OrderItem
		for pid, q := range lines {
			if err := l.Deduct(ctx, tx, pid, q, orders.MovementCheckout, id); err != nil {
				return err
			}
			items = append(items, orders.OrderItem{OrderID: id, ProductID: pid, Quantity: q})
		}
		return tx.InsertOrderItems(ctx, items)
	}))
	return id
}

func newTestSweeper(st *storetest.Store, now *time.Time, rec *eventRecorder, locker Locker) *Sweeper {
	return NewSweeper(st, NewLedger(), rec, locker, zap.NewNop(), SweeperConfig{}).WithClock(fixedClock(now))
}

func TestSweeperPurgeExpiredIsIdempotent(t *testing.T) {
	st := storetest.New()
	pid := st.AddProduct("Coffee", "250.00", 10)
	now := t0
	m := NewReservations(15*time.Minute, zap.NewNop()).WithClock(fixedClock(&now))
	sync1(t, st, m, "cart-a", pid, 3)
	sync1(t, st, m, "cart-b", pid, 2)
	st.ExpireReservations(t0.Add(time.Minute))
	sync1(t, st, m, "cart-c", pid, 1) // refreshed after the expiry shift

	now = t0.Add(2 * time.Minute)
	sw := newTestSweeper(st, &now, &eventRecorder{}, nil)

	n, err := sw.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = sw.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	assert.Len(t, st.Reservations(), 1)
	assert.Equal(t, 10, st.Physical(pid))
}

func TestSweeperCancelsStaleOrders(t *testing.T) {
	st := storetest.New()
	p1 := st.AddProduct("Coffee", "250.00", 10)
	p2 := st.AddProduct("Tea", "80.00", 4)
	now := t0
	rec := &eventRecorder{}
	sw := newTestSweeper(st, &now, rec, nil)

	stale := placeOrder(t, st, t0.Add(-31*time.Minute), map[string]int{p1: 7, p2: 1})
	fresh := placeOrder(t, st, t0.Add(-29*time.Minute), map[string]int{p2: 2})
	paid := placeOrder(t, st, t0.Add(-45*time.Minute), map[string]int{p1: 1})
	st.SetOrderStatus(paid, orders.StatusCompleted)
	require.Equal(t, 2, st.Physical(p1))
	require.Equal(t, 1, st.Physical(p2))

	n, err := sw.CancelStaleOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o, _ := st.Order(stale)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	o, _ = st.Order(fresh)
	assert.Equal(t, orders.StatusPendingPayment, o.Status)
	o, _ = st.Order(paid)
	assert.Equal(t, orders.StatusCompleted, o.Status)
	assert.Equal(t, 9, st.Physical(p1))
	assert.Equal(t, 2, st.Physical(p2))

	require.Len(t, rec.events, 1)
	assert.Equal(t, orders.EventOrderExpired, rec.events[0].Type)
	assert.Equal(t, stale, rec.events[0].OrderID)

	n, err = sw.CancelStaleOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second pass is a no-op")
	assert.Equal(t, 9, st.Physical(p1))
}

func TestSweeperIsolatesFailingOrders(t *testing.T) {
	st := storetest.New()
	broken := st.AddProduct("Broken", "1.00", 5)
	ok := st.AddProduct("Fine", "1.00", 5)
	now := t0
	sw := newTestSweeper(st, &now, &eventRecorder{}, nil)

	bad := placeOrder(t, st, t0.Add(-40*time.Minute), map[string]int{broken: 2})
	good := placeOrder(t, st, t0.Add(-35*time.Minute), map[string]int{ok: 3})
	st.FailStock(broken, errors.New("row lock timeout"))

	n, err := sw.CancelStaleOrders(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	o, _ := st.Order(bad)
	assert.Equal(t, orders.StatusPendingPayment, o.Status, "failed order rolls back as a unit")
	o, _ = st.Order(good)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, 5, st.Physical(ok))
}

func TestSweeperRunPassRespectsLease(t *testing.T) {
	now := t0
	st := storetest.New()

	held := &stubLocker{granted: false}
	sw := newTestSweeper(st, &now, &eventRecorder{}, held)
	calls := 0
	sw.RunPass(context.Background(), PassExpireReservations, func(context.Context) (int, error) { calls++; return 0, nil })
	assert.Equal(t, 0, calls)

	free := &stubLocker{granted: true}
	sw = newTestSweeper(st, &now, &eventRecorder{}, free)
	sw.RunPass(context.Background(), PassExpireReservations, func(context.Context) (int, error) { calls++; return 1, nil })
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, free.acquired)
	assert.Equal(t, 1, free.released)

	broken := &stubLocker{err: errors.New("redis down")}
	sw = newTestSweeper(st, &now, &eventRecorder{}, broken)
	sw.RunPass(context.Background(), PassExpireReservations, func(context.Context) (int, error) { calls++; return 0, nil })
	assert.Equal(t, 2, calls, "lease errors do not stop the pass")
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	st := storetest.New()
	now := t0
	sw := NewSweeper(st, NewLedger(), nil, nil, zap.NewNop(), SweeperConfig{
		ExpiryInterval: 5 * time.Millisecond, StaleOrderInterval: 5 * time.Millisecond,
	}).WithClock(fixedClock(&now))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, sw.Run(ctx))
}
