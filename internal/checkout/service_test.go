package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/inventory"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"github.com/ariefcatur/go-stock-engine/internal/store/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventRecorder struct {
	mu    sync.Mutex
	types []string
}

func (r *eventRecorder) Emit(_ context.Context, eventType, _ string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
}

type fixture struct {
	st   *storetest.Store
	svc  *Service
	res  *inventory.Reservations
	rec  *eventRecorder
	ctx  context.Context
	t    *testing.T
	cart map[string]string // user -> cart id
}

func newFixture(t *testing.T) *fixture {
	st := storetest.New()
	rec := &eventRecorder{}
	return &fixture{
		st:   st,
		svc:  NewService(st, inventory.NewLedger(), rec, zap.NewNop(), ""),
		res:  inventory.NewReservations(15*time.Minute, zap.NewNop()),
		rec:  rec,
		ctx:  context.Background(),
		t:    t,
		cart: map[string]string{},
	}
}

// setLine writes a cart line and resyncs its reservation, as the cart
// service does.
func (f *fixture) setLine(userID, productID string, qty int) int {
	f.t.Helper()
	var granted int
	require.NoError(f.t, f.st.InTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		cartID, ok := f.cart[userID]
		if !ok {
			c, err := tx.CreateCart(ctx, userID)
			if err != nil {
				return err
			}
			cartID = c.ID
		}
		if err := tx.UpsertCartLine(ctx, cartID, productID, qty); err != nil {
			return err
		}
		g, err := f.res.Sync(ctx, tx, cartID, productID, qty)
		if err != nil {
			return err
		}
		f.cart[userID] = cartID
		granted = g
		return nil
	}))
	return granted
}

func (f *fixture) addPayment(orderID, ref string, status orders.PaymentStatus) {
	f.t.Helper()
	require.NoError(f.t, f.st.InTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPayment(ctx, &orders.Payment{
			OrderID: orderID, Reference: ref, Amount: decimal.NewFromInt(1), Currency: "ETB",
			Status: status, Provider: "chapa",
		})
	}))
}

func TestCheckoutScenario(t *testing.T) {
	f := newFixture(t)
	pid := f.st.AddProduct("Coffee", "250.50", 10)
	f.st.AddAddress("alice", true)

	assert.Equal(t, 7, f.setLine("alice", pid, 7))
	assert.Equal(t, 3, f.setLine("bob", pid, 5))

	order, err := f.svc.CreateOrder(f.ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPayment, order.Status)
	assert.Regexp(t, `^ORD-[0-9A-F]{8}$`, order.Number)
	assert.True(t, decimal.RequireFromString("1753.50").Equal(order.TotalAmount))
	assert.Equal(t, "ETB", order.Currency)
	assert.Equal(t, "Addis Ababa", order.ShippingAddress.City)
	assert.Equal(t, 3, f.st.Physical(pid))
	assert.Equal(t, 0, f.st.CartLineCount("alice"))
	_, held := f.st.Reservation(f.cart["alice"], pid)
	assert.False(t, held)

	stored, ok := f.st.Order(order.ID)
	require.True(t, ok)
	require.Len(t, stored.Items, 1)
	item := stored.Items[0]
	assert.Equal(t, "Coffee", item.ProductName)
	assert.Equal(t, 7, item.Quantity)
	assert.True(t, decimal.RequireFromString("250.50").Equal(item.UnitPrice))
	assert.True(t, decimal.RequireFromString("1753.50").Equal(item.TotalPrice))

	// bob's reservation stays within what is left
	assert.Equal(t, 3, f.setLine("bob", pid, 5))

	// later price changes never touch the snapshot
	f.st.SetPrice(pid, "999.00")
	stored, _ = f.st.Order(order.ID)
	assert.True(t, decimal.RequireFromString("250.50").Equal(stored.Items[0].UnitPrice))

	f.addPayment(order.ID, "TX-1", orders.PaymentPending)
	cancelled, err := f.svc.CancelOrder(f.ctx, order.ID, true)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)
	assert.Equal(t, 10, f.st.Physical(pid))
	p, _ := f.st.Payment("TX-1")
	assert.Equal(t, orders.PaymentCancelled, p.Status)

	assert.Equal(t, []string{orders.EventOrderCreated, orders.EventOrderCancelled}, f.rec.types)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	f.st.AddAddress("alice", true)

	_, err := f.svc.CreateOrder(f.ctx, "alice", "")
	assert.ErrorIs(t, err, orders.ErrEmptyCart)

	pid := f.st.AddProduct("Tea", "80.00", 5)
	f.setLine("alice", pid, 1)
	_, err = f.svc.CreateOrder(f.ctx, "alice", "")
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(f.ctx, "alice", "")
	assert.ErrorIs(t, err, orders.ErrEmptyCart, "cart was cleared by the first checkout")
}

func TestCheckoutAddressResolution(t *testing.T) {
	f := newFixture(t)
	pid := f.st.AddProduct("Tea", "80.00", 5)
	f.setLine("alice", pid, 1)

	_, err := f.svc.CreateOrder(f.ctx, "alice", "")
	assert.ErrorIs(t, err, orders.ErrNoAddress)

	foreign := f.st.AddAddress("mallory", true)
	_, err = f.svc.CreateOrder(f.ctx, "alice", foreign)
	assert.ErrorIs(t, err, orders.ErrInvalidAddress)

	own := f.st.AddAddress("alice", false)
	order, err := f.svc.CreateOrder(f.ctx, "alice", own)
	require.NoError(t, err)
	assert.Equal(t, "Bole Road 12", order.ShippingAddress.AddressLine1)
	assert.Equal(t, 4, f.st.Physical(pid))
}

func TestCheckoutIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.st.AddAddress("alice", true)
	plenty := f.st.AddProduct("Plenty", "10.00", 50)
	scarce := f.st.AddProduct("Scarce", "10.00", 2)

	f.setLine("alice", plenty, 5)
	f.setLine("alice", scarce, 2)
	// stock drops behind the cart's back
	require.NoError(t, f.st.InTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		return inventory.NewLedger().Deduct(ctx, tx, scarce, 1, orders.MovementAdjustment, "stock-count")
	}))

	_, err := f.svc.CreateOrder(f.ctx, "alice", "")
	require.Error(t, err)
	var ise *orders.InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, scarce, ise.ProductID)
	assert.Equal(t, 1, ise.Available)
	assert.Equal(t, 2, ise.Requested)

	assert.Equal(t, 0, f.st.OrderCount())
	assert.Equal(t, 0, f.st.ItemCount())
	assert.Equal(t, 50, f.st.Physical(plenty))
	assert.Equal(t, 1, f.st.Physical(scarce))
	assert.Equal(t, 2, f.st.CartLineCount("alice"))
	assert.Empty(t, f.rec.types)
}

func TestCheckoutRetriesTransientConflicts(t *testing.T) {
	f := newFixture(t)
	f.st.AddAddress("alice", true)
	pid := f.st.AddProduct("Tea", "80.00", 5)
	f.setLine("alice", pid, 2)

	before := f.st.Attempts()
	f.st.Conflicts = 1
	order, err := f.svc.CreateOrder(f.ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.st.Attempts()-before)
	assert.Equal(t, 1, f.st.OrderCount())
	assert.Equal(t, 3, f.st.Physical(pid))

	_, ok := f.st.Order(order.ID)
	assert.True(t, ok)

	f.setLine("alice", pid, 1)
	f.st.Conflicts = 5
	_, err = f.svc.CreateOrder(f.ctx, "alice", "")
	assert.ErrorIs(t, err, orders.ErrTransientFailure)
	assert.Equal(t, 1, f.st.OrderCount())
}

func TestCancelOrderGuards(t *testing.T) {
	f := newFixture(t)
	f.st.AddAddress("alice", true)
	pid := f.st.AddProduct("Tea", "80.00", 10)

	place := func() *orders.Order {
		f.setLine("alice", pid, 1)
		o, err := f.svc.CreateOrder(f.ctx, "alice", "")
		require.NoError(t, err)
		return o
	}

	completed := place()
	f.st.SetOrderStatus(completed.ID, orders.StatusCompleted)
	_, err := f.svc.CancelOrder(f.ctx, completed.ID, false)
	assert.ErrorIs(t, err, orders.ErrAlreadyCompleted)

	processing := place()
	f.st.SetOrderStatus(processing.ID, orders.StatusProcessing)
	_, err = f.svc.CancelOrder(f.ctx, processing.ID, true)
	assert.ErrorIs(t, err, orders.ErrNotCancellable)
	o, err := f.svc.CancelOrder(f.ctx, processing.ID, false)
	require.NoError(t, err, "staff may cancel a processing order")
	assert.Equal(t, orders.StatusCancelled, o.Status)

	failed := place()
	f.st.SetOrderStatus(failed.ID, orders.StatusPaymentFailed)
	_, err = f.svc.CancelOrder(f.ctx, failed.ID, true)
	require.NoError(t, err)

	stock := f.st.Physical(pid)
	again, err := f.svc.CancelOrder(f.ctx, failed.ID, true)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, again.Status)
	assert.Equal(t, stock, f.st.Physical(pid), "second cancel restores nothing")

	_, err = f.svc.CancelOrder(f.ctx, "missing", true)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestCancelOrderRestoreIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.st.AddAddress("alice", true)
	good := f.st.AddProduct("Good", "5.00", 4)
	bad := f.st.AddProduct("Bad", "5.00", 4)
	f.setLine("alice", good, 2)
	f.setLine("alice", bad, 3)

	order, err := f.svc.CreateOrder(f.ctx, "alice", "")
	require.NoError(t, err)

	f.st.FailStock(bad, errors.New("record lock failed"))
	o, err := f.svc.CancelOrder(f.ctx, order.ID, true)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, 4, f.st.Physical(good))
	assert.Equal(t, 1, f.st.Physical(bad), "failed line is left for later reconciliation")
}
