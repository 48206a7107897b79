package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/store"
	"github.com/ariefcatur/go-stock-engine/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(at *time.Time) func() time.Time { return func() time.Time { return *at } }

func sync1(t *testing.T, st *storetest.Store, m *Reservations, cart, pid string, desired int) int {
	t.Helper()
	var granted int
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		granted, err = m.Sync(ctx, tx, cart, pid, desired)
		return err
	}))
	return granted
}

func TestGrant(t *testing.T) {
	tests := []struct {
		desired, available, want int
	}{
		{desired: 5, available: 10, want: 5},
		{desired: 5, available: 3, want: 3},
		{desired: 5, available: 0, want: 0},
		{desired: 5, available: -2, want: 0},
		{desired: 0, available: 4, want: 0},
		{desired: -3, available: 4, want: 0},
	}
	for _, tt := range tests {
		got := Grant(tt.desired, tt.available)
		assert.Equal(t, tt.want, got, "Grant(%d, %d)", tt.desired, tt.available)
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, max(tt.desired, 0))
	}
}

func TestReservationsPartialGrantScenario(t *testing.T) {
	st := storetest.New()
	pid := st.AddProduct("Coffee", "250.00", 10)
	now := t0
	m := NewReservations(15*time.Minute, zap.NewNop()).WithClock(fixedClock(&now))

	assert.Equal(t, 7, sync1(t, st, m, "cart-a", pid, 7))
	assert.Equal(t, 3, sync1(t, st, m, "cart-b", pid, 5))

	ra, ok := st.Reservation("cart-a", pid)
	require.True(t, ok)
	assert.Equal(t, 7, ra.Quantity)
	assert.Equal(t, t0.Add(15*time.Minute), ra.ExpiresAt)
	rb, ok := st.Reservation("cart-b", pid)
	require.True(t, ok)
	assert.Equal(t, 3, rb.Quantity)
	assert.Equal(t, 10, st.Physical(pid), "reservations never move physical stock")
}

func TestReservationsCartDoesNotBlockItself(t *testing.T) {
	st := storetest.New()
	pid := st.AddProduct("Tea", "80.00", 10)
	now := t0
	m := NewReservations(0, zap.NewNop()).WithClock(fixedClock(&now))

	sync1(t, st, m, "cart-a", pid, 6)
	sync1(t, st, m, "cart-b", pid, 3)
	assert.Equal(t, 7, sync1(t, st, m, "cart-a", pid, 9))

	var avail int
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		avail, err = m.Available(ctx, tx, pid, "cart-a")
		return err
	}))
	assert.Equal(t, 7, avail)
}

func TestReservationsZeroGrantDeletes(t *testing.T) {
	st := storetest.New()
	pid := st.AddProduct("Salt", "10.00", 2)
	now := t0
	m := NewReservations(0, zap.NewNop()).WithClock(fixedClock(&now))

	sync1(t, st, m, "cart-a", pid, 2)
	sync1(t, st, m, "cart-b", pid, 1)
	_, ok := st.Reservation("cart-b", pid)
	assert.False(t, ok)

	assert.Equal(t, 0, sync1(t, st, m, "cart-a", pid, 0))
	_, ok = st.Reservation("cart-a", pid)
	assert.False(t, ok)
}

func TestReservationsIgnoreAndPurgeExpired(t *testing.T) {
	st := storetest.New()
	pid := st.AddProduct("Honey", "120.00", 5)
	now := t0
	m := NewReservations(15*time.Minute, zap.NewNop()).WithClock(fixedClock(&now))

	sync1(t, st, m, "cart-a", pid, 5)
	now = t0.Add(16 * time.Minute)

	var avail int
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		avail, err = m.Available(ctx, tx, pid, "")
		return err
	}))
	assert.Equal(t, 5, avail, "expired reservation must not count before any sweep")

	assert.Equal(t, 4, sync1(t, st, m, "cart-b", pid, 4))
	_, ok := st.Reservation("cart-a", pid)
	assert.False(t, ok, "expired reservation is purged lazily on touch")
}

func TestReservationsAdmissionUnderConcurrency(t *testing.T) {
	st := storetest.New()
	pid := st.AddProduct("Flash", "99.00", 10)
	m := NewReservations(0, zap.NewNop())

	var wg sync.WaitGroup
	grants := make([]int, 25)
	for i := range grants {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				g, err := m.Sync(ctx, tx, "cart-"+string(rune('a'+i)), pid, 1)
				grants[i] = g
				return err
			})
		}(i)
	}
	wg.Wait()

	total := 0
	for _, g := range grants {
		total += g
	}
	assert.Equal(t, 10, total)

	reserved := 0
	for _, r := range st.Reservations() {
		reserved += r.Quantity
	}
	assert.LessOrEqual(t, reserved, st.Physical(pid))
}
