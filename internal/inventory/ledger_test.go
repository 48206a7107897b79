package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"github.com/ariefcatur/go-stock-engine/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inTx(t *testing.T, st *storetest.Store, fn func(ctx context.Context, tx store.Tx) error) error {
	t.Helper()
	return st.InTx(context.Background(), fn)
}

func quantities(recs []orders.StockRecord) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.Quantity
	}
	return out
}

func TestLedgerDeductDrainsRecordsInOrder(t *testing.T) {
	st := storetest.New()
	pid := st.AddProduct("Coffee", "250.00", 3, 5, 4)
	l := NewLedger()

	err := inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		return l.Deduct(ctx, tx, pid, 6, orders.MovementCheckout, "ord-1")
	})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4}, quantities(st.StockRecords(pid)))
	assert.Equal(t, 6, st.Physical(pid))

	mv := st.Movements()
	require.Len(t, mv, 2)
	assert.Equal(t, -3, mv[0].Delta)
	assert.Equal(t, -3, mv[1].Delta)
	assert.Equal(t, "ord-1", mv[0].Reference)
}

func TestLedgerDeductInsufficientLeavesStockUntouched(t *testing.T) {
	st := storetest.New()
	pid := st.AddProduct("Tea", "80.00", 7, 5)
	l := NewLedger()

	err := inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		return l.Deduct(ctx, tx, pid, 13, orders.MovementCheckout, "ord-2")
	})

	assert.ErrorIs(t, err, orders.ErrInsufficientStock)
	var ise *orders.InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, 12, ise.Available)
	assert.Equal(t, 13, ise.Requested)
	assert.Equal(t, pid, ise.ProductID)
	assert.Equal(t, []int{7, 5}, quantities(st.StockRecords(pid)))
	assert.Empty(t, st.Movements())
}

func TestLedgerDeductNonPositiveIsNoop(t *testing.T) {
	st := storetest.New()
	pid := st.AddProduct("Salt", "10.00", 1)
	l := NewLedger()

	err := inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := l.Deduct(ctx, tx, pid, 0, orders.MovementCheckout, ""); err != nil {
			return err
		}
		return l.Deduct(ctx, tx, pid, -4, orders.MovementCheckout, "")
	})

	require.NoError(t, err)
	assert.Equal(t, 1, st.Physical(pid))
}

func TestLedgerRestore(t *testing.T) {
	tests := []struct {
		name    string
		records []int
		qty     int
		want    []int
	}{
		{name: "adds to first record", records: []int{0, 4}, qty: 3, want: []int{3, 4}},
		{name: "creates record when none exist", records: nil, qty: 5, want: []int{5}},
		{name: "zero is a no-op", records: []int{2}, qty: 0, want: []int{2}},
		{name: "negative is a no-op", records: []int{2}, qty: -1, want: []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := storetest.New()
			pid := st.AddProduct("Honey", "120.00", tt.records...)
			l := NewLedger()

			err := inTx(t, st, func(ctx context.Context, tx store.Tx) error {
				return l.Restore(ctx, tx, pid, tt.qty, orders.MovementCancel, "ord-3")
			})

			require.NoError(t, err)
			assert.Equal(t, tt.want, quantities(st.StockRecords(pid)))
		})
	}
}

func TestLedgerDeductRestoreRoundTrip(t *testing.T) {
	st := storetest.New()
	pid := st.AddProduct("Injera", "30.00", 2, 2, 6)
	l := NewLedger()
	before := st.Physical(pid)

	for _, q := range []int{1, 4, 10} {
		require.NoError(t, inTx(t, st, func(ctx context.Context, tx store.Tx) error {
			return l.Deduct(ctx, tx, pid, q, orders.MovementCheckout, "")
		}))
		require.NoError(t, inTx(t, st, func(ctx context.Context, tx store.Tx) error {
			return l.Restore(ctx, tx, pid, q, orders.MovementCancel, "")
		}))
		assert.Equal(t, before, st.Physical(pid))
		for _, r := range st.StockRecords(pid) {
			assert.GreaterOrEqual(t, r.Quantity, 0)
		}
	}
}

func TestLedgerSeed(t *testing.T) {
	st := storetest.New()
	pid := st.AddProduct("Berbere", "45.00")
	l := NewLedger()
	loc := "main-warehouse"

	require.NoError(t, inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		return l.Seed(ctx, tx, pid, 12, &loc)
	}))

	recs := st.StockRecords(pid)
	require.Len(t, recs, 1)
	assert.Equal(t, 12, recs[0].Quantity)
	assert.Equal(t, "main-warehouse", *recs[0].Location)
	require.Len(t, st.Movements(), 1)
	assert.Equal(t, orders.MovementSeed, st.Movements()[0].Reason)

	err := inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		return l.Seed(ctx, tx, pid, -1, nil)
	})
	assert.Error(t, err)
}
