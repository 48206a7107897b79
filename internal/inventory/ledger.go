package inventory

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
)

// Ledger moves physical stock. It holds no state of its own; every call runs
// on the caller's transaction so deductions and restorations commit or roll
// back together with the operation that needed them.
type Ledger struct{}

func NewLedger() *Ledger { return &Ledger{} }

// Available returns physical stock, ignoring reservations.
func (l *Ledger) Available(ctx context.Context, tx store.StockTx, productID string) (int, error) {
	n, err := tx.SumStock(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("sum stock %s: %w", productID, err)
	}
	return n, nil
}

// Deduct locks every record of the product in id order, checks the total and
// drains records greedily. On shortage nothing is written and an
// *orders.InsufficientStockError is returned.
func (l *Ledger) Deduct(ctx context.Context, tx store.StockTx, productID string, qty int, reason, ref string) error {
	if qty <= 0 {
		return nil
	}
	recs, err := tx.LockStockRecords(ctx, productID)
	if err != nil {
		return fmt.Errorf("lock stock %s: %w", productID, err)
	}
	total := 0
	for _, r := range recs {
		total += r.Quantity
	}
	if total < qty {
		return &orders.InsufficientStockError{ProductID: productID, Available: total, Requested: qty}
	}

	remaining := qty
	for _, r := range recs {
		if remaining == 0 {
			break
		}
		take := min(r.Quantity, remaining)
		if take == 0 {
			continue
		}
		if err := tx.SetStockQuantity(ctx, r.ID, r.Quantity-take); err != nil {
			return fmt.Errorf("deduct stock record %d: %w", r.ID, err)
		}
		if err := tx.InsertStockMovement(ctx, orders.StockMovement{
			ProductID: productID, StockRecordID: r.ID, Delta: -take, Reason: reason, Reference: ref,
		}); err != nil {
			return fmt.Errorf("record movement: %w", err)
		}
		remaining -= take
	}
	return nil
}

// Restore adds qty back to the product's first record, creating one when the
// product has none.
func (l *Ledger) Restore(ctx context.Context, tx store.StockTx, productID string, qty int, reason, ref string) error {
	if qty <= 0 {
		return nil
	}
	recs, err := tx.LockStockRecords(ctx, productID)
	if err != nil {
		return fmt.Errorf("lock stock %s: %w", productID, err)
	}

	var recordID int64
	if len(recs) == 0 {
		recordID, err = tx.InsertStockRecord(ctx, productID, qty, nil)
		if err != nil {
			return fmt.Errorf("create stock record %s: %w", productID, err)
		}
	} else {
		first := recs[0]
		recordID = first.ID
		if err := tx.SetStockQuantity(ctx, first.ID, first.Quantity+qty); err != nil {
			return fmt.Errorf("restore stock record %d: %w", first.ID, err)
		}
	}
	return tx.InsertStockMovement(ctx, orders.StockMovement{
		ProductID: productID, StockRecordID: recordID, Delta: qty, Reason: reason, Reference: ref,
	})
}

// Seed creates the initial stock record of a new product.
func (l *Ledger) Seed(ctx context.Context, tx store.StockTx, productID string, qty int, location *string) error {
	if qty < 0 {
		return fmt.Errorf("initial stock must not be negative, got %d", qty)
	}
	id, err := tx.InsertStockRecord(ctx, productID, qty, location)
	if err != nil {
		return fmt.Errorf("seed stock %s: %w", productID, err)
	}
	if qty == 0 {
		return nil
	}
	return tx.InsertStockMovement(ctx, orders.StockMovement{
		ProductID: productID, StockRecordID: id, Delta: qty, Reason: orders.MovementSeed, Reference: productID,
	})
}
