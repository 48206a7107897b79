package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/metrics"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"go.uber.org/zap"
)

const DefaultReservationTTL = 15 * time.Minute

type ReservationTx interface {
	store.StockTx
	store.ReservationTx
}

// Reservations keeps each cart's soft claim on a product in line with the
// quantity the cart wants, admitting only what other carts leave free.
type Reservations struct {
	ttl time.Duration
	now func() time.Time
	log *zap.Logger
}

func NewReservations(ttl time.Duration, log *zap.Logger) *Reservations {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &Reservations{ttl: ttl, now: time.Now, log: log}
}

// WithClock replaces the time source.
func (m *Reservations) WithClock(now func() time.Time) *Reservations {
	m.now = now
	return m
}

// Sync recomputes the (cart, product) reservation for desired units and
// returns the granted quantity, which may be lower than desired. Zero grant
// removes the reservation.
func (m *Reservations) Sync(ctx context.Context, tx ReservationTx, cartID, productID string, desired int) (int, error) {
	now := m.now()

	// Lock the product's stock rows first so concurrent syncs and deductions
	// on this product take turns.
	recs, err := tx.LockStockRecords(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("lock stock %s: %w", productID, err)
	}
	physical := 0
	for _, r := range recs {
		physical += r.Quantity
	}

	if _, err := tx.DeleteExpiredReservations(ctx, productID, now); err != nil {
		return 0, fmt.Errorf("purge expired reservations: %w", err)
	}
	other, err := tx.SumActiveReservations(ctx, productID, cartID, now)
	if err != nil {
		return 0, fmt.Errorf("sum reservations: %w", err)
	}

	granted := Grant(desired, physical-other)
	if granted > 0 {
		if err := tx.UpsertCartReservation(ctx, cartID, productID, granted, now.Add(m.ttl)); err != nil {
			return 0, fmt.Errorf("upsert reservation: %w", err)
		}
	} else if err := tx.DeleteCartReservation(ctx, cartID, productID); err != nil {
		return 0, fmt.Errorf("delete reservation: %w", err)
	}

	switch {
	case granted == desired && granted > 0:
		metrics.ReservationGrants.WithLabelValues("full").Inc()
	case granted > 0:
		metrics.ReservationGrants.WithLabelValues("partial").Inc()
		m.log.Info("partial reservation grant",
			zap.String("cart_id", cartID), zap.String("product_id", productID),
			zap.Int("desired", desired), zap.Int("granted", granted))
	default:
		metrics.ReservationGrants.WithLabelValues("none").Inc()
	}
	return granted, nil
}

// Available is physical stock minus active reservations held by carts other
// than cartID. The result may be negative when stock shrank under existing
// reservations. An empty cartID excludes nothing.
func (m *Reservations) Available(ctx context.Context, tx ReservationTx, productID, cartID string) (int, error) {
	physical, err := tx.SumStock(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("sum stock %s: %w", productID, err)
	}
	other, err := tx.SumActiveReservations(ctx, productID, cartID, m.now())
	if err != nil {
		return 0, fmt.Errorf("sum reservations: %w", err)
	}
	return physical - other, nil
}

// Grant is min(desired, max(available, 0)), never negative.
func Grant(desired, available int) int {
	return max(min(desired, max(available, 0)), 0)
}
