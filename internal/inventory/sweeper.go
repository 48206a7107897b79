package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/metrics"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	PassExpireReservations = "expire_reservations"
	PassStaleOrders        = "stale_orders"
)

// Locker grants a best-effort cross-process lease so replicas do not run the
// same pass at the same moment. The passes stay correct without it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

type SweeperConfig struct {
	ExpiryInterval        time.Duration
	StaleOrderInterval    time.Duration
	PendingPaymentTimeout time.Duration
	StaleOrderBatch       int
	LockTTL               time.Duration
}

type Sweeper struct {
	store  store.Store
	ledger *Ledger
	emit   orders.Emitter
	locker Locker
	log    *zap.Logger
	cfg    SweeperConfig
	now    func() time.Time
}

func NewSweeper(st store.Store, ledger *Ledger, emit orders.Emitter, locker Locker, log *zap.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = 5 * time.Minute
	}
	if cfg.StaleOrderInterval <= 0 {
		cfg.StaleOrderInterval = 10 * time.Minute
	}
	if cfg.PendingPaymentTimeout <= 0 {
		cfg.PendingPaymentTimeout = 30 * time.Minute
	}
	if cfg.StaleOrderBatch <= 0 {
		cfg.StaleOrderBatch = 200
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if emit == nil {
		emit = orders.NopEmitter{}
	}
	return &Sweeper{store: st, ledger: ledger, emit: emit, locker: locker, log: log, cfg: cfg, now: time.Now}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// PurgeExpired deletes every reservation past its expiry. Stock is untouched:
// cart reservations never held physical units.
func (s *Sweeper) PurgeExpired(ctx context.Context) (int64, error) {
	var n int64
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = tx.PurgeExpiredReservations(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge expired reservations: %w", err)
	}
	return n, nil
}

// CancelStaleOrders cancels orders left in pending_payment past the timeout,
// restoring their stock. Each order commits on its own; failures are logged,
// joined and returned after the batch.
func (s *Sweeper) CancelStaleOrders(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.PendingPaymentTimeout)

	var ids []string
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ids, err = tx.ListStaleOrderIDs(ctx, orders.StatusPendingPayment, cutoff, s.cfg.StaleOrderBatch)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list stale orders: %w", err)
	}

	cancelled := 0
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ok, err := s.expireOrder(ctx, id, cutoff)
		if err != nil {
			s.log.Error("stale order cancel failed", zap.String("order_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("order %s: %w", id, err))
			continue
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, errors.Join(errs...)
}

func (s *Sweeper) expireOrder(ctx context.Context, orderID string, cutoff time.Time) (bool, error) {
	var (
		o        *orders.Order
		restored []orders.ItemQty
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		restored = nil
		var err error
		o, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		// A payment may have completed it since the listing.
		if o.Status != orders.StatusPendingPayment || !o.CreatedAt.Before(cutoff) {
			o = nil
			return nil
		}
		items := sortedItems(o.Items)
		for _, it := range items {
			if err := s.ledger.Restore(ctx, tx, it.ProductID, it.Quantity, orders.MovementExpireOrder, o.ID); err != nil {
				return err
			}
			restored = append(restored, orders.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
		}
		return tx.UpdateOrderStatus(ctx, o.ID, orders.StatusCancelled)
	})
	if err != nil || o == nil {
		return false, err
	}

	units := 0
	for _, r := range restored {
		units += r.Qty
	}
	metrics.OrdersCancelled.WithLabelValues("payment_timeout").Inc()
	metrics.StockMovements.WithLabelValues(orders.MovementExpireOrder).Add(float64(units))
	s.log.Info("stale order cancelled", zap.String("order_id", o.ID),
		zap.String("order_number", o.Number), zap.Int("units_restored", units))
	s.emit.Emit(ctx, orders.EventOrderExpired, o.ID, orders.OrderStatusChangedPayload{
		OrderID: o.ID, OrderNumber: o.Number, From: orders.StatusPendingPayment,
		Status: orders.StatusCancelled, Reason: "payment_timeout", Restored: restored,
	})
	return true, nil
}

// Run drives both passes on their intervals until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(ctx, PassExpireReservations, s.cfg.ExpiryInterval, func(ctx context.Context) (int, error) {
			n, err := s.PurgeExpired(ctx)
			return int(n), err
		})
		return nil
	})
	g.Go(func() error {
		s.loop(ctx, PassStaleOrders, s.cfg.StaleOrderInterval, s.CancelStaleOrders)
		return nil
	})
	s.log.Info("sweeper started",
		zap.Duration("expiry_interval", s.cfg.ExpiryInterval),
		zap.Duration("stale_order_interval", s.cfg.StaleOrderInterval),
		zap.Duration("pending_payment_timeout", s.cfg.PendingPaymentTimeout))
	return g.Wait()
}

func (s *Sweeper) loop(ctx context.Context, pass string, every time.Duration, fn func(context.Context) (int, error)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunPass(ctx, pass, fn)
		}
	}
}

// RunPass runs one pass under the replica lease, recording metrics.
func (s *Sweeper) RunPass(ctx context.Context, pass string, fn func(context.Context) (int, error)) {
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, "sweeper:"+pass, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.log.Warn("sweeper lock unavailable, running unguarded", zap.String("pass", pass), zap.Error(err))
		case !ok:
			s.log.Debug("sweeper pass held by another replica", zap.String("pass", pass))
			metrics.SweeperPasses.WithLabelValues(pass, "skipped").Inc()
			return
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					s.log.Warn("sweeper unlock", zap.String("pass", pass), zap.Error(err))
				}
			}()
		}
	}

	start := time.Now()
	n, err := fn(ctx)
	metrics.SweeperDuration.WithLabelValues(pass).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SweeperPasses.WithLabelValues(pass, "error").Inc()
		s.log.Error("sweeper pass failed", zap.String("pass", pass), zap.Int("affected", n), zap.Error(err))
		return
	}
	metrics.SweeperPasses.WithLabelValues(pass, "ok").Inc()
	if n > 0 {
		s.log.Info("sweeper pass done", zap.String("pass", pass), zap.Int("affected", n))
	}
}

func sortedItems(items []orders.OrderItem) []orders.OrderItem {
	out := make([]orders.OrderItem, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
