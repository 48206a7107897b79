package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/inventory"
	"github.com/ariefcatur/go-stock-engine/internal/metrics"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Service turns carts into orders and cancels them, settling physical stock
// through the ledger inside the same transaction.
type Service struct {
	store    store.Store
	ledger   *inventory.Ledger
	emit     orders.Emitter
	log      *zap.Logger
	tracer   trace.Tracer
	currency string
	now      func() time.Time
}

func NewService(st store.Store, ledger *inventory.Ledger, emit orders.Emitter, log *zap.Logger, currency string) *Service {
	if emit == nil {
		emit = orders.NopEmitter{}
	}
	if currency == "" {
		currency = orders.DefaultCurrency
	}
	return &Service{
		store:    st,
		ledger:   ledger,
		emit:     emit,
		log:      log,
		tracer:   otel.Tracer("github.com/ariefcatur/go-stock-engine/internal/checkout"),
		currency: currency,
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateOrder converts the user's cart into a pending_payment order. Either
// the order exists fully stocked and the cart is empty, or nothing changed.
// addressID may be empty to use the user's default address.
func (s *Service) CreateOrder(ctx context.Context, userID, addressID string) (*orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreateOrder", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	var order *orders.Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = s.createOrder(ctx, tx, userID, addressID)
		return err
	})
	metrics.Checkouts.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("checkout failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", order.Number))

	items := make([]orders.ItemQty, 0, len(order.Items))
	units := 0
	for _, it := range order.Items {
		items = append(items, orders.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
		units += it.Quantity
	}
	metrics.StockMovements.WithLabelValues(orders.MovementCheckout).Add(float64(units))
	s.log.Info("order created", zap.String("order_id", order.ID), zap.String("order_number", order.Number),
		zap.String("user_id", userID), zap.String("total", order.TotalAmount.StringFixed(2)))
	s.emit.Emit(ctx, orders.EventOrderCreated, order.ID, orders.OrderCreatedPayload{
		OrderID: order.ID, OrderNumber: order.Number, UserID: userID, Status: order.Status,
		Items: items, TotalAmount: order.TotalAmount, Currency: order.Currency,
	})
	return order, nil
}

func (s *Service) createOrder(ctx context.Context, tx store.Tx, userID, addressID string) (*orders.Order, error) {
	cart, err := tx.GetCartByUser(ctx, userID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, orders.ErrEmptyCart
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	lines, err := tx.CartLines(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("load cart lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, orders.ErrEmptyCart
	}

	addr, err := resolveAddress(ctx, tx, userID, addressID)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}

	now := s.now().UTC()
	order := &orders.Order{
		ID:              uuid.NewString(),
		Number:          orders.NewOrderNumber(),
		UserID:          userID,
		Status:          orders.StatusPendingPayment,
		TotalAmount:     total,
		Currency:        s.currency,
		ShippingAddress: addr.Snapshot(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	// Lines come back ordered by product id, which keeps the cross-product
	// lock order stable between concurrent checkouts.
	items := make([]orders.OrderItem, 0, len(lines))
	for _, l := range lines {
		if err := s.ledger.Deduct(ctx, tx, l.ProductID, l.Quantity, orders.MovementCheckout, order.ID); err != nil {
			return nil, err
		}
		items = append(items, orders.OrderItem{
			OrderID:     order.ID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.Total(),
		})
	}
	if err := tx.InsertOrderItems(ctx, items); err != nil {
		return nil, fmt.Errorf("insert order items: %w", err)
	}

	if _, err := tx.DeleteCartReservations(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("drop cart reservations: %w", err)
	}
	if _, err := tx.ClearCart(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}
	order.Items = items
	return order, nil
}

func resolveAddress(ctx context.Context, tx store.AddressTx, userID, addressID string) (*orders.Address, error) {
	if addressID != "" {
		a, err := tx.GetAddress(ctx, userID, addressID)
		if errors.Is(err, orders.ErrNotFound) {
			return nil, orders.ErrInvalidAddress
		}
		if err != nil {
			return nil, fmt.Errorf("load address: %w", err)
		}
		return a, nil
	}
	a, err := tx.DefaultAddress(ctx, userID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, orders.ErrNoAddress
	}
	if err != nil {
		return nil, fmt.Errorf("load default address: %w", err)
	}
	return a, nil
}

// CancelOrder cancels the order and restores its stock. Cancelling an already
// cancelled order returns it unchanged. A line whose restore fails is logged
// and skipped so the order never stays stuck.
func (s *Service) CancelOrder(ctx context.Context, orderID string, userInitiated bool) (*orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CancelOrder", trace.WithAttributes(
		attribute.String("order.id", orderID), attribute.Bool("user_initiated", userInitiated)))
	defer span.End()

	var (
		order    *orders.Order
		from     orders.Status
		changed  bool
		restored []orders.ItemQty
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		changed, restored = false, nil
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status
		switch {
		case order.Status == orders.StatusCancelled:
			return nil
		case order.Status == orders.StatusCompleted:
			return orders.ErrAlreadyCompleted
		case userInitiated && !order.Status.UserCancellable():
			return orders.ErrNotCancellable
		}

		items := make([]orders.OrderItem, len(order.Items))
		copy(items, order.Items)
		sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
		for _, it := range items {
			err := tx.Savepoint(ctx, func(tx store.Tx) error {
				return s.ledger.Restore(ctx, tx, it.ProductID, it.Quantity, orders.MovementCancel, order.ID)
			})
			if err != nil {
				s.log.Error("restore stock failed, skipping line",
					zap.String("order_id", order.ID), zap.String("product_id", it.ProductID),
					zap.Int("quantity", it.Quantity), zap.Error(err))
				continue
			}
			restored = append(restored, orders.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
		}

		if err := tx.UpdateOrderStatus(ctx, order.ID, orders.StatusCancelled); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if _, err := tx.CancelPendingPayments(ctx, order.ID); err != nil {
			return fmt.Errorf("cancel pending payments: %w", err)
		}
		order.Status = orders.StatusCancelled
		changed = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !changed {
		return order, nil
	}

	reason := "staff_cancel"
	if userInitiated {
		reason = "user_cancel"
	}
	units := 0
	for _, r := range restored {
		units += r.Qty
	}
	metrics.OrdersCancelled.WithLabelValues(reason).Inc()
	metrics.StockMovements.WithLabelValues(orders.MovementCancel).Add(float64(units))
	s.log.Info("order cancelled", zap.String("order_id", order.ID), zap.String("from", string(from)),
		zap.String("reason", reason), zap.Int("units_restored", units))
	s.emit.Emit(ctx, orders.EventOrderCancelled, order.ID, orders.OrderStatusChangedPayload{
		OrderID: order.ID, OrderNumber: order.Number, From: from, Status: orders.StatusCancelled,
		Reason: reason, Restored: restored,
	})
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	var order *orders.Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		return err
	})
	return order, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, orders.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, orders.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, orders.ErrNoAddress), errors.Is(err, orders.ErrInvalidAddress):
		return "address"
	case errors.Is(err, orders.ErrTransientFailure):
		return "transient"
	default:
		return "error"
	}
}
