package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-stock-engine/internal/metrics"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Outcome string

const (
	// OutcomeCompleted: payment recorded and the order moved to completed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRecorded: payment recorded, order left in its current state.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeAlreadyApplied: duplicate delivery, nothing changed.
	OutcomeAlreadyApplied Outcome = "already_applied"
	// OutcomeNeedsReconciliation: money arrived for a cancelled order or
	// payment. The payment is recorded; the order stays cancelled.
	OutcomeNeedsReconciliation Outcome = "needs_manual_reconciliation"
	// OutcomeIgnored: delivery carried nothing to apply.
	OutcomeIgnored Outcome = "ignored"
)

// Reconciler applies provider confirmations to payments and orders exactly
// once, whichever channel delivers them.
type Reconciler struct {
	store  store.Store
	emit   orders.Emitter
	log    *zap.Logger
	tracer trace.Tracer
}

func NewReconciler(st store.Store, emit orders.Emitter, log *zap.Logger) *Reconciler {
	if emit == nil {
		emit = orders.NopEmitter{}
	}
	return &Reconciler{
		store:  st,
		emit:   emit,
		log:    log,
		tracer: otel.Tracer("github.com/ariefcatur/go-stock-engine/internal/payments"),
	}
}

// Finalize records a successful payment. The payment row lock serializes
// concurrent calls for the same reference; the order row is locked after it.
func (r *Reconciler) Finalize(ctx context.Context, reference string, payload json.RawMessage) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "payments.Finalize", trace.WithAttributes(attribute.String("payment.reference", reference)))
	defer span.End()

	var (
		outcome Outcome
		payment *orders.Payment
		order   *orders.Order
		from    orders.Status
	)
	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		payment, err = tx.LockPayment(ctx, reference)
		if errors.Is(err, orders.ErrNotFound) {
			return fmt.Errorf("%w: %s", orders.ErrUnknownReference, reference)
		}
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if payment.Status == orders.PaymentSuccess {
			outcome = OutcomeAlreadyApplied
			return nil
		}

		order, err = tx.LockOrder(ctx, payment.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		from = order.Status

		if err := tx.UpdatePayment(ctx, payment.ID, orders.PaymentSuccess, payload); err != nil {
			return fmt.Errorf("mark payment success: %w", err)
		}
		if payment.Status == orders.PaymentCancelled || order.Status == orders.StatusCancelled {
			outcome = OutcomeNeedsReconciliation
			return nil
		}
		if order.Status == orders.StatusPendingPayment || order.Status == orders.StatusPaymentFailed {
			if err := tx.UpdateOrderStatus(ctx, order.ID, orders.StatusCompleted); err != nil {
				return fmt.Errorf("complete order: %w", err)
			}
			order.Status = orders.StatusCompleted
			outcome = OutcomeCompleted
			return nil
		}
		outcome = OutcomeRecorded
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, orders.ErrUnknownReference) {
			r.log.Warn("finalize for unknown payment reference", zap.String("reference", reference))
		}
		return "", err
	}
	span.SetAttributes(attribute.String("payment.outcome", string(outcome)))
	metrics.PaymentFinalizations.WithLabelValues(string(outcome)).Inc()

	switch outcome {
	case OutcomeCompleted:
		r.log.Info("order paid", zap.String("order_id", order.ID), zap.String("reference", reference))
		r.emit.Emit(ctx, orders.EventOrderCompleted, order.ID, orders.OrderStatusChangedPayload{
			OrderID: order.ID, OrderNumber: order.Number, From: from, Status: orders.StatusCompleted,
			Reason: "payment_success",
		})
	case OutcomeNeedsReconciliation:
		r.log.Error("payment received for cancelled order, manual reconciliation required",
			zap.String("order_id", order.ID), zap.String("reference", reference),
			zap.String("amount", payment.Amount.StringFixed(2)), zap.String("order_status", string(order.Status)))
		r.emit.Emit(ctx, orders.EventPaymentNeedsReconciliation, order.ID, orders.PaymentReconciliationPayload{
			OrderID: order.ID, PaymentRef: reference, Amount: payment.Amount, Currency: payment.Currency,
			Status: order.Status,
		})
	case OutcomeAlreadyApplied:
		r.log.Debug("duplicate payment confirmation", zap.String("reference", reference))
	}
	return outcome, nil
}
