package projector

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-stock-engine/internal/kafka"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const ConsumerName = "status-projector"

type StatusCache interface {
	FirstDelivery(ctx context.Context, consumer, eventID string) (bool, error)
	ForgetDelivery(ctx context.Context, consumer, eventID string) error
	PutStatusView(ctx context.Context, v orders.StatusView) error
	InvalidateStatus(ctx context.Context, orderID string) error
}

// StatusProjector keeps the order status cache in step with the order event
// stream and raises alerts for payments that need manual handling.
type StatusProjector struct {
	Cache StatusCache
	Log   *zap.Logger
}

// Handle is installed as the consumer handler.
func (p *StatusProjector) Handle(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.Header(m, kafkax.HeaderEventType); t != "" && !known(t) {
		return nil
	}
	env, err := kafkax.Decode[orders.Envelope](m.Value)
	if err != nil {
		// poison message; committing it is the only way forward
		p.Log.Error("undecodable order event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if !known(env.EventType) {
		return nil
	}

	first, err := p.Cache.FirstDelivery(ctx, ConsumerName, env.EventID)
	if err != nil {
		p.Log.Warn("dedup unavailable", zap.String("event_id", env.EventID), zap.Error(err))
		first = true
	}
	if !first {
		return nil
	}

	if err := p.apply(ctx, env); err != nil {
		if ferr := p.Cache.ForgetDelivery(ctx, ConsumerName, env.EventID); ferr != nil {
			p.Log.Warn("dedup rollback failed", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return fmt.Errorf("%s %s: %w", env.EventType, env.CorrelationID, err)
	}
	return nil
}

func known(eventType string) bool {
	switch eventType {
	case orders.EventOrderCreated, orders.EventOrderCancelled, orders.EventOrderExpired,
		orders.EventOrderCompleted, orders.EventPaymentNeedsReconciliation:
		return true
	}
	return false
}

func (p *StatusProjector) apply(ctx context.Context, env orders.Envelope) error {
	switch env.EventType {
	case orders.EventOrderCreated:
		pl, err := kafkax.Decode[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		return p.Cache.PutStatusView(ctx, orders.StatusView{
			OrderID:   pl.OrderID,
			UserID:    pl.UserID,
			Status:    pl.Status,
			UpdatedAt: env.OccurredAt,
		})

	case orders.EventPaymentNeedsReconciliation:
		pl, err := kafkax.Decode[orders.PaymentReconciliationPayload](env.Payload)
		if err != nil {
			return err
		}
		p.Log.Error("manual payment reconciliation required",
			zap.String("order_id", pl.OrderID),
			zap.String("payment_ref", pl.PaymentRef),
			zap.String("amount", pl.Amount.StringFixed(2)),
			zap.String("currency", pl.Currency),
			zap.String("trace_id", env.TraceID))
		return nil

	default:
		// Status changes drop the cached view; the next read repopulates it
		// from the database together with the owner.
		pl, err := kafkax.Decode[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		p.Log.Debug("order status changed", zap.String("order_id", pl.OrderID),
			zap.String("from", string(pl.From)), zap.String("to", string(pl.Status)), zap.String("reason", pl.Reason))
		return p.Cache.InvalidateStatus(ctx, pl.OrderID)
	}
}
