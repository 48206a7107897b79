package orders

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/go-stock-engine/internal/kafka"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Emitter publishes order lifecycle events after the owning transaction has
// committed. Emit never fails the caller.
type Emitter interface {
	Emit(ctx context.Context, eventType, orderID string, payload any)
}

type Publisher struct {
	Producer *kafkax.Producer
	Service  string
}

func (p *Publisher) Emit(ctx context.Context, eventType, orderID string, payload any) {
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.Service,
		TraceID:       traceID(ctx),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Producer.Publish(PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkax.EventHeaders(eventType, ev.EventVersion)...)
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, string, string, any) {}
