package tracing

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-stock-engine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func TestInitWithoutExporter(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, config.TracingConfig{SampleRatio: 1}, "stock-engine-test", zap.NewNop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, shutdown(ctx)) }()

	_, span := otel.Tracer("test").Start(ctx, "op")
	defer span.End()
	assert.True(t, span.SpanContext().HasTraceID())
	assert.True(t, span.SpanContext().IsSampled())
}
