package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHeader(t *testing.T) {
	m := kafka.Message{Headers: EventHeaders("OrderCreated", 2)}
	assert.Equal(t, "OrderCreated", Header(m, HeaderEventType))
	assert.Equal(t, "2", Header(m, HeaderEventVersion))
	assert.Equal(t, "", Header(m, "missing"))
}

func TestDecode(t *testing.T) {
	type payload struct {
		OrderID string `json:"order_id"`
	}
	p, err := Decode[payload](MustMarshal(payload{OrderID: "o1"}))
	require.NoError(t, err)
	assert.Equal(t, "o1", p.OrderID)

	_, err = Decode[payload]([]byte(`[`))
	assert.Error(t, err)
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, "orders.events", 1, zap.NewNop())
	p.Close()
	p.Close()
	assert.NotPanics(t, func() { p.Publish([]byte("k"), []byte("v")) })
}
