package redisx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/config"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when TEST_REDIS_ADDR is set.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb, err := Connect(context.Background(), config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestLocker(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	l := NewLocker(rdb)
	name := "test-" + uuid.NewString()

	unlock, ok, err := l.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lease is held")

	require.NoError(t, unlock(ctx))
	unlock2, ok, err := l.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// a stale unlock must not release someone else's lease
	require.NoError(t, unlock(ctx))
	held, err := Exists(ctx, rdb, "lock:"+name)
	require.NoError(t, err)
	assert.True(t, held)
	require.NoError(t, unlock2(ctx))
}

func TestIdempotencyKey(t *testing.T) {
	c := NewCache(testClient(t))
	ctx := context.Background()
	user, key := "u-"+uuid.NewString(), "k1"

	id, claimed, err := c.ClaimIdempotencyKey(ctx, user, key)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Empty(t, id)

	id, claimed, err = c.ClaimIdempotencyKey(ctx, user, key)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Empty(t, id, "in flight")

	require.NoError(t, c.CompleteIdempotencyKey(ctx, user, key, "order-1"))
	id, claimed, err = c.ClaimIdempotencyKey(ctx, user, key)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "order-1", id)

	require.NoError(t, c.ReleaseIdempotencyKey(ctx, user, key))
	_, claimed, err = c.ClaimIdempotencyKey(ctx, user, key)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestStatusViewAndDedup(t *testing.T) {
	c := NewCache(testClient(t))
	ctx := context.Background()
	id := uuid.NewString()

	_, ok, err := c.StatusView(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, c.PutStatusView(ctx, orders.StatusView{OrderID: id, UserID: "u1", Status: orders.StatusPendingPayment, UpdatedAt: at}))
	v, ok, err := c.StatusView(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orders.StatusPendingPayment, v.Status)
	assert.Equal(t, "u1", v.UserID)
	assert.True(t, at.Equal(v.UpdatedAt))

	require.NoError(t, c.InvalidateStatus(ctx, id))
	_, ok, err = c.StatusView(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := c.FirstDelivery(ctx, "test", id)
	require.NoError(t, err)
	assert.True(t, first)
	first, err = c.FirstDelivery(ctx, "test", id)
	require.NoError(t, err)
	assert.False(t, first)
	require.NoError(t, c.ForgetDelivery(ctx, "test", id))
	first, err = c.FirstDelivery(ctx, "test", id)
	require.NoError(t, err)
	assert.True(t, first)
}
