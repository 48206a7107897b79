package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// Cache holds the fast-path data kept next to Postgres: checkout idempotency
// keys, the order status projection and consumer dedup markers. Postgres
// stays the source of truth for all of it.
type Cache struct {
	rdb redis.Cmdable
}

func NewCache(rdb redis.Cmdable) *Cache {
	return &Cache{rdb: rdb}
}

// ClaimIdempotencyKey reserves key for a new checkout. When the key already
// resolved to an order, that order id is returned with claimed=false. An
// in-flight claim yields claimed=false and an empty id.
func (c *Cache) ClaimIdempotencyKey(ctx context.Context, userID, key string) (orderID string, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, userID, key)
	ok, err := c.rdb.SetNX(ctx, k, pendingMarker, TTLPending).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	v, err := c.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls; let the caller retry
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if v == pendingMarker {
		return "", false, nil
	}
	return v, false, nil
}

func (c *Cache) CompleteIdempotencyKey(ctx context.Context, userID, key, orderID string) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), orderID, TTLIdempotency).Err()
}

// ReleaseIdempotencyKey drops a claim whose checkout failed so the client
// can retry with the same key.
func (c *Cache) ReleaseIdempotencyKey(ctx context.Context, userID, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key)).Err()
}

func (c *Cache) StatusView(ctx context.Context, orderID string) (*orders.StatusView, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v orders.StatusView
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, false, fmt.Errorf("decode status view %s: %w", orderID, err)
	}
	return &v, true, nil
}

func (c *Cache) PutStatusView(ctx context.Context, v orders.StatusView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, v.OrderID), b, TTLStatusCache).Err()
}

func (c *Cache) InvalidateStatus(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// FirstDelivery records eventID for consumer and reports whether this is the
// first time it was seen.
func (c *Cache) FirstDelivery(ctx context.Context, consumer, eventID string) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, consumer, eventID), 1, TTLDedup).Result()
}

// ForgetDelivery undoes FirstDelivery when processing failed, so a redelivery
// is not skipped.
func (c *Cache) ForgetDelivery(ctx context.Context, consumer, eventID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyDedup, consumer, eventID)).Err()
}
