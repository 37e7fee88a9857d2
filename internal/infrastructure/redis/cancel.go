package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CancelStore keeps per-session cancellation intent in Redis. The key expires
// on its own so a forgotten cancel cannot wedge a session forever.
type CancelStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCancelStore(client *redis.Client) *CancelStore {
	return &CancelStore{
		client: client,
		ttl:    24 * time.Hour,
	}
}

func (c *CancelStore) key(sessionID uuid.UUID) string {
	return "taskline:cancel:" + sessionID.String()
}

func (c *CancelStore) RequestCancel(ctx context.Context, sessionID uuid.UUID) error {
	return c.client.Set(ctx, c.key(sessionID), "1", c.ttl).Err()
}

func (c *CancelStore) ClearCancel(ctx context.Context, sessionID uuid.UUID) error {
	return c.client.Del(ctx, c.key(sessionID)).Err()
}

func (c *CancelStore) IsCancelled(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
