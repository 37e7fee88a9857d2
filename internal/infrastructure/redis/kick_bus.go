package redis

import (
	"context"

	"taskline/internal/log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KickBus broadcasts best-effort post-enqueue kicks over Redis Pub/Sub.
// A lost or duplicated kick is harmless: the periodic sweep claims anything
// the kick would have picked up.
type KickBus struct {
	client  *redis.Client
	channel string
}

func NewKickBus(client *redis.Client) *KickBus {
	return &KickBus{
		client:  client,
		channel: "taskline:kicks",
	}
}

func (b *KickBus) Kick(ctx context.Context, sessionID uuid.UUID) error {
	return b.client.Publish(ctx, b.channel, sessionID.String()).Err()
}

// Subscribe opens a continuous stream of kicked session ids for the sweeper.
func (b *KickBus) Subscribe(ctx context.Context) (<-chan uuid.UUID, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)

	kicks := make(chan uuid.UUID)

	go func() {
		defer close(kicks)
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.GetLogger().Warnf("kick bus receive: %v", err)
				continue
			}
			sessionID, err := uuid.Parse(msg.Payload)
			if err != nil {
				continue
			}
			select {
			case kicks <- sessionID:
			case <-ctx.Done():
				return
			}
		}
	}()

	return kicks, nil
}
