package relay

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisBroker carries relay broadcasts over Redis pub/sub so processes
// that share nothing but the broker still see each other's accepted
// patches.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, topic)

	// Force the subscription onto the wire before we report success, so
	// a publish right after Subscribe returns is not silently missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			fn([]byte(msg.Payload))
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			log.Printf("error closing subscription for %s: %v", topic, err)
		}
	}, nil
}
