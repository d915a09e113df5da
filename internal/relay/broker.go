package relay

import "context"

// Broker is the process-external broadcast medium the relay fans out
// through. Delivery is best effort, at least once: duplicates are
// harmless downstream and losses are healed by the next sync cycle.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers fn for every payload published on topic and
	// returns a function that cancels the subscription.
	Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (func(), error)
}
