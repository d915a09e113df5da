package relay

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker. It backs single-process
// deployments and lets tests run several relay instances against one
// shared medium, as if they were separate server processes.
type MemoryBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(payload []byte)
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[string]map[int]func(payload []byte)),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	fns := make([]func([]byte), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(payload)
	}

	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(payload []byte))
	}

	id := b.nextID
	b.nextID++
	b.subs[topic][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		delete(b.subs[topic], id)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}, nil
}
