package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/Vishnu2508307/Test-sub032/internal/domain"
)

var (
	// ErrSubscriptionLimit means the channel hit its configured cap.
	ErrSubscriptionLimit = errors.New("subscription limit reached")

	// ErrAlreadySubscribed means the endpoint already holds a
	// subscription for the entity.
	ErrAlreadySubscribed = errors.New("already subscribed")

	// ErrNotSubscribed means there is no subscription to remove.
	ErrNotSubscribed = errors.New("not subscribed")
)

// Channel is an addressable sink that pushes one message to one
// connected client. Push must not block: a full consumer is an error
// for that consumer, never for the relay.
type Channel interface {
	ID() string
	Push(msg *domain.Message) error
}

type subscription struct {
	endpoint domain.EndpointRef
	channel  Channel
}

type topicState struct {
	subs   map[string]*subscription
	cancel func()
}

// Relay fans accepted changes out across server processes. Each process
// owns one Relay; a broadcast published on any of them reaches every
// locally registered channel interested in the entity, minus the
// channel of the endpoint that authored it.
type Relay struct {
	broker        Broker
	maxPerChannel int
	mu            sync.RWMutex
	topics        map[string]*topicState
	channelCounts map[string]int
}

func New(broker Broker, maxPerChannel int) *Relay {
	return &Relay{
		broker:        broker,
		maxPerChannel: maxPerChannel,
		topics:        make(map[string]*topicState),
		channelCounts: make(map[string]int),
	}
}

// Subscribe attaches a channel to the entity's topic on behalf of one
// endpoint. The first local subscriber for a topic opens the broker
// subscription; later ones share it.
func (r *Relay) Subscribe(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef, ch Channel) error {
	topic := entity.Topic()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxPerChannel > 0 && r.channelCounts[ch.ID()] >= r.maxPerChannel {
		return ErrSubscriptionLimit
	}

	state := r.topics[topic]
	if state != nil {
		if _, exists := state.subs[endpoint.Key()]; exists {
			return ErrAlreadySubscribed
		}
	} else {
		cancel, err := r.broker.Subscribe(ctx, topic, r.dispatchFunc(topic))
		if err != nil {
			return err
		}
		state = &topicState{
			subs:   make(map[string]*subscription),
			cancel: cancel,
		}
		r.topics[topic] = state
	}

	state.subs[endpoint.Key()] = &subscription{
		endpoint: endpoint,
		channel:  ch,
	}
	r.channelCounts[ch.ID()]++

	return nil
}

// Unsubscribe detaches an endpoint from the entity's topic. The broker
// subscription is closed when the last local subscriber leaves.
func (r *Relay) Unsubscribe(entity domain.EntityRef, endpoint domain.EndpointRef) error {
	topic := entity.Topic()

	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.topics[topic]
	if state == nil {
		return ErrNotSubscribed
	}

	sub, exists := state.subs[endpoint.Key()]
	if !exists {
		return ErrNotSubscribed
	}

	delete(state.subs, endpoint.Key())

	r.channelCounts[sub.channel.ID()]--
	if r.channelCounts[sub.channel.ID()] <= 0 {
		delete(r.channelCounts, sub.channel.ID())
	}

	if len(state.subs) == 0 {
		state.cancel()
		delete(r.topics, topic)
	}

	return nil
}

// Publish broadcasts a message on the entity's topic. The message must
// carry its origin so receiving relays can suppress the echo.
func (r *Relay) Publish(ctx context.Context, entity domain.EntityRef, msg *domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return r.broker.Publish(ctx, entity.Topic(), payload)
}

func (r *Relay) dispatchFunc(topic string) func(payload []byte) {
	return func(payload []byte) {
		var msg domain.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("relay: dropping malformed broadcast on %s: %v", topic, err)
			return
		}

		r.mu.RLock()
		state := r.topics[topic]
		var targets []*subscription
		if state != nil {
			targets = make([]*subscription, 0, len(state.subs))
			for _, sub := range state.subs {
				if msg.Origin != nil && sub.endpoint.Equal(*msg.Origin) {
					continue
				}
				targets = append(targets, sub)
			}
		}
		r.mu.RUnlock()

		for _, sub := range targets {
			if err := sub.channel.Push(&msg); err != nil {
				log.Printf("relay: dropping delivery to %s on %s: %v", sub.channel.ID(), topic, err)
			}
		}
	}
}
