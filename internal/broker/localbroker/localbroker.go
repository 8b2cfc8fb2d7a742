// Package localbroker is the in-memory Broker driver: a topic to
// subscriber map for single-process deployments and tests. Each Broker
// returned by New is independent; the package keeps no process-wide
// instance. Publish runs every handler synchronously on the
// publisher's goroutine. Adapted from the teacher's localBus
// (pkg/bus/bus.go), generalized from component mailboxes to the
// broker's Message/Handler contract.
package localbroker

import (
	"context"
	"sync"

	"github.com/fluxorio/flowmesh/internal/broker"
)

type subscription struct {
	id int
	h  broker.Handler
}

// Broker is the in-memory broker.Broker implementation. All instances
// constructed with New share no state; callers that need a
// process-global bus should hold a single Broker and pass it to every
// Broadcaster in the process.
type Broker struct {
	mu          sync.RWMutex
	connected   bool
	nextID      int
	subscribers map[string][]subscription
}

// New returns a disconnected in-memory Broker.
func New() *Broker {
	return &Broker{subscribers: make(map[string][]subscription)}
}

// Connect marks the broker connected. There is no transport to
// establish, so this never fails.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

// Disconnect marks the broker disconnected and drops every subscriber.
func (b *Broker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.subscribers = make(map[string][]subscription)
	return nil
}

// Publish fans body out to every subscriber of channel, dropping the
// message for any subscriber whose handler panics.
func (b *Broker) Publish(ctx context.Context, channel string, body map[string]interface{}) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers[channel]))
	copy(subs, b.subscribers[channel])
	b.mu.RUnlock()

	msg := broker.Message{Channel: channel, Body: body}
	for _, s := range subs {
		dispatch(s.h, msg)
	}
	return nil
}

func dispatch(h broker.Handler, msg broker.Message) {
	defer func() { _ = recover() }()
	h(msg)
}

// Subscribe registers h for channel.
func (b *Broker) Subscribe(channel string, h broker.Handler) (broker.Unsubscribe, error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[channel] = append(b.subscribers[channel], subscription{id: id, h: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[channel]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}, nil
}

// OnDisconnect is a no-op: the in-memory driver has no transport that
// can drop.
func (b *Broker) OnDisconnect(func(error)) {}
