// Package natsbroker is the networked Broker driver, for multi-process
// deployments where components run as separate OS processes or hosts.
// Subject mapping and the subscribe pattern are adapted directly from
// the teacher's NATS cluster event bus
// (pkg/core/eventbus_cluster_nats.go), generalized from the teacher's
// address/Publish/Send/Request triad down to the broker's simpler
// publish/subscribe-only contract — flowmesh's cross-component calls
// are fire-and-forget fan-out, not request/reply.
package natsbroker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/flowmesh/internal/broker"
)

// Config configures the NATS-backed broker.
type Config struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string
	// Prefix is prepended to every channel to form the NATS subject.
	// Default: "fsm".
	Prefix string
	// Name is an optional NATS connection name, surfaced in server
	// monitoring.
	Name string
}

// Broker is the NATS broker.Broker implementation.
type Broker struct {
	cfg Config

	mu   sync.Mutex
	nc   *nats.Conn
	subs []*nats.Subscription

	onDisconnect func(error)
}

// New returns a disconnected NATS broker for cfg.
func New(cfg Config) *Broker {
	if cfg.Prefix == "" {
		cfg.Prefix = "fsm"
	}
	return &Broker{cfg: cfg}
}

// Connect dials the configured NATS server.
func (b *Broker) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.mu.Lock()
			cb := b.onDisconnect
			b.mu.Unlock()
			if cb != nil {
				cb(err)
			}
		}),
	}
	if b.cfg.Name != "" {
		opts = append(opts, nats.Name(b.cfg.Name))
	}

	url := b.cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.nc = nc
	b.mu.Unlock()
	return nil
}

// Disconnect drains and closes the connection.
func (b *Broker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	b.subs = nil
	if b.nc != nil {
		_ = b.nc.Drain()
		b.nc.Close()
		b.nc = nil
	}
	return nil
}

// Publish marshals body as JSON and publishes it on the NATS subject
// for channel.
func (b *Broker) Publish(ctx context.Context, channel string, body map[string]interface{}) error {
	b.mu.Lock()
	nc := b.nc
	b.mu.Unlock()
	if nc == nil {
		return nats.ErrConnectionClosed
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return nc.Publish(b.subject(channel), data)
}

// Subscribe registers h on the NATS subject for channel. It is a plain
// (non-queue) subscription: every subscriber of the subject receives
// each message.
func (b *Broker) Subscribe(channel string, h broker.Handler) (broker.Unsubscribe, error) {
	b.mu.Lock()
	nc := b.nc
	b.mu.Unlock()
	if nc == nil {
		return nil, nats.ErrConnectionClosed
	}

	subject := b.subject(channel)
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		var body map[string]interface{}
		if err := json.Unmarshal(m.Data, &body); err != nil {
			return
		}
		h(broker.Message{Channel: channel, Body: body})
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() { _ = sub.Unsubscribe() }, nil
}

// OnDisconnect registers cb to be invoked whenever the NATS connection
// reports a disconnect.
func (b *Broker) OnDisconnect(cb func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDisconnect = cb
}

func (b *Broker) subject(channel string) string {
	return b.cfg.Prefix + "." + channel
}
