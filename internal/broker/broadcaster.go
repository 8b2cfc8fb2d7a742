package broker

import (
	"context"
	"sync"
	"time"
)

// Router is the minimal surface a Broadcaster needs from a component
// registry: addressing an already-running engine by name to apply an
// inbound command locally. Defined here (rather than importing the
// registry package) to keep broker free of an engine/registry
// dependency, mirroring the sender.CrossComponentRouter injection
// pattern used to resolve the engine<->registry cycle.
type Router interface {
	SendEventToComponent(ctx context.Context, component, instanceID, eventName string, payload map[string]interface{}) error
	BroadcastToComponent(ctx context.Context, component, machine, eventName string, payload map[string]interface{}) error
	CreateInstanceInComponent(ctx context.Context, component, machine string, payload map[string]interface{}) (string, error)
}

// Source is the minimal surface a Broadcaster needs from a running
// Engine to mirror its lifecycle events outward.
type Source interface {
	Name() string
	SubscribeEngineEvents(func(topic, machine, instanceID string, payload map[string]interface{}))
}

// DisconnectNotifier receives broker disconnect notifications, decoupling
// the Broadcaster's reconnect loop from any one engine implementation.
type DisconnectNotifier func(err error)

// reconnectState mirrors the teacher's circuit breaker (closed/open/half
// open) but drives a retry loop instead of gating request admission:
// closed means connected, open means backing off, half-open means a
// reconnect attempt is in flight.
type reconnectState int

const (
	stateConnected reconnectState = iota
	stateBackingOff
	stateProbing
)

// Broadcaster pairs a Broker with a component registry: it announces
// and mirrors every attached component's engine events outward, applies
// inbound commands to local instances, and reconnects with exponential
// backoff on broker disconnect — adapted from the teacher's
// CircuitBreaker state machine (pkg/mesh/circuit_breaker.go), repurposed
// here to drive reconnect retries rather than request admission.
type Broadcaster struct {
	broker Broker
	router Router

	mu        sync.Mutex
	state     reconnectState
	backoff   time.Duration
	maxBackoff time.Duration
	attached  map[string]Source
	unsubs    []Unsubscribe

	onDisconnect func(err error)
}

// New returns a Broadcaster over b, routing inbound commands through
// router. onDisconnect is called (possibly from a background goroutine)
// whenever the broker reports a transport disconnect, before the
// reconnect loop begins backing off; pass nil if the caller doesn't
// need the notification.
func New(b Broker, router Router, onDisconnect DisconnectNotifier) *Broadcaster {
	bc := &Broadcaster{
		broker:       b,
		router:       router,
		backoff:      250 * time.Millisecond,
		maxBackoff:   30 * time.Second,
		attached:     make(map[string]Source),
		onDisconnect: onDisconnect,
	}
	b.OnDisconnect(bc.handleDisconnect)
	return bc
}

// Start connects the broker. Command-channel subscriptions and
// announcements are made per component by Attach.
func (bc *Broadcaster) Start(ctx context.Context) error {
	if err := bc.broker.Connect(ctx); err != nil {
		return err
	}
	bc.mu.Lock()
	bc.state = stateConnected
	bc.mu.Unlock()
	return nil
}

// Attach wires one component's engine into the broadcaster: its
// lifecycle events are mirrored to the broker's channel namespace, and
// its command channel is subscribed so inbound cross-process commands
// can reach it via router.
func (bc *Broadcaster) Attach(ctx context.Context, src Source) error {
	name := src.Name()

	src.SubscribeEngineEvents(func(topic, machine, instanceID string, payload map[string]interface{}) {
		body := map[string]interface{}{
			"component":  name,
			"machine":    machine,
			"instanceId": instanceID,
		}
		for k, v := range payload {
			body[k] = v
		}
		channel := channelForTopic(topic)
		if channel == "" {
			return
		}
		_ = bc.broker.Publish(context.Background(), channel, body)
	})

	unsub, err := bc.broker.Subscribe(Commands(name), func(msg Message) {
		bc.applyCommand(ctx, name, msg.Body)
	})
	if err != nil {
		return err
	}

	bc.mu.Lock()
	bc.attached[name] = src
	bc.unsubs = append(bc.unsubs, unsub)
	bc.mu.Unlock()

	return bc.broker.Publish(ctx, ChannelAnnounce, map[string]interface{}{"component": name})
}

// applyCommand decodes a command message and applies it to the local
// engine for component via router. Recognized kinds: "send_event",
// "broadcast_event", "create_instance".
func (bc *Broadcaster) applyCommand(ctx context.Context, component string, body map[string]interface{}) {
	kind, _ := body["kind"].(string)
	payload, _ := body["payload"].(map[string]interface{})

	switch kind {
	case "send_event":
		instanceID, _ := body["instanceId"].(string)
		eventName, _ := body["event"].(string)
		_ = bc.router.SendEventToComponent(ctx, component, instanceID, eventName, payload)
	case "broadcast_event":
		machine, _ := body["machine"].(string)
		eventName, _ := body["event"].(string)
		_ = bc.router.BroadcastToComponent(ctx, component, machine, eventName, payload)
	case "create_instance":
		machine, _ := body["machine"].(string)
		_, _ = bc.router.CreateInstanceInComponent(ctx, component, machine, payload)
	}
}

func channelForTopic(topic string) string {
	switch topic {
	case "engine.state_change":
		return ChannelStateChange
	case "engine.instance_created":
		return ChannelInstanceCreated
	case "engine.instance_disposed":
		return ChannelInstanceDisposed
	default:
		return ""
	}
}

// handleDisconnect is invoked by the broker driver on transport loss. It
// notifies the caller-supplied callback and starts the backoff/reconnect
// loop if one isn't already running.
func (bc *Broadcaster) handleDisconnect(err error) {
	bc.mu.Lock()
	if bc.state != stateConnected {
		bc.mu.Unlock()
		return
	}
	bc.state = stateBackingOff
	bc.mu.Unlock()

	if bc.onDisconnect != nil {
		bc.onDisconnect(err)
	}

	go bc.reconnectLoop()
}

// reconnectLoop retries Connect with exponential backoff, doubling up to
// maxBackoff, until it succeeds — at which point every attached
// component re-announces and its command subscription is recreated.
func (bc *Broadcaster) reconnectLoop() {
	delay := bc.backoff
	for {
		time.Sleep(delay)

		bc.mu.Lock()
		bc.state = stateProbing
		bc.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := bc.broker.Connect(ctx)
		cancel()

		if err == nil {
			bc.onReconnected()
			return
		}

		bc.mu.Lock()
		bc.state = stateBackingOff
		bc.mu.Unlock()

		delay *= 2
		if delay > bc.maxBackoff {
			delay = bc.maxBackoff
		}
	}
}

func (bc *Broadcaster) onReconnected() {
	bc.mu.Lock()
	bc.state = stateConnected
	attached := make(map[string]Source, len(bc.attached))
	for k, v := range bc.attached {
		attached[k] = v
	}
	bc.mu.Unlock()

	ctx := context.Background()
	for _, src := range attached {
		_ = bc.Attach(ctx, src)
	}
}

// Stop disconnects the broker and releases every subscription.
func (bc *Broadcaster) Stop() error {
	bc.mu.Lock()
	unsubs := bc.unsubs
	bc.unsubs = nil
	bc.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	return bc.broker.Disconnect()
}
