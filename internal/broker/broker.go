// Package broker defines the cross-component messaging fabric contract.
// A Broker moves announce/state-change/instance-lifecycle/command
// traffic between separately-running runtimes; the broadcaster pairs a
// Broker with a component registry to mirror engine events out and
// apply inbound ones locally.
package broker

import "context"

// Fixed channel namespace. Component-scoped channels are built with the
// Commands helper below.
const (
	ChannelAnnounce          = "fsm:registry:announce"
	ChannelStateChange       = "fsm:events:state_change"
	ChannelInstanceCreated   = "fsm:events:instance_created"
	ChannelInstanceDisposed  = "fsm:events:instance_disposed"
	commandsPrefix           = "fsm:commands:"
)

// Commands returns the command channel for a single component.
func Commands(component string) string { return commandsPrefix + component }

// Message is the envelope exchanged over every channel.
type Message struct {
	Channel string
	Body    map[string]interface{}
}

// Handler receives messages delivered on a subscribed channel.
type Handler func(Message)

// Unsubscribe removes a previously registered Handler.
type Unsubscribe func()

// Broker is the messaging fabric contract. Drivers: localbroker
// (in-process, single runtime) and natsbroker (networked, multi-process).
type Broker interface {
	// Connect establishes the underlying transport. Publish/Subscribe
	// before Connect is an error for networked drivers; the local driver
	// tolerates it since there is no transport to establish.
	Connect(ctx context.Context) error
	// Disconnect tears down the underlying transport and fails any
	// pending subscriptions.
	Disconnect() error
	// Publish fans out msg to every subscriber of channel. Best-effort:
	// a publish failure is reported to the caller but never blocks or
	// retries.
	Publish(ctx context.Context, channel string, body map[string]interface{}) error
	// Subscribe registers h for every message published on channel.
	Subscribe(channel string, h Handler) (Unsubscribe, error)
	// OnDisconnect registers a callback fired when the transport drops.
	// The local driver never calls it.
	OnDisconnect(func(error))
}
