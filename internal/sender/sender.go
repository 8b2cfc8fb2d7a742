// Package sender defines the capability object passed into every user
// hook: a single object unifying local (same component) and
// cross-component effects, so hook authors never touch the engine or
// registry directly.
package sender

import (
	"context"
)

// Sender is handed to every entry/exit/triggered hook. Custom guards do
// not receive one.
type Sender interface {
	// SendToSelf sends an event to the instance the hook is running for.
	SendToSelf(ctx context.Context, eventName string, payload map[string]interface{}) error
	// SendTo sends an event to another instance of the same component.
	SendTo(ctx context.Context, instanceID, eventName string, payload map[string]interface{}) error
	// Broadcast sends an event to every instance of a machine in the same
	// component.
	Broadcast(ctx context.Context, machine, eventName string, payload map[string]interface{}) error
	// CreateInstance creates a new instance of a machine in the same
	// component.
	CreateInstance(ctx context.Context, machine string, payload map[string]interface{}) (string, error)

	// SendToComponent routes an event to an instance in a different
	// component, through the registry. Returns CrossComponentUnavailable
	// if no registry is attached.
	SendToComponent(ctx context.Context, component, instanceID, eventName string, payload map[string]interface{}) error
	// BroadcastToComponent broadcasts an event to every instance of a
	// machine in a different component.
	BroadcastToComponent(ctx context.Context, component, machine, eventName string, payload map[string]interface{}) error
	// CreateInstanceInComponent creates a new instance in a different
	// component.
	CreateInstanceInComponent(ctx context.Context, component, machine string, payload map[string]interface{}) (string, error)
}

// CrossComponentRouter is implemented by the component registry and
// injected into each Engine after construction, resolving the
// registry<->engine cyclic reference without either package importing
// the other directly.
type CrossComponentRouter interface {
	SendEventToComponent(ctx context.Context, component, instanceID, eventName string, payload map[string]interface{}) error
	BroadcastToComponent(ctx context.Context, component, machine, eventName string, payload map[string]interface{}) error
	CreateInstanceInComponent(ctx context.Context, component, machine string, payload map[string]interface{}) (string, error)
}
