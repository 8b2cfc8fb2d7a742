package engine

import (
	"context"
	"time"

	"github.com/fluxorio/flowmesh/internal/sender"
	"github.com/fluxorio/flowmesh/internal/types"
)

// instanceSender is the concrete sender.Sender handed to hooks running
// for one instance. Local operations dispatch directly against e;
// cross-component operations forward to the injected router, failing
// with CrossComponentUnavailable if none is attached.
type instanceSender struct {
	e          *Engine
	instanceID string
}

func (e *Engine) senderFor(instanceID string) sender.Sender {
	return &instanceSender{e: e, instanceID: instanceID}
}

// selfSendQueueKey is the context key under which commit stashes the
// current transition's pending self-sent events.
type selfSendQueueKey struct{}

// withSelfSendQueue attaches a fresh, empty event queue to ctx and
// returns a pointer to it so the caller can drain it once every hook
// for the current transition has returned.
func withSelfSendQueue(ctx context.Context) (context.Context, *[]types.Event) {
	queue := &[]types.Event{}
	return context.WithValue(ctx, selfSendQueueKey{}, queue), queue
}

func selfSendQueueFrom(ctx context.Context) *[]types.Event {
	queue, _ := ctx.Value(selfSendQueueKey{}).(*[]types.Event)
	return queue
}

// SendToSelf enqueues eventName for delivery to this same instance once
// the hook that called it returns. Dispatching it inline here would
// call back into SendEvent while the instance's lock — acquired by the
// commit already in progress — is still held, deadlocking on the first
// use of this capability.
func (s *instanceSender) SendToSelf(ctx context.Context, eventName string, payload map[string]interface{}) error {
	if queue := selfSendQueueFrom(ctx); queue != nil {
		*queue = append(*queue, types.Event{Name: eventName, Payload: payload, Timestamp: time.Now().UTC()})
		return nil
	}
	// No commit in flight on ctx (e.g. called outside a hook): fall back
	// to a direct dispatch, which is safe since no lock is held here.
	return s.e.SendEvent(ctx, s.instanceID, types.Event{Name: eventName, Payload: payload})
}

func (s *instanceSender) SendTo(ctx context.Context, instanceID, eventName string, payload map[string]interface{}) error {
	return s.e.SendEvent(ctx, instanceID, types.Event{Name: eventName, Payload: payload})
}

func (s *instanceSender) Broadcast(ctx context.Context, machine, eventName string, payload map[string]interface{}) error {
	return s.e.BroadcastEvent(ctx, machine, types.Event{Name: eventName, Payload: payload})
}

func (s *instanceSender) CreateInstance(ctx context.Context, machine string, payload map[string]interface{}) (string, error) {
	return s.e.CreateInstance(ctx, machine, payload)
}

func (s *instanceSender) SendToComponent(ctx context.Context, component, instanceID, eventName string, payload map[string]interface{}) error {
	router := s.e.currentRouter()
	if router == nil {
		return types.New(types.ErrCrossComponentUnavail, "no registry attached: cannot reach component "+component)
	}
	return router.SendEventToComponent(ctx, component, instanceID, eventName, payload)
}

func (s *instanceSender) BroadcastToComponent(ctx context.Context, component, machine, eventName string, payload map[string]interface{}) error {
	router := s.e.currentRouter()
	if router == nil {
		return types.New(types.ErrCrossComponentUnavail, "no registry attached: cannot reach component "+component)
	}
	return router.BroadcastToComponent(ctx, component, machine, eventName, payload)
}

func (s *instanceSender) CreateInstanceInComponent(ctx context.Context, component, machine string, payload map[string]interface{}) (string, error) {
	router := s.e.currentRouter()
	if router == nil {
		return "", types.New(types.ErrCrossComponentUnavail, "no registry attached: cannot reach component "+component)
	}
	return router.CreateInstanceInComponent(ctx, component, machine, payload)
}
