package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/fluxorio/flowmesh/internal/broker"
	"github.com/fluxorio/flowmesh/internal/broker/localbroker"
	"github.com/fluxorio/flowmesh/internal/engine"
	"github.com/fluxorio/flowmesh/internal/registry"
	"github.com/fluxorio/flowmesh/internal/types"
)

func pingPongComponent(name string) types.Component {
	return types.Component{
		Name: name,
		StateMachines: []types.StateMachine{
			{
				Name:         "worker",
				InitialState: "idle",
				States: []types.State{
					{Name: "idle", Kind: types.StateEntry},
					{Name: "busy", Kind: types.StateRegular},
				},
				Transitions: []types.Transition{
					{Name: "start", From: "idle", To: "busy", Event: "start"},
				},
			},
		},
	}
}

func TestBroadcaster_MirrorsAndAppliesCommands(t *testing.T) {
	reg := registry.New(nil)

	producer, err := engine.New(pingPongComponent("producer"))
	if err != nil {
		t.Fatalf("New(producer): %v", err)
	}
	if err := reg.Register(producer); err != nil {
		t.Fatalf("Register(producer): %v", err)
	}

	b := localbroker.New()
	bc := broker.New(b, reg, nil)
	ctx := context.Background()
	if err := bc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer bc.Stop()

	stateChanges := make(chan broker.Message, 4)
	unsub, err := b.Subscribe(broker.ChannelStateChange, func(m broker.Message) { stateChanges <- m })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if err := bc.Attach(ctx, producer); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	id, err := producer.CreateInstance(ctx, "worker", nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := producer.SendEvent(ctx, id, types.Event{Name: "start"}); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	select {
	case m := <-stateChanges:
		if m.Body["component"] != "producer" {
			t.Fatalf("unexpected mirrored component: %v", m.Body["component"])
		}
	case <-time.After(time.Second):
		t.Fatal("expected a mirrored state_change message")
	}

	// Inbound command delivered over the broker's command channel for
	// "producer" must create a new instance via the router.
	if err := b.Publish(ctx, broker.Commands("producer"), map[string]interface{}{
		"kind":    "create_instance",
		"machine": "worker",
		"payload": map[string]interface{}{},
	}); err != nil {
		t.Fatalf("Publish command: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(producer.GetInstancesByMachine("worker")) >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the inbound create_instance command to create a second worker instance")
}
