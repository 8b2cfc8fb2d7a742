package registry

import (
	"context"
	"testing"

	"github.com/fluxorio/flowmesh/internal/engine"
	"github.com/fluxorio/flowmesh/internal/enginebus"
	"github.com/fluxorio/flowmesh/internal/types"
)

func lightComponent(name, target string) types.Component {
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
					{
						Name: "start", From: "idle", To: "busy", Event: "start",
						Kind:               types.TransitionInterMachine,
						InterMachineTarget: target,
					},
				},
			},
		},
	}
}

func TestRegistry_CrossComponentRouting(t *testing.T) {
	reg := New(nil)
	ctx := context.Background()

	producer, err := engine.New(lightComponent("producer", "consumer"))
	if err != nil {
		t.Fatalf("New(producer): %v", err)
	}
	consumer, err := engine.New(types.Component{
		Name: "consumer",
		StateMachines: []types.StateMachine{
			{
				Name:         "consumer",
				InitialState: "idle",
				States: []types.State{
					{Name: "idle", Kind: types.StateEntry},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("New(consumer): %v", err)
	}

	if err := reg.Register(producer); err != nil {
		t.Fatalf("Register(producer): %v", err)
	}
	if err := reg.Register(consumer); err != nil {
		t.Fatalf("Register(consumer): %v", err)
	}

	id, err := producer.CreateInstance(ctx, "worker", nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := producer.SendEvent(ctx, id, types.Event{Name: "start"}); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	consumerInstances := consumer.GetInstancesByMachine("consumer")
	if len(consumerInstances) != 1 {
		t.Fatalf("expected inter-machine transition to create one consumer instance, got %d", len(consumerInstances))
	}
}

func TestRegistry_CrossComponentUnavailableWithoutRegistration(t *testing.T) {
	producer, err := engine.New(lightComponent("producer", "ghost"))
	if err != nil {
		t.Fatalf("New(producer): %v", err)
	}

	// No registry attached: routing to an inter-machine target that isn't
	// a locally declared machine must surface a cross-component-unavailable
	// error on the bus rather than silently no-op.
	var gotErr error
	unsub := producer.Bus().SubscribeAll(func(evt enginebus.Event) {
		if evt.Err != nil {
			gotErr = evt.Err
		}
	})
	defer unsub()

	ctx := context.Background()
	id, err := producer.CreateInstance(ctx, "worker", nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := producer.SendEvent(ctx, id, types.Event{Name: "start"}); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	if gotErr == nil {
		t.Fatal("expected a cross-component-unavailable error on the bus")
	}
}
