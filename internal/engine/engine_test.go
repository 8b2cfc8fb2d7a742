package engine

import (
	"context"
	"testing"
	"time"

	"github.com/fluxorio/flowmesh/internal/types"
)

func orderComponent() types.Component {
	return types.Component{
		Name: "orders",
		StateMachines: []types.StateMachine{
			{
				Name:         "order",
				InitialState: "pending",
				States: []types.State{
					{Name: "pending", Kind: types.StateEntry},
					{Name: "confirmed", Kind: types.StateRegular},
					{Name: "shipped", Kind: types.StateRegular},
					{Name: "delivered", Kind: types.StateFinal},
					{Name: "cancelled", Kind: types.StateFinal},
				},
				Transitions: []types.Transition{
					{Name: "confirm", From: "pending", To: "confirmed", Event: "confirm"},
					{Name: "ship", From: "confirmed", To: "shipped", Event: "ship"},
					{Name: "deliver", From: "shipped", To: "delivered", Event: "deliver"},
					{Name: "cancel", From: "pending", To: "cancelled", Event: "cancel", Priority: 10},
					{
						Name: "ship-guarded", From: "confirmed", To: "shipped", Event: "ship-guarded",
						Guard: &types.Guard{Kind: types.GuardKeys, Keys: []string{"warehouseReady"}},
					},
				},
			},
		},
	}
}

func TestEngine_LinearPath(t *testing.T) {
	e, err := New(orderComponent())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	id, err := e.CreateInstance(ctx, "order", map[string]interface{}{"orderId": "A1"})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	inst, ok := e.GetInstance(id)
	if !ok || inst.CurrentState != "pending" {
		t.Fatalf("expected pending, got %+v ok=%v", inst, ok)
	}

	steps := []string{"confirm", "ship", "deliver"}
	want := []string{"confirmed", "shipped", "delivered"}
	for i, evtName := range steps {
		if err := e.SendEvent(ctx, id, types.Event{Name: evtName}); err != nil {
			t.Fatalf("SendEvent(%s): %v", evtName, err)
		}
		if i < len(steps)-1 {
			inst, ok = e.GetInstance(id)
			if !ok || inst.CurrentState != want[i] {
				t.Fatalf("step %d: expected %s, got %+v ok=%v", i, want[i], inst, ok)
			}
		}
	}

	// Final state disposes the instance.
	if _, ok := e.GetInstance(id); ok {
		t.Fatalf("expected instance %s to be disposed after reaching final state", id)
	}

	events, err := e.eventStore.ByInstance(ctx, id)
	if err != nil {
		t.Fatalf("ByInstance: %v", err)
	}
	if len(events) != 4 { // created + confirm + ship + deliver
		t.Fatalf("expected 4 persisted events, got %d", len(events))
	}
}

func TestEngine_GuardRejectsTransition(t *testing.T) {
	e, err := New(orderComponent())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	id, err := e.CreateInstance(ctx, "order", nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := e.SendEvent(ctx, id, types.Event{Name: "confirm"}); err != nil {
		t.Fatalf("SendEvent(confirm): %v", err)
	}

	if err := e.SendEvent(ctx, id, types.Event{Name: "ship-guarded"}); err != nil {
		t.Fatalf("SendEvent(ship-guarded): %v", err)
	}
	inst, _ := e.GetInstance(id)
	if inst.CurrentState != "confirmed" {
		t.Fatalf("guard without warehouseReady key should reject transition, still expected confirmed, got %s", inst.CurrentState)
	}
}

func TestEngine_Timeout(t *testing.T) {
	comp := types.Component{
		Name: "approvals",
		StateMachines: []types.StateMachine{
			{
				Name:         "approval",
				InitialState: "waiting",
				States: []types.State{
					{Name: "waiting", Kind: types.StateEntry},
					{Name: "expired", Kind: types.StateFinal},
					{Name: "approved", Kind: types.StateFinal},
				},
				Transitions: []types.Transition{
					{Name: "approve", From: "waiting", To: "approved", Event: "approve"},
					{Name: "expire", From: "waiting", To: "expired", Kind: types.TransitionTimeout, TimeoutMs: 20},
				},
			},
		},
	}
	e, err := New(comp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	id, err := e.CreateInstance(ctx, "approval", nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := e.GetInstance(id); ok {
		t.Fatalf("expected instance to be disposed via timeout transition")
	}
	events, _ := e.eventStore.ByInstance(ctx, id)
	if len(events) != 2 {
		t.Fatalf("expected created+expire events, got %d", len(events))
	}
	if events[1].StateAfter != "expired" {
		t.Fatalf("expected timeout to land on expired, got %s", events[1].StateAfter)
	}
}

func TestEngine_Cascade(t *testing.T) {
	comp := types.Component{
		Name: "fulfillment",
		StateMachines: []types.StateMachine{
			{
				Name:         "order",
				InitialState: "pending",
				States: []types.State{
					{Name: "pending", Kind: types.StateEntry},
					{
						Name: "paid", Kind: types.StateRegular,
						Cascades: []types.CascadeRule{
							{TargetMachine: "shipment", EventName: "start", PayloadTemplate: map[string]interface{}{"orderId": "{{orderId}}"}},
						},
					},
				},
				Transitions: []types.Transition{
					{Name: "pay", From: "pending", To: "paid", Event: "pay"},
				},
			},
			{
				Name:         "shipment",
				InitialState: "idle",
				States: []types.State{
					{Name: "idle", Kind: types.StateEntry},
					{Name: "shipping", Kind: types.StateRegular},
				},
				Transitions: []types.Transition{
					{Name: "start-shipping", From: "idle", To: "shipping", Event: "start"},
				},
			},
		},
	}
	e, err := New(comp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	orderID, err := e.CreateInstance(ctx, "order", map[string]interface{}{"orderId": "Z9"})
	if err != nil {
		t.Fatalf("CreateInstance(order): %v", err)
	}
	shipID, err := e.CreateInstance(ctx, "shipment", nil)
	if err != nil {
		t.Fatalf("CreateInstance(shipment): %v", err)
	}

	if err := e.SendEvent(ctx, orderID, types.Event{Name: "pay"}); err != nil {
		t.Fatalf("SendEvent(pay): %v", err)
	}

	shipInst, ok := e.GetInstance(shipID)
	if !ok || shipInst.CurrentState != "shipping" {
		t.Fatalf("expected cascade to move shipment instance to shipping, got %+v ok=%v", shipInst, ok)
	}
}

func TestEngine_RestartSurvival(t *testing.T) {
	store := newSharedStores()
	comp := orderComponent()

	e1, err := New(comp, WithEventStore(store.events), WithSnapshotStore(store.snaps))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	id, err := e1.CreateInstance(ctx, "order", map[string]interface{}{"orderId": "R1"})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := e1.SendEvent(ctx, id, types.Event{Name: "confirm"}); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	e2, err := New(comp, WithEventStore(store.events), WithSnapshotStore(store.snaps))
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	if _, err := e2.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	inst, ok := e2.GetInstance(id)
	if !ok || inst.CurrentState != "confirmed" {
		t.Fatalf("expected restored instance in confirmed, got %+v ok=%v", inst, ok)
	}
}
