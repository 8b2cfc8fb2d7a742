package engine

import (
	"context"

	"github.com/fluxorio/flowmesh/internal/sender"
	"github.com/fluxorio/flowmesh/internal/types"
)

// EntryHook runs when an instance enters a state (including re-entering
// it via a self-loop transition).
type EntryHook func(ctx context.Context, inst *types.Instance, s sender.Sender) error

// ExitHook runs when an instance leaves a state.
type ExitHook func(ctx context.Context, inst *types.Instance, s sender.Sender) error

// TriggeredHook runs once a transition's new state has been committed but
// before its entry hook, per the exit -> triggered -> entry ordering
// contract.
type TriggeredHook func(ctx context.Context, inst *types.Instance, evt types.Event, s sender.Sender) error

// GuardFunc backs Guard.Kind==customFunction.
type GuardFunc func(ctx context.Context, inst *types.Instance, evt types.Event, args []interface{}) (bool, error)

// Hooks is the set of user-registered Go callbacks for one StateMachine.
type Hooks struct {
	OnEnter   map[string]EntryHook
	OnExit    map[string]ExitHook
	Triggered map[string]TriggeredHook
	Guards    map[string]GuardFunc
}

// NewHooks returns an empty Hooks ready for registration.
func NewHooks() *Hooks {
	return &Hooks{
		OnEnter:   make(map[string]EntryHook),
		OnExit:    make(map[string]ExitHook),
		Triggered: make(map[string]TriggeredHook),
		Guards:    make(map[string]GuardFunc),
	}
}

func (h *Hooks) entry(state string) EntryHook {
	if h == nil {
		return nil
	}
	return h.OnEnter[state]
}

func (h *Hooks) exit(state string) ExitHook {
	if h == nil {
		return nil
	}
	return h.OnExit[state]
}

func (h *Hooks) triggered(transition string) TriggeredHook {
	if h == nil {
		return nil
	}
	return h.Triggered[transition]
}

func (h *Hooks) guard(name string) GuardFunc {
	if h == nil {
		return nil
	}
	return h.Guards[name]
}
