package engine

import (
	"sort"

	"github.com/fluxorio/flowmesh/internal/types"
)

// compiledMachine is a StateMachine definition indexed for fast lookup at
// dispatch time.
type compiledMachine struct {
	def    types.StateMachine
	states map[string]types.State
	// byFromEvent maps (state, event) to candidate transitions, sorted by
	// priority descending then declaration order, exactly the order the
	// selection algorithm must try them in.
	byFromEvent map[fromEventKey][]types.Transition
	// timersByState maps a state to its timeout/auto transitions.
	timersByState map[string][]types.Transition
}

type fromEventKey struct {
	state string
	event string
}

func compile(sm types.StateMachine) (*compiledMachine, error) {
	if sm.Name == "" {
		return nil, types.New(types.ErrDeclaration, "state machine name cannot be empty")
	}
	if sm.InitialState == "" {
		return nil, types.New(types.ErrDeclaration, "state machine "+sm.Name+": initialState cannot be empty")
	}
	cm := &compiledMachine{
		def:           sm,
		states:        make(map[string]types.State, len(sm.States)),
		byFromEvent:   make(map[fromEventKey][]types.Transition),
		timersByState: make(map[string][]types.Transition),
	}
	for _, st := range sm.States {
		if st.Name == "" {
			return nil, types.New(types.ErrDeclaration, "state machine "+sm.Name+": state with empty name")
		}
		cm.states[st.Name] = st
	}
	if _, ok := cm.states[sm.InitialState]; !ok {
		return nil, types.New(types.ErrDeclaration, "state machine "+sm.Name+": initialState "+sm.InitialState+" not declared")
	}

	declOrder := make(map[fromEventKey]int)
	for i, tr := range sm.Transitions {
		if _, ok := cm.states[tr.From]; !ok {
			return nil, types.New(types.ErrDeclaration, "state machine "+sm.Name+": transition "+tr.Name+" references unknown from state "+tr.From)
		}
		if tr.Kind != types.TransitionInterMachine {
			if _, ok := cm.states[tr.To]; !ok {
				return nil, types.New(types.ErrDeclaration, "state machine "+sm.Name+": transition "+tr.Name+" references unknown to state "+tr.To)
			}
		}

		switch tr.Kind {
		case types.TransitionTimeout, types.TransitionAuto:
			cm.timersByState[tr.From] = append(cm.timersByState[tr.From], tr)
		default:
			k := fromEventKey{state: tr.From, event: tr.Event}
			cm.byFromEvent[k] = append(cm.byFromEvent[k], tr)
			declOrder[k] = i
		}
	}

	for k, list := range cm.byFromEvent {
		idx := make(map[string]int, len(list))
		for i, tr := range sm.Transitions {
			idx[tr.Name] = i
		}
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Priority != list[j].Priority {
				return list[i].Priority > list[j].Priority
			}
			return idx[list[i].Name] < idx[list[j].Name]
		})
		cm.byFromEvent[k] = list
	}
	for _, list := range cm.timersByState {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Priority > list[j].Priority })
	}

	return cm, nil
}

func (cm *compiledMachine) candidates(state, event string) []types.Transition {
	return cm.byFromEvent[fromEventKey{state: state, event: event}]
}

func (cm *compiledMachine) timersFor(state string) []types.Transition {
	return cm.timersByState[state]
}

func (cm *compiledMachine) isTerminal(state string) bool {
	st, ok := cm.states[state]
	return ok && (st.Kind == types.StateFinal || st.Kind == types.StateError)
}
