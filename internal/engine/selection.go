package engine

import (
	"context"

	"github.com/fluxorio/flowmesh/internal/expr"
	"github.com/fluxorio/flowmesh/internal/types"
)

// selectTransition implements the five-step selection algorithm: gather
// candidates for (currentState, event), filter by match rules, filter by
// the specific triggering rule, filter by guard, first-match-wins in
// priority-then-declaration order. matched reports whether at least one
// candidate's event name matched the current state but every one was
// rejected by a match rule, specific triggering rule, or guard — the
// caller uses this to distinguish guard_failed from event_unhandled.
func (e *Engine) selectTransition(ctx context.Context, cm *compiledMachine, hooks *Hooks, inst *types.Instance, evt types.Event) (tr *types.Transition, matched bool, err error) {
	candidates := cm.candidates(inst.CurrentState, evt.Name)
	source := inst.PropertySource()

	for i := range candidates {
		cand := candidates[i]
		matched = true

		ok, err := matchRulesHold(cand, evt.Payload, source)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}

		ok, err = specificTriggeringRuleHolds(cand, evt, inst)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}

		ok, err = e.guardHolds(ctx, cand, hooks, inst, evt)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}

		return &candidates[i], true, nil
	}
	return nil, matched, nil
}

func matchRulesHold(tr types.Transition, eventPayload, source map[string]interface{}) (bool, error) {
	for _, rule := range tr.MatchRules {
		ok, err := expr.EvalMatchRule(rule, eventPayload, source)
		if err != nil {
			return false, types.Wrap(types.ErrGuardEvaluation, "match rule evaluation failed for transition "+tr.Name, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func specificTriggeringRuleHolds(tr types.Transition, evt types.Event, inst *types.Instance) (bool, error) {
	if tr.SpecificTriggeringRule == "" {
		return true, nil
	}
	env := expr.Env{
		"event":        map[string]interface{}{"name": evt.Name, "payload": evt.Payload},
		"context":      inst.Context,
		"publicMember": inst.PublicMember,
	}
	ok, err := expr.Eval(tr.SpecificTriggeringRule, env)
	if err != nil {
		return false, types.Wrap(types.ErrGuardEvaluation, "specific triggering rule failed for transition "+tr.Name, err)
	}
	return ok, nil
}

func (e *Engine) guardHolds(ctx context.Context, tr types.Transition, hooks *Hooks, inst *types.Instance, evt types.Event) (bool, error) {
	if tr.Guard == nil || tr.Guard.Kind == types.GuardNone {
		return true, nil
	}
	switch tr.Guard.Kind {
	case types.GuardKeys:
		source := inst.PropertySource()
		for _, k := range tr.Guard.Keys {
			if v, ok := expr.Lookup(source, k); !ok || v == nil {
				return false, nil
			}
		}
		return true, nil
	case types.GuardExpression:
		env := expr.Env{
			"event":        map[string]interface{}{"name": evt.Name, "payload": evt.Payload},
			"context":      inst.Context,
			"publicMember": inst.PublicMember,
		}
		ok, err := expr.Eval(tr.Guard.Expression, env)
		if err != nil {
			return false, types.Wrap(types.ErrGuardEvaluation, "guard expression failed for transition "+tr.Name, err)
		}
		return ok, nil
	case types.GuardCustomFunction:
		if tr.Guard.CustomFunction == nil {
			return false, types.New(types.ErrGuardEvaluation, "transition "+tr.Name+": customFunction guard missing reference")
		}
		fn := hooks.guard(tr.Guard.CustomFunction.Name)
		if fn == nil {
			return false, types.New(types.ErrGuardEvaluation, "transition "+tr.Name+": custom guard "+tr.Guard.CustomFunction.Name+" not registered")
		}
		ok, err := fn(ctx, inst, evt, tr.Guard.CustomFunction.Args)
		if err != nil {
			return false, types.Wrap(types.ErrGuardEvaluation, "custom guard "+tr.Guard.CustomFunction.Name+" failed", err)
		}
		return ok, nil
	default:
		return false, types.New(types.ErrGuardEvaluation, "transition "+tr.Name+": unknown guard kind")
	}
}
