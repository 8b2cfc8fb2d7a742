package expr

import (
	"fmt"

	"github.com/fluxorio/flowmesh/internal/types"
)

// EvalMatchRule reports whether rule holds, comparing rule.EventProperty
// looked up in eventPayload against rule.InstanceProperty looked up in
// instanceSource (publicMember, or context when publicMember is unset).
// Operator defaults to "==" when empty. A missing path on either side
// only satisfies "!=" against a resolved other side.
func EvalMatchRule(rule types.MatchRule, eventPayload, instanceSource map[string]interface{}) (bool, error) {
	op := rule.Operator
	if op == "" {
		op = types.OpEqual
	}

	left, leftOK := Lookup(eventPayload, rule.EventProperty)
	right, rightOK := Lookup(instanceSource, rule.InstanceProperty)
	if !leftOK || !rightOK {
		return op == types.OpNotEqual && leftOK != rightOK, nil
	}
	return compare(left, op, right)
}

func compare(actual interface{}, op types.MatchOperator, want interface{}) (bool, error) {
	switch op {
	case types.OpEqual:
		return equalValues(actual, want), nil
	case types.OpNotEqual:
		return !equalValues(actual, want), nil
	case types.OpGreaterThan, types.OpLessThan, types.OpGreaterEqual, types.OpLessEqual:
		af, aok := toFloat(actual)
		wf, wok := toFloat(want)
		if !aok || !wok {
			return false, fmt.Errorf("expr: operator %q requires numeric operands, got %T and %T", op, actual, want)
		}
		switch op {
		case types.OpGreaterThan:
			return af > wf, nil
		case types.OpLessThan:
			return af < wf, nil
		case types.OpGreaterEqual:
			return af >= wf, nil
		case types.OpLessEqual:
			return af <= wf, nil
		}
	}
	return false, fmt.Errorf("expr: unknown operator %q", op)
}

func equalValues(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	default:
		return 0, false
	}
}
