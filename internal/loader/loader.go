// Package loader parses the declarative YAML/JSON component shape into
// types.Component. It does syntax-to-struct decoding only; declaration
// validation (dangling state/transition references, duplicate names)
// happens at engine.New construction time, matching the teacher's
// separation of config decoding (pkg/config/yaml.go) from domain
// validation (pkg/config/validator.go).
package loader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fluxorio/flowmesh/internal/types"
)

type yamlComponent struct {
	Name          string                 `yaml:"name"`
	EntryMachine  string                 `yaml:"entryMachine"`
	StateMachines []yamlStateMachine     `yaml:"stateMachines"`
}

type yamlStateMachine struct {
	Name             string                 `yaml:"name"`
	InitialState     string                 `yaml:"initialState"`
	PublicMemberType string                 `yaml:"publicMemberType"`
	ContextSchema    map[string]interface{} `yaml:"contextSchema"`
	SnapshotInterval int                    `yaml:"snapshotInterval"`
	States           []yamlState            `yaml:"states"`
	Transitions      []yamlTransition       `yaml:"transitions"`
}

type yamlState struct {
	Name           string           `yaml:"name"`
	Type           string           `yaml:"type"`
	OnEntry        string           `yaml:"onEntry"`
	EntryMethod    string           `yaml:"entryMethod"`
	OnExit         string           `yaml:"onExit"`
	ExitMethod     string           `yaml:"exitMethod"`
	CascadingRules []yamlCascade    `yaml:"cascadingRules"`
}

type yamlCascade struct {
	TargetMachine string                 `yaml:"targetMachine"`
	TargetState   string                 `yaml:"targetState"`
	Event         string                 `yaml:"event"`
	MatchingRules []yamlMatchingRule     `yaml:"matchingRules"`
	Payload       map[string]interface{} `yaml:"payload"`
}

type yamlGuard struct {
	Keys           []string          `yaml:"keys"`
	Expression     string            `yaml:"expression"`
	CustomFunction string            `yaml:"customFunction"`
	Args           []interface{}     `yaml:"args"`
}

type yamlMatchingRule struct {
	EventProperty    string `yaml:"eventProperty"`
	InstanceProperty string `yaml:"instanceProperty"`
	Operator         string `yaml:"operator"`
}

type yamlTransition struct {
	Name                   string                 `yaml:"name"`
	From                   string                 `yaml:"from"`
	To                     string                 `yaml:"to"`
	Event                  string                 `yaml:"event"`
	Type                   string                 `yaml:"type"`
	Priority               int                    `yaml:"priority"`
	TimeoutMs              int                    `yaml:"timeoutMs"`
	ResetOnSelfLoop        bool                   `yaml:"resetOnSelfLoop"`
	Guards                 []yamlGuard            `yaml:"guards"`
	MatchingRules          []yamlMatchingRule     `yaml:"matchingRules"`
	SpecificTriggeringRule string                 `yaml:"specificTriggeringRule"`
	TriggeredMethod        string                 `yaml:"triggeredMethod"`
	TargetMachine          string                 `yaml:"targetMachine"`
	ContextMapping         map[string]string      `yaml:"contextMapping"`
}

// LoadFile reads and parses a YAML component declaration from path.
func LoadFile(path string) (types.Component, error) {
	// #nosec G304 -- path is supplied by the operator launching the runtime.
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Component{}, fmt.Errorf("loader: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML bytes into a types.Component.
func Parse(data []byte) (types.Component, error) {
	var yc yamlComponent
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return types.Component{}, fmt.Errorf("loader: failed to unmarshal component: %w", err)
	}
	return yc.toComponent(), nil
}

func (yc yamlComponent) toComponent() types.Component {
	machines := make([]types.StateMachine, 0, len(yc.StateMachines))
	for _, m := range yc.StateMachines {
		machines = append(machines, m.toStateMachine())
	}
	return types.Component{Name: yc.Name, StateMachines: machines}
}

func (m yamlStateMachine) toStateMachine() types.StateMachine {
	states := make([]types.State, 0, len(m.States))
	for _, s := range m.States {
		states = append(states, s.toState())
	}
	transitions := make([]types.Transition, 0, len(m.Transitions))
	for _, t := range m.Transitions {
		transitions = append(transitions, t.toTransition())
	}
	return types.StateMachine{
		Name:             m.Name,
		InitialState:     m.InitialState,
		States:           states,
		Transitions:      transitions,
		SnapshotInterval: m.SnapshotInterval,
		PublicMemberType: m.PublicMemberType,
	}
}

func (s yamlState) toState() types.State {
	cascades := make([]types.CascadeRule, 0, len(s.CascadingRules))
	for _, c := range s.CascadingRules {
		cascades = append(cascades, c.toCascadeRule())
	}
	return types.State{Name: s.Name, Kind: stateKind(s.Type), Cascades: cascades}
}

func (c yamlCascade) toCascadeRule() types.CascadeRule {
	matchRules := make([]types.MatchRule, 0, len(c.MatchingRules))
	for _, r := range c.MatchingRules {
		op := types.MatchOperator(r.Operator)
		if op == "" {
			op = types.OpEqual
		}
		matchRules = append(matchRules, types.MatchRule{
			EventProperty:    r.EventProperty,
			InstanceProperty: r.InstanceProperty,
			Operator:         op,
		})
	}
	return types.CascadeRule{
		TargetMachine:   c.TargetMachine,
		TargetState:     c.TargetState,
		EventName:       c.Event,
		MatchRules:      matchRules,
		PayloadTemplate: c.Payload,
	}
}

func stateKind(t string) types.StateKind {
	switch t {
	case "entry":
		return types.StateEntry
	case "final":
		return types.StateFinal
	case "error":
		return types.StateError
	default:
		return types.StateRegular
	}
}

func transitionKind(t string) types.TransitionKind {
	switch t {
	case "auto":
		return types.TransitionAuto
	case "timeout":
		return types.TransitionTimeout
	case "inter_machine":
		return types.TransitionInterMachine
	case "internal":
		return types.TransitionInternal
	default:
		return types.TransitionRegular
	}
}

func (t yamlTransition) toTransition() types.Transition {
	matchRules := make([]types.MatchRule, 0, len(t.MatchingRules))
	for _, r := range t.MatchingRules {
		op := types.MatchOperator(r.Operator)
		if op == "" {
			op = types.OpEqual
		}
		matchRules = append(matchRules, types.MatchRule{
			EventProperty:    r.EventProperty,
			InstanceProperty: r.InstanceProperty,
			Operator:         op,
		})
	}

	mapping := make([]types.ContextMapping, 0, len(t.ContextMapping))
	for target, source := range t.ContextMapping {
		mapping = append(mapping, types.ContextMapping{SourcePath: source, TargetPath: target})
	}

	return types.Transition{
		Name:                   t.Name,
		From:                   t.From,
		To:                     t.To,
		Event:                  t.Event,
		Kind:                   transitionKind(t.Type),
		Priority:               t.Priority,
		TimeoutMs:              t.TimeoutMs,
		ResetOnSelfLoop:        t.ResetOnSelfLoop,
		MatchRules:             matchRules,
		SpecificTriggeringRule: t.SpecificTriggeringRule,
		Guard:                  firstGuard(t.Guards),
		InterMachineTarget:     t.TargetMachine,
		ContextMapping:         mapping,
	}
}

func firstGuard(guards []yamlGuard) *types.Guard {
	if len(guards) == 0 {
		return nil
	}
	g := guards[0]
	switch {
	case g.CustomFunction != "":
		return &types.Guard{
			Kind:           types.GuardCustomFunction,
			CustomFunction: &types.CustomFunctionRef{Name: g.CustomFunction, Args: g.Args},
		}
	case g.Expression != "":
		return &types.Guard{Kind: types.GuardExpression, Expression: g.Expression}
	case len(g.Keys) > 0:
		return &types.Guard{Kind: types.GuardKeys, Keys: g.Keys}
	default:
		return nil
	}
}
