// Package types holds the wire and in-memory data model shared by every
// flowmesh subsystem: component declarations, state machine definitions,
// runtime instances, and the event-sourced persistence shapes.
package types

import (
	"time"

	"github.com/fluxorio/flowmesh/internal/timer"
)

// StateKind classifies a State within its owning machine.
type StateKind string

const (
	StateEntry   StateKind = "entry"
	StateRegular StateKind = "regular"
	StateFinal   StateKind = "final"
	StateError   StateKind = "error"
)

// TransitionKind classifies how a Transition is triggered.
type TransitionKind string

const (
	TransitionRegular      TransitionKind = "regular"
	TransitionAuto         TransitionKind = "auto"
	TransitionTimeout      TransitionKind = "timeout"
	TransitionInterMachine TransitionKind = "inter_machine"
	TransitionInternal     TransitionKind = "internal"
)

// GuardKind classifies how a Transition's guard is evaluated.
type GuardKind string

const (
	GuardNone           GuardKind = ""
	GuardKeys           GuardKind = "keys"
	GuardExpression     GuardKind = "expression"
	GuardCustomFunction GuardKind = "customFunction"
)

// MatchOperator is a comparison operator usable in a MatchRule.
type MatchOperator string

const (
	OpEqual        MatchOperator = "=="
	OpNotEqual     MatchOperator = "!="
	OpGreaterThan  MatchOperator = ">"
	OpLessThan     MatchOperator = "<"
	OpGreaterEqual MatchOperator = ">="
	OpLessEqual    MatchOperator = "<="
)

// MatchRule compares a dotted path into the triggering event's payload
// against a dotted path into the instance's publicMember (or context,
// when publicMember is unset). Operator defaults to "==" when empty.
type MatchRule struct {
	EventProperty    string        `json:"eventProperty" yaml:"eventProperty"`
	InstanceProperty string        `json:"instanceProperty" yaml:"instanceProperty"`
	Operator         MatchOperator `json:"operator,omitempty" yaml:"operator,omitempty"`
}

// CustomFunctionRef names a registered Go guard function plus its static
// argument list.
type CustomFunctionRef struct {
	Name string        `json:"name" yaml:"name"`
	Args []interface{} `json:"args,omitempty" yaml:"args,omitempty"`
}

// Guard conditions whether a Transition may fire.
type Guard struct {
	Kind GuardKind `json:"kind" yaml:"kind"`
	// Keys: all of these dotted paths must be present (non-nil) on the
	// matched property source.
	Keys []string `json:"keys,omitempty" yaml:"keys,omitempty"`
	// Expression: a fixed-grammar boolean expression, see package expr.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
	// CustomFunction: a Go guard registered on the owning Component.
	CustomFunction *CustomFunctionRef `json:"customFunction,omitempty" yaml:"customFunction,omitempty"`
}

// ContextMapping projects fields from a source instance's context into the
// target instance created/addressed by an inter-machine transition.
type ContextMapping struct {
	// SourcePath is a dotted path read from the firing instance's property
	// source (context or publicMember).
	SourcePath string `json:"sourcePath" yaml:"sourcePath"`
	// TargetPath is the dotted path written into the target instance's
	// initial context.
	TargetPath string `json:"targetPath" yaml:"targetPath"`
}

// CascadeRule fires a broadcast event at another (or the same) machine
// whenever its owning State is entered, by any transition.
type CascadeRule struct {
	// TargetMachine is empty to mean "same machine".
	TargetMachine string `json:"targetMachine,omitempty" yaml:"targetMachine,omitempty"`
	// TargetState, if set, scopes the broadcast to target machine
	// instances currently in that state.
	TargetState string `json:"targetState,omitempty" yaml:"targetState,omitempty"`
	// MatchRules, if set, must all hold (evaluated against the
	// broadcast's own payload and each candidate target instance) for
	// that instance to receive the cascade.
	MatchRules []MatchRule `json:"matchingRules,omitempty" yaml:"matchingRules,omitempty"`
	EventName  string      `json:"eventName" yaml:"eventName"`
	// PayloadTemplate may use "{{dotted.path}}" placeholders resolved
	// against the firing instance's property source.
	PayloadTemplate map[string]interface{} `json:"payloadTemplate,omitempty" yaml:"payloadTemplate,omitempty"`
}

// Transition is one edge of a StateMachine.
type Transition struct {
	Name string `json:"name" yaml:"name"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	// Event is the triggering event name. Empty for Kind==auto.
	Event    string         `json:"event,omitempty" yaml:"event,omitempty"`
	Kind     TransitionKind `json:"kind" yaml:"kind"`
	Priority int            `json:"priority,omitempty" yaml:"priority,omitempty"`

	// MatchRules must all hold against the property source for the
	// transition to be a candidate.
	MatchRules []MatchRule `json:"matchRules,omitempty" yaml:"matchRules,omitempty"`
	// SpecificTriggeringRule is a fixed-grammar boolean expression over
	// {event, context, publicMember}; evaluated after MatchRules.
	SpecificTriggeringRule string `json:"specificTriggeringRule,omitempty" yaml:"specificTriggeringRule,omitempty"`
	Guard                  *Guard `json:"guard,omitempty" yaml:"guard,omitempty"`

	// TimeoutMs applies to Kind==timeout (fire if no other transition out
	// of From happens within TimeoutMs) and Kind==auto (fire after
	// TimeoutMs with no triggering event, 0 meaning "immediately after
	// commit of the transition that entered From").
	TimeoutMs int64 `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	// ResetOnSelfLoop: if From==To, restart this transition's pending
	// timer instead of leaving the original deadline running.
	ResetOnSelfLoop bool `json:"resetOnSelfLoop,omitempty" yaml:"resetOnSelfLoop,omitempty"`

	// InterMachineTarget names the machine an inter_machine transition
	// addresses. A machine of the same component is created locally;
	// any other name is passed through the registry as both the
	// component name and the machine name. A "component.machine" form is
	// not parsed.
	InterMachineTarget string           `json:"interMachineTarget,omitempty" yaml:"interMachineTarget,omitempty"`
	ContextMapping     []ContextMapping `json:"contextMapping,omitempty" yaml:"contextMapping,omitempty"`
}

// State is one node of a StateMachine.
type State struct {
	Name string    `json:"name" yaml:"name"`
	Kind StateKind `json:"kind" yaml:"kind"`
	// Cascades fire on every entry into this state, regardless of which
	// transition caused it.
	Cascades []CascadeRule `json:"cascades,omitempty" yaml:"cascades,omitempty"`
}

// StateMachine declares the states and transitions of one workflow
// definition inside a Component.
type StateMachine struct {
	Name         string       `json:"name" yaml:"name"`
	InitialState string       `json:"initialState" yaml:"initialState"`
	States       []State      `json:"states" yaml:"states"`
	Transitions  []Transition `json:"transitions" yaml:"transitions"`
	// SnapshotInterval, if > 0, snapshots an instance every N committed
	// events instead of relying purely on the append log for restore.
	SnapshotInterval int `json:"snapshotInterval,omitempty" yaml:"snapshotInterval,omitempty"`
	// PublicMemberType, when set, declares that createInstance should
	// seed Instance.PublicMember from the initial payload instead of
	// Context — matching rules and guards then read from PublicMember.
	// The string is a declaration-only label (the target shape); no
	// schema validation is performed against it.
	PublicMemberType string `json:"publicMemberType,omitempty" yaml:"publicMemberType,omitempty"`
}

// Component groups one or more StateMachines under a single routable name.
type Component struct {
	Name          string         `json:"name" yaml:"name"`
	StateMachines []StateMachine `json:"stateMachines" yaml:"stateMachines"`
}

// InstanceStatus is the lifecycle status of a running Instance.
type InstanceStatus string

const (
	InstanceActive   InstanceStatus = "active"
	InstanceDisposed InstanceStatus = "disposed"
)

// Instance is one running execution of a StateMachine.
type Instance struct {
	ID           string                 `json:"id"`
	Component    string                 `json:"component"`
	Machine      string                 `json:"machine"`
	CurrentState string                 `json:"currentState"`
	Context      map[string]interface{} `json:"context"`
	// PublicMember, when non-nil, is the property source used by matching
	// rules and keys guards instead of Context. Expression rules see both
	// names.
	PublicMember map[string]interface{} `json:"publicMember,omitempty"`
	Status       InstanceStatus         `json:"status"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// PropertySource returns the map matching rules should read from: the
// public member projection if set, else the full context.
func (i *Instance) PropertySource() map[string]interface{} {
	if i.PublicMember != nil {
		return i.PublicMember
	}
	return i.Context
}

// Event is an inbound trigger sent to an Instance or broadcast to a
// StateMachine.
type Event struct {
	Name      string                 `json:"name"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// PersistedEvent is one append-only record of a committed state change.
type PersistedEvent struct {
	ID          string                 `json:"id"`
	InstanceID  string                 `json:"instanceId"`
	Component   string                 `json:"component"`
	Machine     string                 `json:"machine"`
	StateBefore string                 `json:"stateBefore"`
	StateAfter  string                 `json:"stateAfter"`
	Event       string                 `json:"event,omitempty"`
	Transition  string                 `json:"transition,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	CausedBy    string                 `json:"causedBy,omitempty"`
	PersistedAt time.Time              `json:"persistedAt"`
}

// PendingTimeout is one armed timeout/auto transition captured in a
// Snapshot, so restore can resync timers directly from the snapshot
// instead of recomputing due times from an instance's UpdatedAt.
type PendingTimeout struct {
	State      string     `json:"state"`
	Kind       timer.Kind `json:"kind"`
	Transition string     `json:"transition"`
	DueAt      time.Time  `json:"dueAt"`
}

// Snapshot is a point-in-time materialization of an Instance, used to
// bound restore replay length. It carries the full Instance projection
// (state, context/publicMember, status) plus enough timer and log
// position bookkeeping for a warm restart to resync without replaying
// the full event log.
type Snapshot struct {
	InstanceID   string                 `json:"instanceId"`
	State        string                 `json:"state"`
	Context      map[string]interface{} `json:"context"`
	PublicMember map[string]interface{} `json:"publicMember,omitempty"`
	Status       InstanceStatus         `json:"status"`
	// EventSeq is the count of events already folded into this snapshot;
	// restore only replays events after EventSeq.
	EventSeq int `json:"eventSeq"`
	// LastEventID is the ID of the last persisted event folded into this
	// snapshot, for causal tracing and audit across a restart.
	LastEventID string `json:"lastEventId,omitempty"`
	// PendingTimeouts captures every timer armed for this instance at
	// snapshot time, so restore can resync them directly.
	PendingTimeouts []PendingTimeout `json:"pendingTimeouts,omitempty"`
	SnapshotAt      time.Time        `json:"snapshotAt"`
}
