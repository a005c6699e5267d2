// Package hierarchy models the Module → Component → Task → Subtask work tree.
//
// Nodes live in an arena owned by Tree and are addressed by NodeID. Each node
// stores its own lifecycle state; the state a composite node reports is
// always derived from its children and never stored.
package hierarchy

// Kind is the level of a node in the work tree.
type Kind string

const (
	KindModule    Kind = "module"
	KindComponent Kind = "component"
	KindTask      Kind = "task"
	KindSubtask   Kind = "subtask"
)

// ChildKind returns the only kind a node of kind k may own. Subtasks own
// nothing.
func (k Kind) ChildKind() (Kind, bool) {
	switch k {
	case KindModule:
		return KindComponent, true
	case KindComponent:
		return KindTask, true
	case KindTask:
		return KindSubtask, true
	default:
		return "", false
	}
}

// State is the lifecycle state of a node.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// ValidTransitions defines allowed state transitions. The table is the same
// for every node kind.
var ValidTransitions = map[State][]State{
	StatePending:    {StateInProgress},
	StateInProgress: {StateComplete, StateFailed},
	StateFailed:     {StateInProgress}, // retry
	StateComplete:   {},                // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ParseState converts a wire value into a State.
func ParseState(v string) (State, bool) {
	switch s := State(v); s {
	case StatePending, StateInProgress, StateComplete, StateFailed:
		return s, true
	}
	return "", false
}

// Aggregate folds child states into the state their parent reports:
// Complete iff all are Complete; else Failed iff any is Failed; else
// InProgress iff any is InProgress or Complete; else Pending. An empty
// slice aggregates to Pending.
func Aggregate(children []State) State {
	if len(children) == 0 {
		return StatePending
	}
	complete, progressed, failed := true, false, false
	for _, s := range children {
		switch s {
		case StateFailed:
			failed = true
			complete = false
		case StateInProgress:
			progressed = true
			complete = false
		case StateComplete:
			progressed = true
		default:
			complete = false
		}
	}
	switch {
	case complete:
		return StateComplete
	case failed:
		return StateFailed
	case progressed:
		return StateInProgress
	default:
		return StatePending
	}
}
