package verification

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/hierarchy"
	"github.com/fyrsmithlabs/shipyard/internal/metrics"
)

// CompletionGate refuses completion updates that lack a current, passing
// verification for exactly the same (scope, id). A record that satisfies
// the gate stays in the tracker until the next Reset.
type CompletionGate struct {
	tracker *Tracker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// GateOption configures a CompletionGate.
type GateOption func(*CompletionGate)

func WithGateLogger(l *zap.Logger) GateOption {
	return func(g *CompletionGate) {
		if l != nil {
			g.logger = l.Named("gate")
		}
	}
}

func WithGateMetrics(m *metrics.Metrics) GateOption {
	return func(g *CompletionGate) { g.metrics = m }
}

// NewCompletionGate creates a gate reading tracker.
func NewCompletionGate(tracker *Tracker, opts ...GateOption) *CompletionGate {
	g := &CompletionGate{tracker: tracker, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize returns *MismatchError unless a passing record exists for
// (scope, id).
func (g *CompletionGate) Authorize(scope Scope, id string) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	key := Key{Scope: scope, ID: id}
	rec, ok := g.tracker.Lookup(key)

	var err error
	switch {
	case !ok:
		err = &MismatchError{Key: key, Reason: "no verification recorded; call the verification tool first"}
	case !rec.Passed:
		reason := "latest verification failed"
		if len(rec.Gaps) > 0 {
			reason += ": " + strings.Join(rec.Gaps, "; ")
		}
		err = &MismatchError{Key: key, Reason: reason}
	}

	g.metrics.RecordGateDecision(string(scope), err == nil)
	if err != nil {
		g.logger.Info("completion rejected", zap.String("scope", string(scope)), zap.String("id", id), zap.Error(err))
		return err
	}
	g.logger.Debug("completion authorized", zap.String("scope", string(scope)), zap.String("id", id))
	return nil
}

// SetStatus applies target to the node with key. Completion of task,
// component and module nodes must pass Authorize first; subtasks and every
// other transition pass straight through to the tree.
func (g *CompletionGate) SetStatus(tree *hierarchy.Tree, key string, target hierarchy.State) error {
	id, ok := tree.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, key)
	}
	info, err := tree.Node(id)
	if err != nil {
		return err
	}

	if target == hierarchy.StateComplete {
		if scope, gated := ScopeOf(info.Kind); gated {
			if err := g.Authorize(scope, key); err != nil {
				return err
			}
		}
	}
	return tree.TransitionTo(id, target)
}

// ScopeOf maps a node kind to its verification scope. Subtasks have none.
func ScopeOf(k hierarchy.Kind) (Scope, bool) {
	switch k {
	case hierarchy.KindTask:
		return ScopeTask, true
	case hierarchy.KindComponent:
		return ScopeComponent, true
	case hierarchy.KindModule:
		return ScopeModule, true
	default:
		return "", false
	}
}
