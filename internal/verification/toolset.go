package verification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
	"github.com/fyrsmithlabs/shipyard/internal/hierarchy"
	"github.com/fyrsmithlabs/shipyard/internal/metrics"
)

// Tool names exposed to the agent.
const (
	ToolVerifyTask      = "verify_task_completion"
	ToolVerifyComponent = "verify_component_completion"
	ToolVerifyModule    = "verify_module_completion"
	ToolUpdateStatus    = "update_task_status"
)

// Tool result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToolResult is the payload returned to the agent by every tool.
type ToolResult struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Passed  *bool           `json:"passed,omitempty"`
	Gaps    []string        `json:"gaps,omitempty"`
	State   hierarchy.State `json:"state,omitempty"`

	// Err is the cause behind an error status, or the malformed-response
	// error of a failed verdict. It stays server side.
	Err error `json:"-"`
}

// OK reports whether the tool succeeded.
func (r ToolResult) OK() bool { return r.Status == StatusSuccess }

func errorResult(cause error, format string, args ...any) ToolResult {
	return ToolResult{Status: StatusError, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Toolset binds the verification tools to one module's tree.
type Toolset struct {
	tree    *hierarchy.Tree
	oracle  *Oracle
	tracker *Tracker
	gate    *CompletionGate
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// ToolsetOption configures a Toolset.
type ToolsetOption func(*Toolset)

func WithToolsetLogger(l *zap.Logger) ToolsetOption {
	return func(t *Toolset) {
		if l != nil {
			t.logger = l.Named("tools")
		}
	}
}

func WithToolsetMetrics(m *metrics.Metrics) ToolsetOption {
	return func(t *Toolset) { t.metrics = m }
}

// NewToolset creates the tool handlers.
func NewToolset(tree *hierarchy.Tree, oracle *Oracle, tracker *Tracker, gate *CompletionGate, opts ...ToolsetOption) *Toolset {
	t := &Toolset{tree: tree, oracle: oracle, tracker: tracker, gate: gate, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// VerifyTaskCompletion asks the oracle whether evidence satisfies criteria
// for task id and records the verdict.
func (t *Toolset) VerifyTaskCompletion(ctx context.Context, id, evidence, criteria string) (ToolResult, error) {
	return t.verify(ctx, ScopeTask, id, evidence, criteria)
}

// VerifyComponentCompletion is VerifyTaskCompletion at component scope.
func (t *Toolset) VerifyComponentCompletion(ctx context.Context, id, evidence, criteria string) (ToolResult, error) {
	return t.verify(ctx, ScopeComponent, id, evidence, criteria)
}

// VerifyModuleCompletion is VerifyTaskCompletion at module scope.
func (t *Toolset) VerifyModuleCompletion(ctx context.Context, id, evidence, criteria string) (ToolResult, error) {
	return t.verify(ctx, ScopeModule, id, evidence, criteria)
}

func (t *Toolset) verify(ctx context.Context, scope Scope, id, evidence, criteria string) (ToolResult, error) {
	if res, ok := t.checkTarget(scope, id); !ok {
		return res, nil
	}
	key := Key{Scope: scope, ID: id}

	verdict, err := t.oracle.Verify(ctx, evidence, criteria)
	if err != nil {
		// Fail closed: a verification that could not run is a failed one.
		t.tracker.Record(key, false, []string{err.Error()})
		t.metrics.RecordVerification(string(scope), false)
		t.logger.Warn("verification could not run", zap.Stringer("target", key), zap.Error(err))
		return errorResult(err, "verification of %s could not run: %v", key, err), err
	}

	t.tracker.RecordVerdict(key, verdict)
	t.metrics.RecordVerification(string(scope), verdict.Passed)
	t.logger.Info("verification recorded",
		zap.Stringer("target", key),
		zap.Bool("passed", verdict.Passed),
		zap.Int("gaps", len(verdict.Gaps)),
	)

	passed := verdict.Passed
	return ToolResult{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("%s: %s", key, verdict),
		Passed:  &passed,
		Gaps:    verdict.Gaps,
		Err:     verdict.ErrMalformed(),
	}, nil
}

func (t *Toolset) checkTarget(scope Scope, id string) (ToolResult, bool) {
	nodeID, ok := t.tree.Lookup(id)
	if !ok {
		return errorResult(ErrUnknownTarget, "unknown %s %q", scope, id), false
	}
	info, err := t.tree.Node(nodeID)
	if err != nil {
		return errorResult(err, "%v", err), false
	}
	if got, _ := ScopeOf(info.Kind); got != scope {
		return errorResult(ErrInvalidScope, "%q is a %s, not a %s", id, info.Kind, scope), false
	}
	return ToolResult{}, true
}

// UpdateTaskStatus sets the status of the node with id. Completion is
// intercepted by the gate. Rejections are reported in the result, never as
// an error, so the agent can verify and try again.
func (t *Toolset) UpdateTaskStatus(_ context.Context, id, status string) ToolResult {
	target, ok := hierarchy.ParseState(status)
	if !ok {
		return errorResult(nil, "unknown status %q", status)
	}

	if err := t.gate.SetStatus(t.tree, id, target); err != nil {
		var mismatch *MismatchError
		var invalid *hierarchy.InvalidStateTransitionError
		switch {
		case errors.As(err, &mismatch):
			t.logger.Info("status update rejected by gate", zap.String("id", id), zap.String("reason", mismatch.Reason))
		case errors.As(err, &invalid):
			t.logger.Info("invalid status transition", zap.String("id", id), zap.Error(err))
		}
		return errorResult(err, "%v", err)
	}

	res := ToolResult{Status: StatusSuccess, Message: fmt.Sprintf("%s is now %s", id, target), State: target}
	if nodeID, ok := t.tree.Lookup(id); ok {
		if s, err := t.tree.State(nodeID); err == nil {
			res.State = s
		}
	}
	return res
}

// Definitions describes the tools for agent requests.
func (t *Toolset) Definitions() []agent.Tool {
	verifySchema := func(idField string) map[string]any {
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				idField:               map[string]any{"type": "string"},
				"evidence":            map[string]any{"type": "string", "description": "What was done and how it was checked"},
				"acceptance_criteria": map[string]any{"type": "string"},
			},
			"required": []string{idField, "evidence", "acceptance_criteria"},
		}
	}
	return []agent.Tool{
		{Name: ToolVerifyTask, Description: "Ask the independent oracle to verify a task before marking it complete", InputSchema: verifySchema("task_id")},
		{Name: ToolVerifyComponent, Description: "Ask the independent oracle to verify a component before marking it complete", InputSchema: verifySchema("component_id")},
		{Name: ToolVerifyModule, Description: "Ask the independent oracle to verify a module before marking it complete", InputSchema: verifySchema("module_id")},
		{
			Name:        ToolUpdateStatus,
			Description: "Set a task status. Completion requires a passing verification for the same id",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_id": map[string]any{"type": "string"},
					"status":  map[string]any{"type": "string", "enum": []string{"in_progress", "complete", "failed"}},
				},
				"required": []string{"task_id", "status"},
			},
		},
	}
}
