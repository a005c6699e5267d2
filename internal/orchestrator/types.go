package orchestrator

import (
	"fmt"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
	"github.com/fyrsmithlabs/shipyard/internal/failure"
	"github.com/fyrsmithlabs/shipyard/internal/guardrail"
	"github.com/fyrsmithlabs/shipyard/internal/hierarchy"
	"github.com/fyrsmithlabs/shipyard/internal/verification"
	"github.com/fyrsmithlabs/shipyard/internal/workflow"
)

// Config holds the loop's thresholds. The host supplies it; the loop never
// reads configuration itself.
type Config struct {
	// Model is used for work invocations, OracleModel for verification.
	Model       string
	OracleModel string

	MaxIterations int

	// Premium-request budget and the usage ratios that warn and block.
	Budget     int
	WarnRatio  float64
	BlockRatio float64

	// ChurnThreshold must exceed FailureThreshold so a task that keeps
	// failing is escalated to a human before churn blocks the loop.
	ChurnThreshold    int
	ToolCallThreshold int
	FailureThreshold  int

	// RateLimit is invocations per second; 0 disables throttling.
	RateLimit float64
	Burst     int
}

// DefaultConfig returns the defaults shipyard ships with.
func DefaultConfig() Config {
	return Config{
		OracleModel:       "gpt-4.1",
		MaxIterations:     100,
		Budget:            300,
		WarnRatio:         0.8,
		BlockRatio:        0.95,
		ChurnThreshold:    4,
		ToolCallThreshold: 50,
		FailureThreshold:  3,
		Burst:             1,
	}
}

// Validate checks thresholds before any component is built.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %d", c.Budget)
	}
	if c.WarnRatio <= 0 || c.WarnRatio >= c.BlockRatio || c.BlockRatio > 1 {
		return fmt.Errorf("need 0 < warn ratio (%v) < block ratio (%v) <= 1", c.WarnRatio, c.BlockRatio)
	}
	if c.ChurnThreshold < 1 || c.ToolCallThreshold < 1 || c.FailureThreshold < 1 {
		return fmt.Errorf("churn, tool-call and failure thresholds must be >= 1")
	}
	if c.ChurnThreshold <= c.FailureThreshold {
		return fmt.Errorf("churn threshold (%d) must be greater than failure threshold (%d)",
			c.ChurnThreshold, c.FailureThreshold)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit)
	}
	return nil
}

// Iteration names the node the agent works on next.
type Iteration struct {
	// Target is a node key in the work tree. Empty means the module.
	Target string `json:"target"`
}

// Result classifies how an iteration or run ended.
type Result string

const (
	ResultCompleted     Result = "completed"
	ResultRetry         Result = "retry"
	ResultPlanned       Result = "planned"
	ResultBlocked       Result = "blocked"
	ResultNeedsUser     Result = "needs_user"
	ResultCritical      Result = "critical"
	ResultAwaitApproval Result = "awaiting_approval"
	ResultModuleDone    Result = "module_complete"
	ResultLimitReached  Result = "iteration_limit"
)

// Outcome reports one iteration.
type Outcome struct {
	Module   string                  `json:"module"`
	Target   string                  `json:"target,omitempty"`
	Kind     hierarchy.Kind          `json:"kind,omitempty"`
	Result   Result                  `json:"result"`
	Step     workflow.Step           `json:"step"`
	Decision *guardrail.Decision     `json:"decision,omitempty"`
	Failure  *failure.Classification `json:"failure,omitempty"`
	Response *agent.Response         `json:"response,omitempty"`
	Warnings []string                `json:"warnings,omitempty"`
}

// Status is a point-in-time snapshot of a runner.
type Status struct {
	Module          string                `json:"module"`
	RunID           string                `json:"run_id"`
	Phase           workflow.Phase        `json:"phase"`
	Step            workflow.Step         `json:"step"`
	Approved        bool                  `json:"approved"`
	State           hierarchy.State       `json:"state"`
	Summary         hierarchy.Summary     `json:"summary"`
	Paused          bool                  `json:"paused"`
	Iterations      int                   `json:"iterations"`
	PremiumRequests int                   `json:"premium_requests"`
	Verifications   []verification.Record `json:"verifications"`
	LastOutcome     *Outcome              `json:"last_outcome,omitempty"`
}

// Progress is delivered to a ProgressCallback after each iteration.
type Progress struct {
	Module    string        `json:"module"`
	Iteration int           `json:"iteration"`
	Step      workflow.Step `json:"step"`
	Outcome   Outcome       `json:"outcome"`
}

// ProgressCallback receives progress updates during Run.
type ProgressCallback func(Progress)
