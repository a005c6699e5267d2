// Package guardrail evaluates policies before and around each agent action.
//
// Every guardrail maps a Context to a Result of Pass, Warn or Block. A
// Pipeline runs all of them and keeps the most severe result.
package guardrail

import (
	"fmt"

	"github.com/fyrsmithlabs/shipyard/internal/verification"
)

// Severity ranks guardrail outcomes: Pass < Warn < Block.
type Severity int

const (
	SeverityPass Severity = iota
	SeverityWarn
	SeverityBlock
)

func (s Severity) String() string {
	switch s {
	case SeverityPass:
		return "pass"
	case SeverityWarn:
		return "warn"
	case SeverityBlock:
		return "block"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pass":
		*s = SeverityPass
	case "warn":
		*s = SeverityWarn
	case "block":
		*s = SeverityBlock
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Result is the outcome of one guardrail. Message is empty for Pass.
type Result struct {
	Guardrail string   `json:"guardrail"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message,omitempty"`
}

// PassResult, WarnResult and BlockResult build results for guardrail name.
func PassResult(name string) Result { return Result{Guardrail: name, Severity: SeverityPass} }

func WarnResult(name, format string, args ...any) Result {
	return Result{Guardrail: name, Severity: SeverityWarn, Message: fmt.Sprintf(format, args...)}
}

func BlockResult(name, format string, args ...any) Result {
	return Result{Guardrail: name, Severity: SeverityBlock, Message: fmt.Sprintf(format, args...)}
}

// CompletionClaim marks an evaluation at a completion boundary.
type CompletionClaim struct {
	Scope verification.Scope
	ID    string
}

// Context is the immutable input to one evaluation.
type Context struct {
	Module string
	// Task is empty when the evaluation is not task-scoped.
	Task string
	// Attempt is the 1-based attempt number for Task. Zero lets the churn
	// detector count attempts itself.
	Attempt int
	// ToolCalls is the tool-call count within the current invocation.
	ToolCalls  int
	Completion *CompletionClaim
}

// Guardrail is one independently configured policy.
type Guardrail interface {
	Name() string
	Check(gc Context) Result
}
