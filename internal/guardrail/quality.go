package guardrail

import (
	"github.com/fyrsmithlabs/shipyard/internal/verification"
)

// QualityGateName identifies the quality-gate guardrail.
const QualityGateName = "quality_gate"

// VerificationChecker answers whether a passing verification exists for an
// exact (scope, id). *verification.Tracker implements it.
type VerificationChecker interface {
	HasPassing(scope verification.Scope, id string) bool
}

// QualityGate blocks completion claims that lack a passing verification.
// It has no warn state and passes when not at a completion boundary.
type QualityGate struct {
	checker VerificationChecker
}

func NewQualityGate(checker VerificationChecker) *QualityGate {
	return &QualityGate{checker: checker}
}

func (q *QualityGate) Name() string { return QualityGateName }

func (q *QualityGate) Check(gc Context) Result {
	claim := gc.Completion
	if claim == nil {
		return PassResult(q.Name())
	}
	if q.checker != nil && q.checker.HasPassing(claim.Scope, claim.ID) {
		return PassResult(q.Name())
	}
	return BlockResult(q.Name(), "%s %s claims completion without a passing verification", claim.Scope, claim.ID)
}
