package guardrail

import (
	"fmt"
)

// ResourceLimitName identifies the resource-limit guardrail.
const ResourceLimitName = "resource_limit"

// UsageReporter exposes premium-request consumption.
type UsageReporter interface {
	PremiumRequests() int
}

// UsageFunc adapts a function to UsageReporter.
type UsageFunc func() int

func (f UsageFunc) PremiumRequests() int { return f() }

// ResourceLimit compares premium-request usage with a budget.
type ResourceLimit struct {
	budget     int
	warnRatio  float64
	blockRatio float64
	usage      UsageReporter
}

// NewResourceLimit validates thresholds: budget > 0 and
// 0 < warnRatio < blockRatio.
func NewResourceLimit(budget int, warnRatio, blockRatio float64, usage UsageReporter) (*ResourceLimit, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("resource limit: budget must be positive, got %d", budget)
	}
	if warnRatio <= 0 || warnRatio >= blockRatio {
		return nil, fmt.Errorf("resource limit: need 0 < warn ratio (%v) < block ratio (%v)", warnRatio, blockRatio)
	}
	if usage == nil {
		return nil, fmt.Errorf("resource limit: usage reporter is required")
	}
	return &ResourceLimit{budget: budget, warnRatio: warnRatio, blockRatio: blockRatio, usage: usage}, nil
}

func (r *ResourceLimit) Name() string { return ResourceLimitName }

func (r *ResourceLimit) Check(Context) Result {
	used := r.usage.PremiumRequests()
	ratio := float64(used) / float64(r.budget)
	switch {
	case ratio >= r.blockRatio:
		return BlockResult(r.Name(), "premium request budget exhausted: %d of %d used (%.0f%%)", used, r.budget, ratio*100)
	case ratio >= r.warnRatio:
		return WarnResult(r.Name(), "premium request budget at %.0f%%: %d of %d used", ratio*100, used, r.budget)
	default:
		return PassResult(r.Name())
	}
}
