package agent

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/shipyard/internal/metrics"
)

// Meter wraps an Invoker and accumulates premium-request usage. Every
// successful call counts at least one premium request, even when the
// client reports none. A successful call never returns a nil Response.
// Meter satisfies the guardrail usage contract.
type Meter struct {
	next    Invoker
	metrics *metrics.Metrics

	mu      sync.Mutex
	premium int
	calls   int
	failed  int
}

// NewMeter wraps next. m may be nil.
func NewMeter(next Invoker, m *metrics.Metrics) *Meter {
	return &Meter{next: next, metrics: m}
}

func (m *Meter) Invoke(ctx context.Context, req Request) (*Response, error) {
	resp, err := m.next.Invoke(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failed++
		m.metrics.RecordInvocation("error")
		return nil, err
	}
	if resp == nil {
		resp = &Response{}
	}
	m.calls++
	used := 1
	if resp.Usage.PremiumRequests > used {
		used = resp.Usage.PremiumRequests
	}
	m.premium += used
	m.metrics.RecordInvocation("ok")
	return resp, nil
}

// PremiumRequests returns total premium requests consumed so far.
func (m *Meter) PremiumRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.premium
}

// Calls returns the number of successful and failed invocations.
func (m *Meter) Calls() (ok, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls, m.failed
}
