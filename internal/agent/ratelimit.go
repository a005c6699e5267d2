package agent

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped Invoker. It waits for a token
// and never retries.
type RateLimited struct {
	next    Invoker
	limiter *rate.Limiter
}

// NewRateLimited allows rps calls per second with the given burst. A
// non-positive rps disables throttling. Burst is raised to 1 if needed.
func NewRateLimited(next Invoker, rps float64, burst int) *RateLimited {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("agent rate limit: %w", err)
	}
	return r.next.Invoke(ctx, req)
}
