package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/hierarchy"
	"github.com/fyrsmithlabs/shipyard/internal/verification"
)

const instrumentationName = "github.com/fyrsmithlabs/shipyard/internal/mcp"

// Tool call outcomes.
const (
	outcomePassed      = "passed"   // oracle accepted the claim
	outcomeFailed      = "failed"   // oracle found gaps
	outcomeUpdated     = "updated"  // status change applied
	outcomeRejected    = "rejected" // completion without a passing verification
	outcomeInvalid     = "invalid"
	outcomeMalformed   = "oracle_malformed"
	outcomeUnavailable = "oracle_unavailable"
	outcomeTimeout     = "timeout"
	outcomeError       = "error"
)

// toolMetrics instruments the verification tools one module's server
// exposes. Every instrument carries the module so a registry serving
// several modules can tell their agents apart.
type toolMetrics struct {
	module   attribute.KeyValue
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
	gaps     metric.Int64Histogram
}

func newToolMetrics(meter metric.Meter, module string, logger *zap.Logger) *toolMetrics {
	m := &toolMetrics{module: attribute.String("module", module)}

	var err error
	m.calls, err = meter.Int64Counter(
		"shipyard.mcp.tool_calls_total",
		metric.WithDescription("Verification tool calls by tool, module and outcome."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create tool calls counter", zap.Error(err))
	}

	// Verify tools wait on an oracle round-trip, so the buckets reach minutes.
	m.duration, err = meter.Float64Histogram(
		"shipyard.mcp.tool_call_duration_seconds",
		metric.WithDescription("Verification tool call latency by tool and module."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 180),
	)
	if err != nil {
		logger.Warn("failed to create tool duration histogram", zap.Error(err))
	}

	m.active, err = meter.Int64UpDownCounter(
		"shipyard.mcp.tool_calls_active",
		metric.WithDescription("Verification tool calls in progress."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create active tool calls gauge", zap.Error(err))
	}

	m.gaps, err = meter.Int64Histogram(
		"shipyard.mcp.verdict_gaps",
		metric.WithDescription("Unmet criteria reported per failed verdict."),
		metric.WithUnit("{gap}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 8, 13),
	)
	if err != nil {
		logger.Warn("failed to create verdict gaps histogram", zap.Error(err))
	}
	return m
}

// begin marks a call to tool as active. The returned func records its
// result and must be called exactly once.
func (m *toolMetrics) begin(ctx context.Context, tool string) func(verification.ToolResult, error) {
	start := time.Now()
	base := []attribute.KeyValue{attribute.String("tool", tool), m.module}
	if m.active != nil {
		m.active.Add(ctx, 1, metric.WithAttributes(base...))
	}

	return func(res verification.ToolResult, err error) {
		if m.active != nil {
			m.active.Add(ctx, -1, metric.WithAttributes(base...))
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(base...))
		}
		outcome := outcomeOf(res, err)
		if m.calls != nil {
			attrs := append(append([]attribute.KeyValue{}, base...), attribute.String("outcome", outcome))
			m.calls.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		if outcome == outcomeFailed && m.gaps != nil {
			m.gaps.Record(ctx, int64(len(res.Gaps)), metric.WithAttributes(base...))
		}
	}
}

// outcomeOf classifies a tool call. err is set only when the oracle could
// not be consulted.
func outcomeOf(res verification.ToolResult, err error) string {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return outcomeTimeout
		}
		return outcomeUnavailable
	}

	if res.OK() {
		switch {
		case errors.Is(res.Err, verification.ErrMalformedOracleResponse):
			return outcomeMalformed
		case res.Passed == nil:
			return outcomeUpdated
		case *res.Passed:
			return outcomePassed
		default:
			return outcomeFailed
		}
	}

	switch cause := res.Err; {
	case errors.Is(cause, verification.ErrVerificationMismatch):
		return outcomeRejected
	case cause == nil,
		errors.Is(cause, verification.ErrUnknownTarget),
		errors.Is(cause, verification.ErrInvalidScope),
		errors.Is(cause, hierarchy.ErrInvalidStateTransition),
		errors.Is(cause, hierarchy.ErrNodeNotFound):
		return outcomeInvalid
	default:
		return outcomeError
	}
}
