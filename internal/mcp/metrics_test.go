package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/shipyard/internal/hierarchy"
	"github.com/fyrsmithlabs/shipyard/internal/verification"
)

func newMeteredServer(t *testing.T, verdict string) (*mcp.ClientSession, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	cfg := DefaultConfig()
	cfg.Meter = mp.Meter(instrumentationName)
	s, err := NewServer(cfg, newTestProvider(t, verdict))
	require.NoError(t, err)
	return connect(t, s), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func value(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.Emit()
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) {
	t.Helper()
	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
}

func TestToolMetrics_OutcomesPerModule(t *testing.T) {
	cs, reader := newMeteredServer(t, `{"pass": false, "gaps": ["no tests", "no docs"]}`)

	callTool(t, cs, verification.ToolUpdateStatus, map[string]any{"task_id": "c1.t1", "status": "complete"})
	callTool(t, cs, verification.ToolVerifyTask, map[string]any{
		"task_id": "c1.t1", "evidence": "wrote code", "acceptance_criteria": "tested",
	})
	callTool(t, cs, verification.ToolVerifyComponent, map[string]any{
		"component_id": "c1.t1", "evidence": "e", "acceptance_criteria": "c",
	})
	callTool(t, cs, verification.ToolUpdateStatus, map[string]any{"task_id": "c1.t1", "status": "done"})
	callTool(t, cs, verification.ToolUpdateStatus, map[string]any{"task_id": "c1.t1", "status": "failed"})

	metrics := collect(t, reader)
	require.Contains(t, metrics, "shipyard.mcp.tool_calls_total")
	require.Contains(t, metrics, "shipyard.mcp.tool_call_duration_seconds")

	calls, ok := metrics["shipyard.mcp.tool_calls_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	type key struct{ tool, outcome string }
	got := map[key]int64{}
	for _, dp := range calls.DataPoints {
		assert.Equal(t, "billing", value(dp.Attributes, "module"))
		got[key{value(dp.Attributes, "tool"), value(dp.Attributes, "outcome")}] += dp.Value
	}
	assert.Equal(t, map[key]int64{
		{verification.ToolUpdateStatus, outcomeRejected}:   1,
		{verification.ToolVerifyTask, outcomeFailed}:       1,
		{verification.ToolVerifyComponent, outcomeInvalid}: 1,
		{verification.ToolUpdateStatus, outcomeInvalid}:    1,
		{verification.ToolUpdateStatus, outcomeUpdated}:    1,
	}, got)

	require.Contains(t, metrics, "shipyard.mcp.verdict_gaps")
	gaps, ok := metrics["shipyard.mcp.verdict_gaps"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, gaps.DataPoints, 1)
	assert.Equal(t, verification.ToolVerifyTask, value(gaps.DataPoints[0].Attributes, "tool"))
	assert.Equal(t, uint64(1), gaps.DataPoints[0].Count)
	assert.Equal(t, int64(2), gaps.DataPoints[0].Sum)

	active, ok := metrics["shipyard.mcp.tool_calls_active"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range active.DataPoints {
		assert.Zero(t, dp.Value, "tool %s", value(dp.Attributes, "tool"))
	}
}

func TestToolMetrics_PassingVerdictRecordsNoGaps(t *testing.T) {
	cs, reader := newMeteredServer(t, `{"pass": true}`)
	callTool(t, cs, verification.ToolVerifyTask, map[string]any{
		"task_id": "c1.t1", "evidence": "tests pass", "acceptance_criteria": "tested",
	})

	metrics := collect(t, reader)
	calls, ok := metrics["shipyard.mcp.tool_calls_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, calls.DataPoints, 1)
	assert.Equal(t, outcomePassed, value(calls.DataPoints[0].Attributes, "outcome"))
	assert.NotContains(t, metrics, "shipyard.mcp.verdict_gaps")
}

func TestOutcomeOf(t *testing.T) {
	yes, no := true, false
	success := func(passed *bool) verification.ToolResult {
		return verification.ToolResult{Status: verification.StatusSuccess, Passed: passed}
	}
	failure := func(cause error) verification.ToolResult {
		return verification.ToolResult{Status: verification.StatusError, Err: cause}
	}

	tests := []struct {
		name string
		res  verification.ToolResult
		err  error
		want string
	}{
		{"status applied", success(nil), nil, outcomeUpdated},
		{"verdict passed", success(&yes), nil, outcomePassed},
		{"verdict failed", success(&no), nil, outcomeFailed},
		{"malformed verdict", verification.ToolResult{
			Status: verification.StatusSuccess,
			Passed: &no,
			Err:    fmt.Errorf("%w: no JSON", verification.ErrMalformedOracleResponse),
		}, nil, outcomeMalformed},
		{"gate rejection", failure(&verification.MismatchError{Reason: "no verification recorded"}), nil, outcomeRejected},
		{"unknown target", failure(verification.ErrUnknownTarget), nil, outcomeInvalid},
		{"wrong scope", failure(verification.ErrInvalidScope), nil, outcomeInvalid},
		{"bad transition", failure(fmt.Errorf("c1.t1: %w", hierarchy.ErrInvalidStateTransition)), nil, outcomeInvalid},
		{"unknown status", failure(nil), nil, outcomeInvalid},
		{"other failure", failure(errors.New("disk full")), nil, outcomeError},
		{"oracle down", failure(nil), errors.New("connection refused"), outcomeUnavailable},
		{"oracle deadline", failure(nil), fmt.Errorf("oracle invocation: %w", context.DeadlineExceeded), outcomeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeOf(tt.res, tt.err))
		})
	}
}
