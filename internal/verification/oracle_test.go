package verification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		passed    bool
		malformed bool
		gaps      []string
	}{
		{
			name:   "bare pass",
			output: `{"pass": true, "gaps": []}`,
			passed: true,
			gaps:   []string{},
		},
		{
			name:   "fail with gaps",
			output: `{"pass": false, "gaps": ["no tests", "docs missing"]}`,
			gaps:   []string{"no tests", "docs missing"},
		},
		{
			name:   "fenced with prose",
			output: "Here is my verdict:\n```json\n{\"pass\": true}\n```\nThanks.",
			passed: true,
		},
		{
			name:   "first object wins",
			output: `{"pass": false, "gaps": ["x"]} {"pass": true}`,
			gaps:   []string{"x"},
		},
		{name: "missing pass", output: `{"gaps": []}`, malformed: true},
		{name: "pass not bool", output: `{"pass": "yes"}`, malformed: true},
		{name: "no json", output: "looks good to me", malformed: true},
		{name: "truncated", output: `{"pass": tr`, malformed: true},
		{name: "empty", output: "", malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ParseVerdict(tt.output)
			assert.Equal(t, tt.passed, v.Passed)
			assert.Equal(t, tt.malformed, v.Malformed)
			if tt.malformed {
				assert.False(t, v.Passed, "malformed must fail closed")
				assert.Len(t, v.Gaps, 1)
				assert.ErrorIs(t, v.ErrMalformed(), ErrMalformedOracleResponse)
				return
			}
			assert.Equal(t, tt.gaps, v.Gaps)
			assert.NoError(t, v.ErrMalformed())
		})
	}
}

func TestOracle_Verify(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	var got agent.Request
	inv := agent.InvokerFunc(func(_ context.Context, req agent.Request) (*agent.Response, error) {
		got = req
		return &agent.Response{Output: `{"pass": false, "gaps": ["coverage below target"]}`}, nil
	})

	o := NewOracle(inv, "judge-1", WithOracleTracer(tracer))
	v, err := o.Verify(context.Background(), "added handler and tests", "handler returns 404 for unknown ids")
	require.NoError(t, err)
	assert.False(t, v.Passed)
	assert.Equal(t, []string{"coverage below target"}, v.Gaps)
	assert.Equal(t, "verification failed: coverage below target", v.String())

	assert.Equal(t, "judge-1", got.Model)
	assert.Contains(t, got.SystemPrompt, "added handler and tests")
	assert.Contains(t, got.SystemPrompt, "handler returns 404 for unknown ids")
	assert.Empty(t, got.Tools)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "oracle.verify", spans[0].Name())
}

func TestOracle_InvocationError(t *testing.T) {
	boom := errors.New("upstream unavailable")
	o := NewOracle(agent.InvokerFunc(func(context.Context, agent.Request) (*agent.Response, error) {
		return nil, boom
	}), "judge-1")

	_, err := o.Verify(context.Background(), "e", "c")
	assert.ErrorIs(t, err, boom)
}

func TestOracle_NilResponseFailsClosed(t *testing.T) {
	o := NewOracle(agent.InvokerFunc(func(context.Context, agent.Request) (*agent.Response, error) {
		return nil, nil
	}), "judge-1")

	v, err := o.Verify(context.Background(), "e", "c")
	require.NoError(t, err)
	assert.False(t, v.Passed)
	assert.True(t, v.Malformed)
}
