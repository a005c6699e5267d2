package guardrail

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/metrics"
	"github.com/fyrsmithlabs/shipyard/internal/verification"
)

type fixed struct {
	name string
	res  Result
	seen []Context
}

func (f *fixed) Name() string { return f.name }

func (f *fixed) Check(gc Context) Result {
	f.seen = append(f.seen, gc)
	return f.res
}

func TestPipeline_MostSevereWins(t *testing.T) {
	p := NewPipeline(
		&fixed{name: "a", res: PassResult("a")},
		&fixed{name: "b", res: WarnResult("b", "careful")},
		&fixed{name: "c", res: BlockResult("c", "stop")},
		&fixed{name: "d", res: WarnResult("d", "also careful")},
	)

	d := p.Evaluate(context.Background(), Context{Module: "m"})
	assert.Equal(t, SeverityBlock, d.Severity())
	assert.Equal(t, "c", d.Result.Guardrail)
	assert.Equal(t, "stop", d.Result.Message)
	assert.Len(t, d.Results, 4)
	assert.Equal(t, []string{"careful", "also careful"}, d.Warnings())
}

func TestPipeline_FirstWinsTies(t *testing.T) {
	p := NewPipeline(
		&fixed{name: "a", res: WarnResult("a", "first")},
		&fixed{name: "b", res: WarnResult("b", "second")},
	)
	d := p.Evaluate(context.Background(), Context{})
	assert.Equal(t, "first", d.Result.Message)
}

func TestPipeline_EvaluatesEveryGuardrailAfterBlock(t *testing.T) {
	after := &fixed{name: "after", res: PassResult("after")}
	p := NewPipeline(&fixed{name: "blocker", res: BlockResult("blocker", "no")}, after)

	p.Evaluate(context.Background(), Context{Task: "t1"})
	require.Len(t, after.seen, 1)
	assert.Equal(t, "t1", after.seen[0].Task)
}

func TestPipeline_Empty(t *testing.T) {
	d := NewPipeline().Evaluate(context.Background(), Context{})
	assert.Equal(t, SeverityPass, d.Severity())
	assert.False(t, d.Blocked())
	assert.NoError(t, d.Err(Context{}))
}

func TestPipeline_Err(t *testing.T) {
	p := NewPipeline(&fixed{name: "churn", res: BlockResult("churn", "too many attempts")})
	gc := Context{Module: "billing", Task: "t1"}

	err := p.Evaluate(context.Background(), gc).Err(gc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlocked)

	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, "churn", blocked.Guardrail)
	assert.Contains(t, err.Error(), "billing/t1")
	assert.Contains(t, err.Error(), "too many attempts")
}

func TestPipeline_DefaultsGuardrailName(t *testing.T) {
	p := NewPipeline(&fixed{name: "anon", res: Result{Severity: SeverityWarn, Message: "x"}})
	d := p.Evaluate(context.Background(), Context{})
	assert.Equal(t, "anon", d.Result.Guardrail)
}

func TestPipeline_Observability(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")
	tl := logging.NewTestLogger()
	m := metrics.New(prometheus.NewRegistry())

	p := NewPipeline(
		&fixed{name: "ok", res: PassResult("ok")},
		&fixed{name: "tools", res: WarnResult("tools", "noisy")},
		&fixed{name: "churn", res: BlockResult("churn", "stuck")},
	).WithTracer(tracer).WithLogger(tl.Underlying()).WithMetrics(m)

	p.Evaluate(context.Background(), Context{Module: "billing", Task: "t1"})

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "guardrail.evaluate", spans[0].Name())

	tl.AssertLogged(t, zapcore.WarnLevel, "guardrail blocked")
	tl.AssertLogged(t, zapcore.WarnLevel, "guardrail warning")
	tl.AssertField(t, "guardrail blocked", "reason", "stuck")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardrailResults.WithLabelValues("churn", "block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardrailResults.WithLabelValues("ok", "pass")))
}

func TestPipeline_Add(t *testing.T) {
	base := NewPipeline(&fixed{name: "a", res: PassResult("a")})
	extended := base.Add(&fixed{name: "b", res: WarnResult("b", "w")})

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, extended.Len())
	assert.Equal(t, SeverityWarn, extended.Evaluate(context.Background(), Context{}).Severity())
}

func TestPipeline_AllFourPolicies(t *testing.T) {
	used := 2
	limit, err := NewResourceLimit(10, 0.5, 0.9, UsageFunc(func() int { return used }))
	require.NoError(t, err)
	churn, err := NewChurnDetector(3)
	require.NoError(t, err)
	tools, err := NewToolDiscipline(10)
	require.NoError(t, err)
	p := NewPipeline(limit, churn, NewQualityGate(checkerFunc(func(verification.Scope, string) bool { return false })), tools)

	d := p.Evaluate(context.Background(), Context{Module: "m", Task: "t1", Attempt: 1, ToolCalls: 3})
	assert.Equal(t, SeverityPass, d.Severity())

	d = p.Evaluate(context.Background(), Context{Module: "m", Task: "t1", Attempt: 1, ToolCalls: 30})
	assert.Equal(t, SeverityWarn, d.Severity())
	assert.Equal(t, ToolDisciplineName, d.Result.Guardrail)

	used = 9
	d = p.Evaluate(context.Background(), Context{Module: "m", Task: "t1", Attempt: 1})
	assert.Equal(t, ResourceLimitName, d.Result.Guardrail)
	assert.True(t, d.Blocked())
}
