package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
)

const instrumentationName = "github.com/fyrsmithlabs/shipyard/internal/verification"

const oraclePrompt = `You are an independent verification oracle. You did not write the work
below and you have no stake in it passing.

Decide whether the evidence demonstrates that every acceptance criterion is met.
Do not give credit for intent, plans or partial work.

Respond with a single JSON object and nothing else:
{"pass": true|false, "gaps": ["<criterion not met and why>", ...]}

Acceptance criteria:
%s

Evidence:
%s
`

// Verdict is the oracle's parsed answer.
type Verdict struct {
	Passed    bool     `json:"passed"`
	Gaps      []string `json:"gaps,omitempty"`
	Malformed bool     `json:"malformed,omitempty"`
}

// Oracle asks the agent to judge evidence against acceptance criteria.
type Oracle struct {
	invoker agent.Invoker
	model   string
	tracer  trace.Tracer
	logger  *zap.Logger
}

// OracleOption configures an Oracle.
type OracleOption func(*Oracle)

// WithOracleTracer sets the tracer for oracle.verify spans.
func WithOracleTracer(t trace.Tracer) OracleOption {
	return func(o *Oracle) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithOracleLogger sets the oracle logger.
func WithOracleLogger(l *zap.Logger) OracleOption {
	return func(o *Oracle) {
		if l != nil {
			o.logger = l.Named("oracle")
		}
	}
}

// NewOracle creates an oracle calling invoker with model.
func NewOracle(invoker agent.Invoker, model string, opts ...OracleOption) *Oracle {
	o := &Oracle{
		invoker: invoker,
		model:   model,
		tracer:  otel.Tracer(instrumentationName),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Verify invokes the agent with the fixed oracle prompt. An unparseable
// answer is a failed, malformed verdict, not an error; only an invocation
// failure returns an error.
func (o *Oracle) Verify(ctx context.Context, evidence, criteria string) (Verdict, error) {
	ctx, span := o.tracer.Start(ctx, "oracle.verify", trace.WithAttributes(
		attribute.String("oracle.model", o.model),
	))
	defer span.End()

	resp, err := o.invoker.Invoke(ctx, agent.Request{
		SystemPrompt: fmt.Sprintf(oraclePrompt, strings.TrimSpace(criteria), strings.TrimSpace(evidence)),
		Model:        o.model,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invoke failed")
		return Verdict{}, fmt.Errorf("oracle invocation: %w", err)
	}
	if resp == nil {
		resp = &agent.Response{}
	}

	v := ParseVerdict(resp.Output)
	span.SetAttributes(
		attribute.Bool("oracle.passed", v.Passed),
		attribute.Bool("oracle.malformed", v.Malformed),
		attribute.Int("oracle.gaps", len(v.Gaps)),
	)
	if v.Malformed {
		o.logger.Warn("malformed oracle response", zap.Strings("gaps", v.Gaps))
	}
	return v, nil
}

type verdictWire struct {
	Pass *bool    `json:"pass"`
	Gaps []string `json:"gaps"`
}

// ParseVerdict extracts the first JSON object from output. Surrounding
// prose and code fences are ignored. Anything that does not decode to an
// object with a boolean "pass" field fails closed.
func ParseVerdict(output string) Verdict {
	start := strings.IndexByte(output, '{')
	if start < 0 {
		return malformed("oracle response contains no JSON object")
	}

	var wire verdictWire
	if err := json.NewDecoder(strings.NewReader(output[start:])).Decode(&wire); err != nil {
		return malformed(fmt.Sprintf("oracle response is not valid JSON: %v", err))
	}
	if wire.Pass == nil {
		return malformed(`oracle response is missing the "pass" field`)
	}
	return Verdict{Passed: *wire.Pass, Gaps: wire.Gaps}
}

func malformed(reason string) Verdict {
	return Verdict{Passed: false, Gaps: []string{reason}, Malformed: true}
}

// String renders the verdict for tool messages.
func (v Verdict) String() string {
	if v.Passed {
		return "verification passed"
	}
	if len(v.Gaps) == 0 {
		return "verification failed"
	}
	return "verification failed: " + strings.Join(v.Gaps, "; ")
}

// ErrMalformed returns ErrMalformedOracleResponse for malformed verdicts.
// It is informational; callers record the verdict as a failure either way.
func (v Verdict) ErrMalformed() error {
	if !v.Malformed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMalformedOracleResponse, strings.Join(v.Gaps, "; "))
}
