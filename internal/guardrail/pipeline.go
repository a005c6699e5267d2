package guardrail

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/metrics"
)

const instrumentationName = "github.com/fyrsmithlabs/shipyard/internal/guardrail"

// Decision is the folded outcome of a pipeline run.
type Decision struct {
	// Result is the most severe result; the earliest guardrail wins ties.
	Result  Result   `json:"result"`
	Results []Result `json:"results"`
}

// Severity returns the decision's severity.
func (d Decision) Severity() Severity { return d.Result.Severity }

// Blocked reports whether the decision blocks the action.
func (d Decision) Blocked() bool { return d.Result.Severity == SeverityBlock }

// Warnings returns the messages of every Warn result.
func (d Decision) Warnings() []string {
	var out []string
	for _, r := range d.Results {
		if r.Severity == SeverityWarn {
			out = append(out, r.Message)
		}
	}
	return out
}

// Err returns *BlockedError when the decision blocks, nil otherwise.
func (d Decision) Err(gc Context) error {
	if !d.Blocked() {
		return nil
	}
	return &BlockedError{Guardrail: d.Result.Guardrail, Module: gc.Module, Task: gc.Task, Reason: d.Result.Message}
}

// Pipeline runs guardrails in order. Every guardrail is evaluated, even
// after a Block, so stateful guardrails always observe the context.
type Pipeline struct {
	guardrails []Guardrail
	tracer     trace.Tracer
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewPipeline creates a pipeline over guardrails.
func NewPipeline(guardrails ...Guardrail) *Pipeline {
	return &Pipeline{
		guardrails: guardrails,
		tracer:     otel.Tracer(instrumentationName),
		logger:     zap.NewNop(),
	}
}

// WithTracer sets the tracer used for per-guardrail spans.
func (p *Pipeline) WithTracer(tracer trace.Tracer) *Pipeline {
	if tracer != nil {
		p.tracer = tracer
	}
	return p
}

// WithLogger sets the pipeline logger.
func (p *Pipeline) WithLogger(logger *zap.Logger) *Pipeline {
	if logger != nil {
		p.logger = logger.Named("guardrail")
	}
	return p
}

// WithMetrics records every result in m.
func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// Add returns a new pipeline with additional guardrails appended.
func (p *Pipeline) Add(guardrails ...Guardrail) *Pipeline {
	all := make([]Guardrail, 0, len(p.guardrails)+len(guardrails))
	all = append(all, p.guardrails...)
	all = append(all, guardrails...)
	return &Pipeline{guardrails: all, tracer: p.tracer, logger: p.logger, metrics: p.metrics}
}

// Evaluate runs every guardrail against gc and folds the results.
// An empty pipeline passes.
func (p *Pipeline) Evaluate(ctx context.Context, gc Context) Decision {
	d := Decision{
		Result:  PassResult("pipeline"),
		Results: make([]Result, 0, len(p.guardrails)),
	}

	for i, g := range p.guardrails {
		_, span := p.tracer.Start(ctx, "guardrail.evaluate",
			trace.WithAttributes(
				attribute.String("guardrail.name", g.Name()),
				attribute.String("module", gc.Module),
				attribute.String("task", gc.Task),
			),
		)
		res := g.Check(gc)
		if res.Guardrail == "" {
			res.Guardrail = g.Name()
		}
		span.SetAttributes(attribute.String("guardrail.severity", res.Severity.String()))
		if res.Message != "" {
			span.SetAttributes(attribute.String("guardrail.reason", res.Message))
		}
		span.End()

		p.metrics.RecordGuardrail(res.Guardrail, res.Severity.String())
		d.Results = append(d.Results, res)
		if i == 0 || res.Severity > d.Result.Severity {
			d.Result = res
		}

		switch res.Severity {
		case SeverityBlock:
			p.logger.Warn("guardrail blocked",
				zap.String("guardrail", res.Guardrail),
				zap.String("module", gc.Module),
				zap.String("task", gc.Task),
				zap.String("reason", res.Message),
			)
		case SeverityWarn:
			p.logger.Warn("guardrail warning",
				zap.String("guardrail", res.Guardrail),
				zap.String("module", gc.Module),
				zap.String("task", gc.Task),
				zap.String("reason", res.Message),
			)
		}
	}

	return d
}

// Len returns the number of guardrails.
func (p *Pipeline) Len() int { return len(p.guardrails) }
