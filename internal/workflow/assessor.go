package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/drift"
	"github.com/fyrsmithlabs/shipyard/internal/specdoc"
)

// SpecSource loads a module's specification document. found is false when
// the module has no specification yet; that is not an error.
type SpecSource interface {
	Load(ctx context.Context, module string) (content string, found bool, err error)
}

// Assessment is the step inferred for a module from its artifacts.
type Assessment struct {
	Module     string        `json:"module"`
	Step       Step          `json:"step"`
	Exists     bool          `json:"exists"`
	Components int           `json:"components"`
	Total      int           `json:"total"`
	Completed  int           `json:"completed"`
	Ratio      float64       `json:"ratio"`
	Inputs     PhaseInputs   `json:"inputs"`
	Drift      []drift.Drift `json:"drift,omitempty"`
}

// Assessor re-derives workflow steps from specification content.
type Assessor struct {
	source   SpecSource
	detector *drift.Detector
	logger   *zap.Logger
}

// AssessorOption configures an Assessor.
type AssessorOption func(*Assessor)

// WithDriftDetector reports drifted sections on each assessment and
// refreshes the detector's baseline.
func WithDriftDetector(d *drift.Detector) AssessorOption {
	return func(a *Assessor) { a.detector = d }
}

// WithAssessorLogger sets the assessor logger.
func WithAssessorLogger(logger *zap.Logger) AssessorOption {
	return func(a *Assessor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssessor creates an assessor reading from source.
func NewAssessor(source SpecSource, opts ...AssessorOption) *Assessor {
	a := &Assessor{source: source, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("assessor")
	return a
}

// Assess loads the module specification and infers its step.
func (a *Assessor) Assess(ctx context.Context, module string) (Assessment, error) {
	if a.source == nil {
		return Assessment{}, ErrNoSpecSource
	}
	content, found, err := a.source.Load(ctx, module)
	if err != nil {
		return Assessment{}, fmt.Errorf("load specification for %s: %w", module, err)
	}
	if !found {
		content = ""
	}

	result := AssessContent(module, content)
	if a.detector != nil && result.Exists {
		result.Drift = a.detector.Refresh(module, content)
	}

	a.logger.Debug("module assessed",
		zap.String("module", module),
		zap.String("step", string(result.Step)),
		zap.Int("total", result.Total),
		zap.Int("completed", result.Completed),
	)
	return result, nil
}

// AssessContent infers the step for module from specification content.
// Blank content counts as no specification.
//
//	no document                           → DraftSpecification
//	every checklist item complete         → Repeat
//	no Dependencies section               → DetermineDependencies
//	no components and no checklist items  → IdentifyComponents
//	components but no checklist items     → SelectNextComponent
//	some checklist items open             → IterateThroughTasks
func AssessContent(module, content string) Assessment {
	result := Assessment{Module: module}
	if strings.TrimSpace(content) == "" {
		result.Step = StepDraftSpecification
		return result
	}
	result.Exists = true

	doc := specdoc.Parse(content)
	items := specdoc.Checklist(content)
	comps := specdoc.Components(doc, content)

	result.Components = len(comps)
	result.Total, result.Completed = specdoc.Stats(items)
	if result.Total > 0 {
		result.Ratio = float64(result.Completed) / float64(result.Total)
	}

	broken := len(comps) > 0
	for _, c := range comps {
		if len(c.Items) == 0 {
			broken = false
			break
		}
	}
	result.Inputs = PhaseInputs{
		ComponentsIdentified: len(comps) > 0,
		TasksBrokenDown:      broken,
		AllBuilt:             result.Total > 0 && result.Completed == result.Total,
	}

	// Checklist progress outranks missing sections, so a half-built module
	// never steps back into planning.
	switch {
	case result.Total > 0 && result.Completed == result.Total:
		result.Step = StepRepeat
	case result.Total > 0:
		result.Step = StepIterateThroughTasks
	case !doc.HasSection(specdoc.DependenciesHeader):
		result.Step = StepDetermineDependencies
	case len(comps) == 0:
		result.Step = StepIdentifyComponents
	default:
		result.Step = StepSelectNextComponent
	}
	return result
}
