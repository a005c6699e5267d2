package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
	"github.com/fyrsmithlabs/shipyard/internal/drift"
	"github.com/fyrsmithlabs/shipyard/internal/failure"
	"github.com/fyrsmithlabs/shipyard/internal/guardrail"
	"github.com/fyrsmithlabs/shipyard/internal/hierarchy"
	"github.com/fyrsmithlabs/shipyard/internal/metrics"
	"github.com/fyrsmithlabs/shipyard/internal/verification"
	"github.com/fyrsmithlabs/shipyard/internal/workflow"
)

const instrumentationName = "github.com/fyrsmithlabs/shipyard/internal/orchestrator"

// Runner drives one module through the delivery loop.
type Runner struct {
	module     string
	cfg        Config
	source     workflow.SpecSource
	hasInvoker bool

	engine   *workflow.Engine
	phases   *workflow.PhaseController
	pauser   *Pauser
	detector *drift.Detector
	meter    *agent.Meter
	churn    *guardrail.ChurnDetector
	pipeline *guardrail.Pipeline
	tracker  *verification.Tracker
	gate     *verification.CompletionGate
	oracle   *verification.Oracle
	failures *failure.Handler

	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	progress ProgressCallback

	mu         sync.RWMutex
	runID      string
	resumed    bool
	assessment workflow.Assessment
	tree       *hierarchy.Tree
	toolset    *verification.Toolset
	iterations int
	last       *Outcome
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithPauser shares a pause flag across runners.
func WithPauser(p *Pauser) Option {
	return func(r *Runner) {
		if p != nil {
			r.pauser = p
		}
	}
}

// WithDriftDetector reports drifted specification sections on resume.
func WithDriftDetector(d *drift.Detector) Option {
	return func(r *Runner) { r.detector = d }
}

// WithProgress sets a callback invoked after every iteration of Run.
func WithProgress(cb ProgressCallback) Option {
	return func(r *Runner) { r.progress = cb }
}

// NewRunner builds a runner for module. invoker may be nil for a runner
// that only reports status; Run then fails with ErrNoInvoker.
func NewRunner(module string, cfg Config, invoker agent.Invoker, source workflow.SpecSource, opts ...Option) (*Runner, error) {
	if module == "" {
		return nil, fmt.Errorf("runner: module is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	r := &Runner{
		module:     module,
		cfg:        cfg,
		source:     source,
		hasInvoker: invoker != nil,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
		runID:      uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("runner").With(zap.String("module", module), zap.String("run_id", r.runID))
	if r.pauser == nil {
		r.pauser = NewPauser(r.logger, r.metrics)
	}

	if invoker == nil {
		invoker = agent.InvokerFunc(func(context.Context, agent.Request) (*agent.Response, error) {
			return nil, ErrNoInvoker
		})
	}
	if cfg.RateLimit > 0 {
		invoker = agent.NewRateLimited(invoker, cfg.RateLimit, cfg.Burst)
	}
	r.meter = agent.NewMeter(invoker, r.metrics)

	r.tracker = verification.NewTracker()
	r.gate = verification.NewCompletionGate(r.tracker,
		verification.WithGateLogger(r.logger),
		verification.WithGateMetrics(r.metrics),
	)
	r.oracle = verification.NewOracle(r.meter, cfg.OracleModel,
		verification.WithOracleTracer(r.tracer),
		verification.WithOracleLogger(r.logger),
	)

	limit, err := guardrail.NewResourceLimit(cfg.Budget, cfg.WarnRatio, cfg.BlockRatio, r.meter)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	if r.churn, err = guardrail.NewChurnDetector(cfg.ChurnThreshold); err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	tools, err := guardrail.NewToolDiscipline(cfg.ToolCallThreshold)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	r.pipeline = guardrail.NewPipeline(limit, r.churn, guardrail.NewQualityGate(r.tracker), tools).
		WithTracer(r.tracer).
		WithLogger(r.logger).
		WithMetrics(r.metrics)

	if r.failures, err = failure.NewHandler(cfg.FailureThreshold,
		failure.WithLogger(r.logger),
		failure.WithMetrics(r.metrics),
	); err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	r.phases = workflow.NewPhaseController()
	r.engine = workflow.NewEngine(module)
	r.engine.OnTransition(func(t workflow.Transition) {
		r.logger.Info("step advanced",
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
			zap.String("trigger", string(t.Trigger)),
		)
	})
	r.setTree(hierarchy.NewTree(module, module))
	return r, nil
}

// Resume re-reads the module specification, re-derives the step and
// rebuilds the work tree. Checked items come back Complete.
func (r *Runner) Resume(ctx context.Context) (workflow.Assessment, error) {
	if r.source == nil {
		return workflow.Assessment{}, workflow.ErrNoSpecSource
	}
	content, found, err := r.source.Load(ctx, r.module)
	if err != nil {
		return workflow.Assessment{}, fmt.Errorf("resume %s: %w", r.module, err)
	}
	if !found {
		content = ""
	}

	a := workflow.AssessContent(r.module, content)
	if r.detector != nil && a.Exists {
		a.Drift = r.detector.Refresh(r.module, content)
		r.metrics.RecordDrift(r.module, len(a.Drift))
	}

	tree := hierarchy.NewTree(r.module, r.module)
	if a.Exists {
		if tree, err = hierarchy.BuildFromSpec(r.module, content); err != nil {
			return a, fmt.Errorf("resume %s: build tree: %w", r.module, err)
		}
	}
	if _, err := r.engine.AdvanceTo(a.Step); err != nil {
		return a, fmt.Errorf("resume %s: %w", r.module, err)
	}

	r.mu.Lock()
	r.assessment = a
	r.resumed = true
	r.mu.Unlock()
	r.setTree(tree)

	r.logger.Info("module resumed",
		zap.String("step", string(a.Step)),
		zap.Int("total", a.Total),
		zap.Int("completed", a.Completed),
		zap.Int("drifted", len(a.Drift)),
	)
	return a, nil
}

func (r *Runner) setTree(tree *hierarchy.Tree) {
	toolset := verification.NewToolset(tree, r.oracle, r.tracker, r.gate,
		verification.WithToolsetLogger(r.logger),
		verification.WithToolsetMetrics(r.metrics),
	)
	r.mu.Lock()
	r.tree = tree
	r.toolset = toolset
	r.mu.Unlock()
}

// Run iterates until the module is complete or something needs a human.
// It returns nil only when the module is complete; otherwise the error is
// one of ErrAwaitingApproval, ErrNeedsUser, ErrMaxIterations, ErrCancelled,
// a *guardrail.BlockedError or a *failure.CriticalError.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	if !r.hasInvoker {
		return Outcome{Module: r.module}, ErrNoInvoker
	}
	r.mu.RLock()
	resumed := r.resumed
	r.mu.RUnlock()
	if !resumed {
		if _, err := r.Resume(ctx); err != nil {
			return Outcome{Module: r.module}, err
		}
	}

	ctx, span := r.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("module", r.module),
		attribute.String("run.id", r.runID),
	))
	defer span.End()

	for {
		r.mu.RLock()
		n := r.iterations
		tree := r.tree
		exists := r.assessment.Exists
		r.mu.RUnlock()

		if n >= r.cfg.MaxIterations {
			out := r.finish(Outcome{Module: r.module, Result: ResultLimitReached, Step: r.engine.Current()})
			return out, fmt.Errorf("%w: %d iterations", ErrMaxIterations, n)
		}

		var (
			out Outcome
			err error
		)
		switch r.Phase() {
		case workflow.PhaseComplete:
			out = r.finish(Outcome{Module: r.module, Result: ResultModuleDone, Step: r.engine.Current()})
			r.logger.Info("module complete", zap.Int("iterations", n))
			return out, nil
		case workflow.PhaseRequirementGathering:
			if exists {
				out = r.finish(Outcome{Module: r.module, Result: ResultAwaitApproval, Step: r.engine.Current()})
				return out, ErrAwaitingApproval
			}
			out, err = r.planIteration(ctx)
		case workflow.PhasePlanning:
			out, err = r.planIteration(ctx)
		default:
			target, ok := nextTarget(tree)
			if !ok {
				out = r.finish(Outcome{Module: r.module, Result: ResultModuleDone, Step: r.engine.Current()})
				return out, nil
			}
			out, err = r.RunIteration(ctx, Iteration{Target: target})
		}

		r.report(out)
		if err != nil {
			return out, err
		}
		if out.Result == ResultNeedsUser {
			return out, fmt.Errorf("%w: %s", ErrNeedsUser, out.Failure.Message)
		}
	}
}

// RunIteration runs one work invocation against it.Target.
func (r *Runner) RunIteration(ctx context.Context, it Iteration) (Outcome, error) {
	if err := r.pauser.Wait(ctx); err != nil {
		return Outcome{Module: r.module, Target: it.Target}, err
	}

	r.mu.Lock()
	tree, toolset := r.tree, r.toolset
	r.iterations++
	r.mu.Unlock()

	target := it.Target
	if target == "" {
		target = r.module
	}
	id, ok := tree.Lookup(target)
	if !ok {
		return Outcome{Module: r.module, Target: target}, fmt.Errorf("%w: %s", verification.ErrUnknownTarget, target)
	}
	info, err := tree.Node(id)
	if err != nil {
		return Outcome{Module: r.module, Target: target}, err
	}
	out := Outcome{Module: r.module, Target: target, Kind: info.Kind, Step: r.engine.Current()}

	// A stale pass must never satisfy a claim made in this invocation.
	r.tracker.Reset()

	gc := guardrail.Context{
		Module:  r.module,
		Task:    target,
		Attempt: r.failures.ConsecutiveFailures(target) + 1,
	}
	pre := r.pipeline.Evaluate(ctx, gc)
	out.Warnings = pre.Warnings()
	if pre.Blocked() {
		out.Result = ResultBlocked
		out.Decision = &pre
		r.metrics.RecordInvocation("blocked")
		return r.finish(out), pre.Err(gc)
	}

	if err := markStarted(tree, id); err != nil {
		return r.critical(out, fmt.Sprintf("start %s: %v", target, err))
	}

	resp, err := r.meter.Invoke(ctx, agent.Request{
		SystemPrompt: workPrompt(r.module, info, tree),
		Model:        r.cfg.Model,
		Tools:        toolset.Definitions(),
	})
	if err != nil {
		return r.invocationFailed(ctx, out, tree, id, err)
	}
	out.Response = resp

	stored, err := tree.StoredState(id)
	if err != nil {
		return r.critical(out, fmt.Sprintf("read %s: %v", target, err))
	}

	gc.ToolCalls = resp.ToolCallsMade
	if stored == hierarchy.StateComplete || resp.IsComplete {
		if scope, ok := verification.ScopeOf(info.Kind); ok {
			gc.Completion = &guardrail.CompletionClaim{Scope: scope, ID: target}
		}
	}
	post := r.pipeline.Evaluate(ctx, gc)
	out.Warnings = append(out.Warnings, post.Warnings()...)
	out.Decision = &post
	if post.Blocked() {
		if post.Result.Guardrail != guardrail.QualityGateName {
			out.Result = ResultBlocked
			return r.finish(out), post.Err(gc)
		}
		return r.fail(out, tree, id, post.Result.Message)
	}

	if stored != hierarchy.StateComplete {
		return r.fail(out, tree, id, fmt.Sprintf("agent finished without completing %s %s", info.Kind, target))
	}

	r.failures.RecordSuccess(target)
	r.churn.Reset()
	out.Result = ResultCompleted
	r.advanceAfter(tree, info)
	r.logger.Info("target complete", zap.String("target", target), zap.String("kind", string(info.Kind)))
	return r.finish(out), nil
}

// planIteration asks the agent to move the specification forward one step
// and re-derives the step from the result.
func (r *Runner) planIteration(ctx context.Context) (Outcome, error) {
	if err := r.pauser.Wait(ctx); err != nil {
		return Outcome{Module: r.module}, err
	}
	r.mu.Lock()
	r.iterations++
	before := r.assessment
	r.mu.Unlock()

	step := r.engine.Current()
	key := "step:" + string(step)
	out := Outcome{Module: r.module, Target: key, Step: step}

	r.tracker.Reset()
	gc := guardrail.Context{Module: r.module, Task: key, Attempt: r.failures.ConsecutiveFailures(key) + 1}
	pre := r.pipeline.Evaluate(ctx, gc)
	out.Warnings = pre.Warnings()
	if pre.Blocked() {
		out.Result = ResultBlocked
		out.Decision = &pre
		r.metrics.RecordInvocation("blocked")
		return r.finish(out), pre.Err(gc)
	}

	resp, err := r.meter.Invoke(ctx, agent.Request{
		SystemPrompt: planningPrompt(r.module, step),
		Model:        r.cfg.Model,
	})
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		if errors.Is(err, failure.ErrCritical) {
			return r.critical(out, err.Error())
		}
		return r.classify(out, key, fmt.Sprintf("agent invocation failed: %v", err))
	}
	out.Response = resp

	gc.ToolCalls = resp.ToolCallsMade
	post := r.pipeline.Evaluate(ctx, gc)
	out.Warnings = append(out.Warnings, post.Warnings()...)
	out.Decision = &post
	if post.Blocked() {
		out.Result = ResultBlocked
		return r.finish(out), post.Err(gc)
	}

	after, err := r.Resume(ctx)
	if err != nil {
		return r.critical(out, err.Error())
	}
	out.Step = after.Step
	if after.Step == before.Step && after.Components == before.Components && after.Total == before.Total {
		return r.classify(out, key, fmt.Sprintf("specification did not change at step %s", step))
	}
	r.failures.RecordSuccess(key)
	out.Result = ResultPlanned
	return r.finish(out), nil
}

func (r *Runner) invocationFailed(ctx context.Context, out Outcome, tree *hierarchy.Tree, id hierarchy.NodeID, err error) (Outcome, error) {
	if ctx.Err() != nil {
		return r.finish(out), fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	if errors.Is(err, failure.ErrCritical) {
		return r.critical(out, err.Error())
	}
	return r.fail(out, tree, id, fmt.Sprintf("agent invocation failed: %v", err))
}

// fail marks the target failed so it is retried, then classifies.
func (r *Runner) fail(out Outcome, tree *hierarchy.Tree, id hierarchy.NodeID, message string) (Outcome, error) {
	if stored, err := tree.StoredState(id); err == nil && stored == hierarchy.StateInProgress {
		if err := tree.TransitionTo(id, hierarchy.StateFailed); err != nil {
			r.logger.Warn("mark failed", zap.String("target", out.Target), zap.Error(err))
		}
	}
	return r.classify(out, out.Target, message)
}

func (r *Runner) classify(out Outcome, key, message string) (Outcome, error) {
	c := r.failures.RecordFailure(key, message)
	out.Failure = &c
	out.Result = ResultRetry
	if c.Action == failure.ActionPromptUser {
		out.Result = ResultNeedsUser
	}
	return r.finish(out), nil
}

func (r *Runner) critical(out Outcome, message string) (Outcome, error) {
	c := r.failures.RecordCriticalError(message)
	out.Failure = &c
	out.Result = ResultCritical
	return r.finish(out), c.Err()
}

// advanceAfter fires the step triggers that follow a completed component.
func (r *Runner) advanceAfter(tree *hierarchy.Tree, done hierarchy.Info) {
	if done.Kind != hierarchy.KindComponent {
		return
	}
	if err := r.engine.Fire(workflow.TriggerComponentComplete); err != nil {
		r.logger.Debug("component complete not applied", zap.Error(err))
		return
	}
	next, ok := nextTarget(tree)
	if !ok {
		return
	}
	if id, found := tree.Lookup(next); found {
		if info, err := tree.Node(id); err == nil && info.Kind != hierarchy.KindModule {
			r.engine.TryFire(workflow.TriggerComponentSelected)
			r.engine.TryFire(workflow.TriggerTasksBrokenDown)
		}
	}
}

func (r *Runner) finish(out Outcome) Outcome {
	r.mu.Lock()
	r.last = &out
	r.mu.Unlock()
	return out
}

func (r *Runner) report(out Outcome) {
	if r.progress == nil {
		return
	}
	r.mu.RLock()
	n := r.iterations
	r.mu.RUnlock()
	r.progress(Progress{Module: r.module, Iteration: n, Step: r.engine.Current(), Outcome: out})
}

// markStarted moves id and its ancestors out of Pending or Failed.
func markStarted(tree *hierarchy.Tree, id hierarchy.NodeID) error {
	var path []hierarchy.NodeID
	for cur := id; cur != hierarchy.NoParent; {
		path = append(path, cur)
		parent, err := tree.Parent(cur)
		if err != nil {
			return err
		}
		cur = parent
	}
	for i := len(path) - 1; i >= 0; i-- {
		stored, err := tree.StoredState(path[i])
		if err != nil {
			return err
		}
		if stored == hierarchy.StatePending || stored == hierarchy.StateFailed {
			if err := tree.TransitionTo(path[i], hierarchy.StateInProgress); err != nil {
				return err
			}
		}
	}
	return nil
}

// nextTarget returns the next node to work on in tree order: a component's
// open tasks, then the component itself, then the module.
func nextTarget(tree *hierarchy.Tree) (string, bool) {
	root := tree.Root()
	comps, err := tree.Children(root)
	if err != nil {
		return "", false
	}
	for _, c := range comps {
		tasks, _ := tree.Children(c)
		for _, t := range tasks {
			if open(tree, t) {
				return key(tree, t), true
			}
		}
		if open(tree, c) {
			return key(tree, c), true
		}
	}
	if len(comps) > 0 && open(tree, root) {
		return key(tree, root), true
	}
	return "", false
}

func open(tree *hierarchy.Tree, id hierarchy.NodeID) bool {
	s, err := tree.StoredState(id)
	return err == nil && s != hierarchy.StateComplete
}

func key(tree *hierarchy.Tree, id hierarchy.NodeID) string {
	info, _ := tree.Node(id)
	return info.Key
}

// Phase returns the module's macro phase. Building is complete when every
// leaf is complete; acceptance has passed when the module node itself was
// completed through the gate.
func (r *Runner) Phase() workflow.Phase {
	r.mu.RLock()
	a, tree := r.assessment, r.tree
	r.mu.RUnlock()

	in := workflow.PhaseInputs{
		ComponentsIdentified: a.Inputs.ComponentsIdentified,
		TasksBrokenDown:      a.Inputs.TasksBrokenDown,
	}
	if children, _ := tree.Children(tree.Root()); len(children) > 0 {
		state, _ := tree.State(tree.Root())
		in.AllBuilt = state == hierarchy.StateComplete
	}
	stored, _ := tree.StoredState(tree.Root())
	in.AllAcceptancePassed = stored == hierarchy.StateComplete
	return r.phases.Current(in)
}

// Approve gives the human approval that opens Planning.
func (r *Runner) Approve() {
	r.phases.Approve()
	r.logger.Info("requirements approved")
}

// ResetApproval revokes the approval.
func (r *Runner) ResetApproval() {
	r.phases.Reset()
	r.logger.Info("requirements approval reset")
}

// Status returns a snapshot of the runner.
func (r *Runner) Status() Status {
	r.mu.RLock()
	tree := r.tree
	n := r.iterations
	var last *Outcome
	if r.last != nil {
		cp := *r.last
		last = &cp
	}
	r.mu.RUnlock()

	state, _ := tree.State(tree.Root())
	return Status{
		Module:          r.module,
		RunID:           r.runID,
		Phase:           r.Phase(),
		Step:            r.engine.Current(),
		Approved:        r.phases.Approved(),
		State:           state,
		Summary:         tree.Summary(),
		Paused:          r.pauser.Paused(),
		Iterations:      n,
		PremiumRequests: r.meter.PremiumRequests(),
		Verifications:   r.tracker.Snapshot(),
		LastOutcome:     last,
	}
}

func (r *Runner) Module() string { return r.module }

// Toolset returns the tool handlers bound to the current tree.
func (r *Runner) Toolset() *verification.Toolset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toolset
}

// Tree returns the current work tree.
func (r *Runner) Tree() *hierarchy.Tree {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree
}

func (r *Runner) Tracker() *verification.Tracker { return r.tracker }
func (r *Runner) Pauser() *Pauser                { return r.pauser }
func (r *Runner) Engine() *workflow.Engine       { return r.engine }

// Assessment returns the assessment from the last resume.
func (r *Runner) Assessment() workflow.Assessment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assessment
}
