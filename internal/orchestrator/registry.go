package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Factory builds the runner for a module. It should reject invalid module
// names.
type Factory func(module string) (*Runner, error)

// RunState reports a background run started by Registry.Start.
type RunState struct {
	Running bool     `json:"running"`
	Last    *Outcome `json:"last,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type entry struct {
	// ready is closed once runner is built and resumed, or initErr is set.
	ready   chan struct{}
	initErr error

	// op serializes resumes with run starts for this module.
	op sync.Mutex

	runner  *Runner
	running bool
	last    *Outcome
	err     error
}

// Registry hosts one runner per module, created on first use. All runners
// share the registry's pauser.
//
// The registry lock is never held across specification I/O; building and
// resuming a runner happens on the entry.
type Registry struct {
	factory Factory
	pauser  *Pauser
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
}

// NewRegistry creates a registry. pauser is shared by every runner the
// factory builds; pass it to NewRunner with WithPauser.
func NewRegistry(pauser *Pauser, factory Factory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pauser == nil {
		pauser = NewPauser(logger, nil)
	}
	return &Registry{
		factory: factory,
		pauser:  pauser,
		logger:  logger.Named("registry"),
		entries: map[string]*entry{},
	}
}

// Pauser returns the shared pause flag.
func (g *Registry) Pauser() *Pauser { return g.pauser }

// Runner returns the runner for module, creating and resuming it on first
// use. Concurrent callers for a new module wait for the first one.
func (g *Registry) Runner(ctx context.Context, module string) (*Runner, error) {
	e, err := g.entry(ctx, module)
	if err != nil {
		return nil, err
	}
	return e.runner, nil
}

func (g *Registry) entry(ctx context.Context, module string) (*entry, error) {
	g.mu.Lock()
	if e, ok := g.entries[module]; ok {
		g.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		if e.initErr != nil {
			return nil, e.initErr
		}
		return e, nil
	}
	if g.factory == nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	e := &entry{ready: make(chan struct{})}
	g.entries[module] = e
	g.mu.Unlock()

	r, err := g.build(ctx, module)

	g.mu.Lock()
	if err != nil {
		delete(g.entries, module)
		e.initErr = err
	} else {
		e.runner = r
	}
	g.mu.Unlock()
	close(e.ready)

	if err != nil {
		return nil, err
	}
	g.logger.Info("module registered", zap.String("module", module))
	return e, nil
}

func (g *Registry) build(ctx context.Context, module string) (*Runner, error) {
	r, err := g.factory(module)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownModule, module, err)
	}
	if _, err := r.Resume(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-assesses module after its specification changed, creating the
// runner if the module is new. A module whose loop is running is left alone
// and Reload reports false; the loop picks the change up on its next resume.
func (g *Registry) Reload(ctx context.Context, module string) (bool, error) {
	g.mu.Lock()
	_, known := g.entries[module]
	g.mu.Unlock()
	if !known {
		_, err := g.Runner(ctx, module)
		return err == nil, err
	}

	e, err := g.entry(ctx, module)
	if err != nil {
		return false, err
	}
	e.op.Lock()
	defer e.op.Unlock()
	if g.isRunning(e) {
		return false, nil
	}
	if _, err := e.runner.Resume(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Registry) isRunning(e *entry) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return e.running
}

// Lookup returns an existing runner without creating one.
func (g *Registry) Lookup(module string) (*Runner, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[module]
	if !ok || e.runner == nil {
		return nil, false
	}
	return e.runner, true
}

// Runners returns every hosted runner ordered by module.
func (g *Registry) Runners() []*Runner {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.entries))
	for name, e := range g.entries {
		if e.runner != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]*Runner, 0, len(names))
	for _, name := range names {
		out = append(out, g.entries[name].runner)
	}
	return out
}

// Start runs module's loop in the background until it stops. Only one run
// per module may be active.
func (g *Registry) Start(ctx context.Context, module string) error {
	e, err := g.entry(ctx, module)
	if err != nil {
		return err
	}
	r := e.runner

	e.op.Lock()
	g.mu.Lock()
	if e.running {
		g.mu.Unlock()
		e.op.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, module)
	}
	e.running = true
	e.err = nil
	g.mu.Unlock()
	e.op.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		out, err := r.Run(ctx)

		g.mu.Lock()
		e.running = false
		e.last = &out
		e.err = err
		g.mu.Unlock()

		switch {
		case err == nil:
			g.logger.Info("run finished", zap.String("module", module), zap.String("result", string(out.Result)))
		case errors.Is(err, ErrCancelled):
			g.logger.Info("run cancelled", zap.String("module", module))
		default:
			g.logger.Warn("run stopped", zap.String("module", module), zap.String("result", string(out.Result)), zap.Error(err))
		}
	}()
	return nil
}

// State reports the background run state for module.
func (g *Registry) State(module string) (RunState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[module]
	if !ok || e.runner == nil {
		return RunState{}, false
	}
	st := RunState{Running: e.running}
	if e.last != nil {
		cp := *e.last
		st.Last = &cp
	}
	if e.err != nil {
		st.Error = e.err.Error()
	}
	return st, true
}

// Wait blocks until every background run has returned.
func (g *Registry) Wait() {
	g.wg.Wait()
}
