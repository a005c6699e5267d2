package workflow

import (
	"fmt"
	"sync"
)

// Transition records one accepted trigger.
type Transition struct {
	Module  string
	From    Step
	To      Step
	Trigger Trigger
}

// Engine is the step machine for a single module. It is strictly linear
// with one cycle and never branches.
type Engine struct {
	mu     sync.RWMutex
	module string
	step   Step
	hooks  []func(Transition)
}

// NewEngine starts module at DraftSpecification.
func NewEngine(module string) *Engine {
	return &Engine{module: module, step: StepDraftSpecification}
}

// NewEngineAt starts module at step, typically one produced by the Assessor.
func NewEngineAt(module string, step Step) (*Engine, error) {
	if !step.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStep, step)
	}
	return &Engine{module: module, step: step}, nil
}

// Module returns the module this engine tracks.
func (e *Engine) Module() string { return e.module }

// Current returns the current step.
func (e *Engine) Current() Step {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.step
}

// Permitted reports whether t would be accepted at the current step.
func (e *Engine) Permitted(t Trigger) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.step.Next(t)
	return ok
}

// Fire applies t. An out-of-order trigger returns *InvalidTriggerError and
// leaves the step unchanged.
func (e *Engine) Fire(t Trigger) error {
	e.mu.Lock()
	next, ok := e.step.Next(t)
	if !ok {
		err := &InvalidTriggerError{Module: e.module, Step: e.step, Trigger: t}
		e.mu.Unlock()
		return err
	}
	tr := Transition{Module: e.module, From: e.step, To: next, Trigger: t}
	e.step = next
	hooks := append([]func(Transition){}, e.hooks...)
	e.mu.Unlock()

	for _, h := range hooks {
		h(tr)
	}
	return nil
}

// TryFire is Fire reporting success as a bool.
func (e *Engine) TryFire(t Trigger) bool {
	return e.Fire(t) == nil
}

// OnTransition registers fn to run after every accepted trigger.
func (e *Engine) OnTransition(fn func(Transition)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, fn)
}

// Reset moves the engine to step without validation of the path taken. Used
// when re-deriving state from artifacts.
func (e *Engine) Reset(step Step) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStep, step)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.step = step
	return nil
}

// AdvanceTo fires forward triggers until the engine reaches target. A
// target behind the current step (for example after the specification was
// edited) is applied with Reset. It returns the transitions fired.
func (e *Engine) AdvanceTo(target Step) ([]Transition, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStep, target)
	}
	current := e.Current()
	if current == target {
		return nil, nil
	}
	behind := target.Index() < current.Index()
	if current == StepRepeat {
		behind = target.Index() < StepBreakIntoTasks.Index()
	}
	if behind {
		return nil, e.Reset(target)
	}

	var fired []Transition
	for i := 0; i < len(Steps) && e.Current() != target; i++ {
		from := e.Current()
		t, to, ok := from.Forward()
		if !ok {
			break
		}
		if err := e.Fire(t); err != nil {
			return fired, err
		}
		fired = append(fired, Transition{Module: e.module, From: from, To: to, Trigger: t})
	}
	if e.Current() != target {
		return fired, e.Reset(target)
	}
	return fired, nil
}
