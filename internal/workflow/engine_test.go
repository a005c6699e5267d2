package workflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_CanonicalOrderVisitsAllSteps(t *testing.T) {
	e := NewEngine("billing")
	visited := []Step{e.Current()}

	for _, trig := range Triggers {
		require.NoError(t, e.Fire(trig), "trigger %s", trig)
		visited = append(visited, e.Current())
	}

	assert.Equal(t, Steps, visited)
	assert.Equal(t, StepRepeat, e.Current())
}

func TestEngine_OutOfOrderRejected(t *testing.T) {
	for _, step := range Steps {
		for _, trig := range Triggers {
			if _, ok := step.Next(trig); ok {
				continue
			}
			e, err := NewEngineAt("billing", step)
			require.NoError(t, err)

			err = e.Fire(trig)
			var invalid *InvalidTriggerError
			require.True(t, errors.As(err, &invalid), "%s at %s", trig, step)
			assert.ErrorIs(t, err, ErrInvalidTrigger)
			assert.Equal(t, step, invalid.Step)
			assert.Equal(t, trig, invalid.Trigger)
			assert.Equal(t, step, e.Current(), "step unchanged")
			assert.False(t, e.TryFire(trig))
		}
	}
}

func TestEngine_RepeatCycle(t *testing.T) {
	e, err := NewEngineAt("billing", StepRepeat)
	require.NoError(t, err)

	assert.True(t, e.Permitted(TriggerComponentSelected))
	assert.False(t, e.Permitted(TriggerSpecApproved))

	require.NoError(t, e.Fire(TriggerComponentSelected))
	assert.Equal(t, StepBreakIntoTasks, e.Current())
	require.NoError(t, e.Fire(TriggerTasksBrokenDown))
	require.NoError(t, e.Fire(TriggerComponentComplete))
	assert.Equal(t, StepRepeat, e.Current())
}

func TestEngine_EachStepHasExactlyOneTrigger(t *testing.T) {
	for _, step := range Steps {
		n := 0
		for _, trig := range Triggers {
			if _, ok := step.Next(trig); ok {
				n++
			}
		}
		assert.Equal(t, 1, n, "step %s", step)
	}
}

func TestEngine_OnTransition(t *testing.T) {
	e := NewEngine("billing")
	var got []Transition
	e.OnTransition(func(tr Transition) { got = append(got, tr) })

	require.NoError(t, e.Fire(TriggerSpecApproved))
	_ = e.Fire(TriggerTasksBrokenDown)

	require.Len(t, got, 1)
	assert.Equal(t, Transition{
		Module:  "billing",
		From:    StepDraftSpecification,
		To:      StepDetermineDependencies,
		Trigger: TriggerSpecApproved,
	}, got[0])
}

func TestEngine_HookRegistersHook(t *testing.T) {
	e := NewEngine("billing")
	calls := 0
	e.OnTransition(func(Transition) {
		calls++
		e.OnTransition(func(Transition) { calls++ })
	})

	require.NoError(t, e.Fire(TriggerSpecApproved))
	assert.Equal(t, 1, calls, "hooks added during a fire run from the next one")
	require.NoError(t, e.Fire(TriggerDependenciesDetermined))
	assert.Equal(t, 3, calls)
}

func TestNewEngineAt_InvalidStep(t *testing.T) {
	_, err := NewEngineAt("billing", Step("bogus"))
	assert.ErrorIs(t, err, ErrInvalidStep)

	e := NewEngine("billing")
	assert.ErrorIs(t, e.Reset(Step("bogus")), ErrInvalidStep)
	require.NoError(t, e.Reset(StepIterateThroughTasks))
	assert.Equal(t, StepIterateThroughTasks, e.Current())
}

func TestEngine_ConcurrentReaders(t *testing.T) {
	e := NewEngine("billing")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = e.Current()
				_ = e.Permitted(TriggerSpecApproved)
			}
		}()
	}
	for _, trig := range Triggers {
		require.NoError(t, e.Fire(trig))
	}
	wg.Wait()
	assert.Equal(t, StepRepeat, e.Current())
}

func TestStep_Index(t *testing.T) {
	assert.Equal(t, 0, StepDraftSpecification.Index())
	assert.Equal(t, 6, StepRepeat.Index())
	assert.Equal(t, -1, Step("x").Index())
}

func TestEngine_AdvanceTo(t *testing.T) {
	e := NewEngine("billing")
	var hooked []Trigger
	e.OnTransition(func(tr Transition) { hooked = append(hooked, tr.Trigger) })

	fired, err := e.AdvanceTo(StepSelectNextComponent)
	require.NoError(t, err)
	require.Len(t, fired, 3)
	assert.Equal(t, StepSelectNextComponent, e.Current())
	assert.Equal(t, []Trigger{TriggerSpecApproved, TriggerDependenciesDetermined, TriggerComponentsIdentified}, hooked)

	fired, err = e.AdvanceTo(StepSelectNextComponent)
	require.NoError(t, err)
	assert.Empty(t, fired)

	// Going backwards is a reset and fires nothing.
	hooked = nil
	fired, err = e.AdvanceTo(StepDetermineDependencies)
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Empty(t, hooked)
	assert.Equal(t, StepDetermineDependencies, e.Current())

	_, err = e.AdvanceTo(Step("bogus"))
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestEngine_AdvanceToFromRepeat(t *testing.T) {
	e, err := NewEngineAt("billing", StepRepeat)
	require.NoError(t, err)

	fired, err := e.AdvanceTo(StepIterateThroughTasks)
	require.NoError(t, err)
	require.Len(t, fired, 2)
	assert.Equal(t, TriggerComponentSelected, fired[0].Trigger)
	assert.Equal(t, TriggerTasksBrokenDown, fired[1].Trigger)

	_, err = e.AdvanceTo(StepRepeat)
	require.NoError(t, err)
	fired, err = e.AdvanceTo(StepIdentifyComponents)
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Equal(t, StepIdentifyComponents, e.Current())
}

func TestStep_Forward(t *testing.T) {
	trig, next, ok := StepRepeat.Forward()
	require.True(t, ok)
	assert.Equal(t, TriggerComponentSelected, trig)
	assert.Equal(t, StepBreakIntoTasks, next)

	_, _, ok = Step("bogus").Forward()
	assert.False(t, ok)
}
