// Package workflow drives the per-module delivery cycle.
//
// Two nested machines run per module. The step engine walks a module through
// seven ordered steps, each advanced by exactly one trigger. Above it, the
// phase controller gates the macro phases: the first gate needs a human
// approval, the rest are computed from structural completeness. The assessor
// re-derives the current step from specification artifacts so the loop can
// restart with no persisted step pointer.
package workflow

// Step is a position in the per-module cycle.
type Step string

const (
	StepDraftSpecification    Step = "draft_specification"
	StepDetermineDependencies Step = "determine_dependencies"
	StepIdentifyComponents    Step = "identify_components"
	StepSelectNextComponent   Step = "select_next_component"
	StepBreakIntoTasks        Step = "break_into_tasks"
	StepIterateThroughTasks   Step = "iterate_through_tasks"
	StepRepeat                Step = "repeat"
)

// Steps lists every step in cycle order.
var Steps = []Step{
	StepDraftSpecification,
	StepDetermineDependencies,
	StepIdentifyComponents,
	StepSelectNextComponent,
	StepBreakIntoTasks,
	StepIterateThroughTasks,
	StepRepeat,
}

// Trigger advances the step engine.
type Trigger string

const (
	TriggerSpecApproved           Trigger = "spec_approved"
	TriggerDependenciesDetermined Trigger = "dependencies_determined"
	TriggerComponentsIdentified   Trigger = "components_identified"
	TriggerComponentSelected      Trigger = "component_selected"
	TriggerTasksBrokenDown        Trigger = "tasks_broken_down"
	TriggerComponentComplete      Trigger = "component_complete"
)

// Triggers lists every trigger in canonical firing order.
var Triggers = []Trigger{
	TriggerSpecApproved,
	TriggerDependenciesDetermined,
	TriggerComponentsIdentified,
	TriggerComponentSelected,
	TriggerTasksBrokenDown,
	TriggerComponentComplete,
}

// transitions maps (step, trigger) to the next step. Pairs not listed are
// rejected. Repeat loops back to BreakIntoTasks when the next component is
// selected.
var transitions = map[Step]map[Trigger]Step{
	StepDraftSpecification:    {TriggerSpecApproved: StepDetermineDependencies},
	StepDetermineDependencies: {TriggerDependenciesDetermined: StepIdentifyComponents},
	StepIdentifyComponents:    {TriggerComponentsIdentified: StepSelectNextComponent},
	StepSelectNextComponent:   {TriggerComponentSelected: StepBreakIntoTasks},
	StepBreakIntoTasks:        {TriggerTasksBrokenDown: StepIterateThroughTasks},
	StepIterateThroughTasks:   {TriggerComponentComplete: StepRepeat},
	StepRepeat:                {TriggerComponentSelected: StepBreakIntoTasks},
}

// Next returns the step reached by firing t at s.
func (s Step) Next(t Trigger) (Step, bool) {
	next, ok := transitions[s][t]
	return next, ok
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Index returns the position of s in Steps, or -1.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// Forward returns the one trigger s accepts and the step it leads to.
func (s Step) Forward() (Trigger, Step, bool) {
	for t, next := range transitions[s] {
		return t, next, true
	}
	return "", "", false
}
