package workflow

import "sync"

// Phase is a macro stage of a module's delivery.
type Phase string

const (
	PhaseRequirementGathering Phase = "requirement_gathering"
	PhasePlanning             Phase = "planning"
	PhaseBuilding             Phase = "building"
	PhaseComplete             Phase = "complete"
)

// PhaseInputs are the structural facts the caller derives from the current
// specification, the task tree and the verification tracker.
type PhaseInputs struct {
	ComponentsIdentified bool `json:"components_identified"`
	TasksBrokenDown      bool `json:"tasks_broken_down"`
	AllBuilt             bool `json:"all_built"`
	AllAcceptancePassed  bool `json:"all_acceptance_passed"`
}

// PhaseController holds the single human gate (requirements approval) and
// evaluates the automatic gates. It never inspects files itself.
type PhaseController struct {
	mu       sync.RWMutex
	approved bool
}

// NewPhaseController returns a controller with approval not yet given.
func NewPhaseController() *PhaseController {
	return &PhaseController{}
}

// Approve records the human approval that opens Planning.
func (c *PhaseController) Approve() {
	c.mu.Lock()
	c.approved = true
	c.mu.Unlock()
}

// Reset revokes a previous approval.
func (c *PhaseController) Reset() {
	c.mu.Lock()
	c.approved = false
	c.mu.Unlock()
}

// Approved reports whether requirements have been approved.
func (c *PhaseController) Approved() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.approved
}

// CanEnterPlanning gates RequirementGathering → Planning.
func (c *PhaseController) CanEnterPlanning() bool {
	return c.Approved()
}

// CanEnterBuilding gates Planning → Building.
func (c *PhaseController) CanEnterBuilding(componentsIdentified, tasksBrokenDown bool) bool {
	return componentsIdentified && tasksBrokenDown
}

// CanComplete gates Building → Complete.
func (c *PhaseController) CanComplete(allBuilt, allAcceptancePassed bool) bool {
	return allBuilt && allAcceptancePassed
}

// Current returns the furthest phase whose gates are all open.
func (c *PhaseController) Current(in PhaseInputs) Phase {
	switch {
	case !c.CanEnterPlanning():
		return PhaseRequirementGathering
	case !c.CanEnterBuilding(in.ComponentsIdentified, in.TasksBrokenDown):
		return PhasePlanning
	case !c.CanComplete(in.AllBuilt, in.AllAcceptancePassed):
		return PhaseBuilding
	default:
		return PhaseComplete
	}
}
