package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/shipyard/internal/hierarchy"
	"github.com/fyrsmithlabs/shipyard/internal/verification"
	"github.com/fyrsmithlabs/shipyard/internal/workflow"
)

// stepInstructions tell the agent what a planning step should produce in
// the module specification.
var stepInstructions = map[workflow.Step]string{
	workflow.StepDraftSpecification:    "Draft the module specification: purpose, scope, and acceptance criteria.",
	workflow.StepDetermineDependencies: "Add a \"Dependencies\" section listing what this module depends on.",
	workflow.StepIdentifyComponents:    "Add a \"Components\" section with one subsection per component.",
	workflow.StepSelectNextComponent:   "Select the next component to build and break it into checklist tasks (\"- [ ] ...\").",
	workflow.StepBreakIntoTasks:        "Break every component without tasks into checklist tasks (\"- [ ] ...\").",
	workflow.StepIterateThroughTasks:   "Work through the open checklist tasks.",
	workflow.StepRepeat:                "Every task is complete. Verify the module and mark it complete.",
}

func planningPrompt(module string, step workflow.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are working on module %q, step %s.\n\n", module, step)
	b.WriteString(stepInstructions[step])
	b.WriteString("\n\nEdit the module specification only. Do not write code in this step.\n")
	return b.String()
}

func workPrompt(module string, info hierarchy.Info, tree *hierarchy.Tree) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are working on module %q.\n\n", module)

	switch info.Kind {
	case hierarchy.KindModule:
		fmt.Fprintf(&b, "Every component of the module is complete. Gather evidence that the module meets its acceptance criteria.\n")
	case hierarchy.KindComponent:
		fmt.Fprintf(&b, "Every task of component %s (%q) is complete. Gather evidence that the component meets its acceptance criteria.\n", info.Key, info.Name)
	default:
		fmt.Fprintf(&b, "Current %s %s: %s\n", info.Kind, info.Key, info.Name)
		if children, err := tree.Children(info.ID); err == nil && len(children) > 0 {
			b.WriteString("Subtasks:\n")
			for _, c := range children {
				if ci, err := tree.Node(c); err == nil {
					fmt.Fprintf(&b, "  - %s [%s] %s\n", ci.Key, ci.State, ci.Name)
				}
			}
		}
	}

	scope, _ := verification.ScopeOf(info.Kind)
	tool := map[verification.Scope]string{
		verification.ScopeTask:      verification.ToolVerifyTask,
		verification.ScopeComponent: verification.ToolVerifyComponent,
		verification.ScopeModule:    verification.ToolVerifyModule,
	}[scope]
	fmt.Fprintf(&b, "\nWhen done, call %s with %q and your evidence, then call %s(%q, \"complete\").\n",
		tool, info.Key, verification.ToolUpdateStatus, info.Key)
	b.WriteString("A completion without a passing verification for the same id in this session is rejected.\n")
	if info.Kind == hierarchy.KindTask || info.Kind == hierarchy.KindSubtask {
		b.WriteString("After the completion is accepted, tick the item's checkbox (\"- [x]\") in the module specification.\n")
	}
	return b.String()
}
