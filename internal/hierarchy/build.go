package hierarchy

import (
	"fmt"

	"github.com/fyrsmithlabs/shipyard/internal/specdoc"
)

// DefaultComponent names the component that collects checklist items when a
// specification lists no components.
const DefaultComponent = "General"

// BuildFromSpec builds a module tree from specification content. Components
// become component nodes keyed c1, c2, ...; their top-level checklist items
// become tasks (c1.t1) and nested items become subtasks of the preceding
// task (c1.t1.s1). Checked items start Complete.
func BuildFromSpec(moduleKey, content string) (*Tree, error) {
	tree := NewTree(moduleKey, moduleKey)
	doc := specdoc.Parse(content)

	comps := specdoc.Components(doc, content)
	if len(comps) == 0 {
		if items := specdoc.Checklist(content); len(items) > 0 {
			comps = []specdoc.Component{{Name: DefaultComponent, Items: items}}
		}
	}

	for ci, comp := range comps {
		compKey := fmt.Sprintf("c%d", ci+1)
		compID, err := tree.AddChild(tree.Root(), compKey, comp.Name)
		if err != nil {
			return nil, err
		}

		taskID, taskKey := NoParent, ""
		taskN, subN := 0, 0
		for _, item := range comp.Items {
			var (
				id  NodeID
				err error
			)
			if item.Depth == 0 || taskID == NoParent {
				taskN++
				subN = 0
				taskKey = fmt.Sprintf("%s.t%d", compKey, taskN)
				id, err = tree.AddChild(compID, taskKey, item.Text)
				taskID = id
			} else {
				subN++
				id, err = tree.AddChild(taskID, fmt.Sprintf("%s.s%d", taskKey, subN), item.Text)
			}
			if err != nil {
				return nil, err
			}
			if item.Done {
				if err := markComplete(tree, id); err != nil {
					return nil, err
				}
			}
		}
	}

	return tree, nil
}

func markComplete(tree *Tree, id NodeID) error {
	if err := tree.TransitionTo(id, StateInProgress); err != nil {
		return err
	}
	return tree.TransitionTo(id, StateComplete)
}
