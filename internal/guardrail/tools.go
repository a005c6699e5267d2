package guardrail

import "fmt"

// ToolDisciplineName identifies the tool-discipline guardrail.
const ToolDisciplineName = "tool_discipline"

// ToolDiscipline warns when one invocation makes more tool calls than the
// threshold. It never blocks.
type ToolDiscipline struct {
	threshold int
}

func NewToolDiscipline(threshold int) (*ToolDiscipline, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("tool discipline: threshold must be >= 1, got %d", threshold)
	}
	return &ToolDiscipline{threshold: threshold}, nil
}

func (t *ToolDiscipline) Name() string { return ToolDisciplineName }

func (t *ToolDiscipline) Check(gc Context) Result {
	if gc.ToolCalls > t.threshold {
		return WarnResult(t.Name(), "%d tool calls in one invocation exceeds the limit of %d", gc.ToolCalls, t.threshold)
	}
	return PassResult(t.Name())
}
