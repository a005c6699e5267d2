package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/verification"
)

type verifyTaskInput struct {
	TaskID             string `json:"task_id" jsonschema:"required,Task id as listed in the prompt (e.g. c1.t2)"`
	Evidence           string `json:"evidence" jsonschema:"required,What was done and how it was checked"`
	AcceptanceCriteria string `json:"acceptance_criteria" jsonschema:"required,Criteria the task must meet"`
}

type verifyComponentInput struct {
	ComponentID        string `json:"component_id" jsonschema:"required,Component id (e.g. c1)"`
	Evidence           string `json:"evidence" jsonschema:"required,What was done and how it was checked"`
	AcceptanceCriteria string `json:"acceptance_criteria" jsonschema:"required,Criteria the component must meet"`
}

type verifyModuleInput struct {
	ModuleID           string `json:"module_id" jsonschema:"required,Module id"`
	Evidence           string `json:"evidence" jsonschema:"required,What was done and how it was checked"`
	AcceptanceCriteria string `json:"acceptance_criteria" jsonschema:"required,Criteria the module must meet"`
}

type updateStatusInput struct {
	TaskID string `json:"task_id" jsonschema:"required,Id of the task, subtask, component or module"`
	Status string `json:"status" jsonschema:"required,One of in_progress, complete, failed"`
}

// toolOutput mirrors verification.ToolResult for the structured result.
type toolOutput struct {
	Status  string   `json:"status" jsonschema:"success or error"`
	Message string   `json:"message" jsonschema:"Human-readable outcome"`
	Passed  *bool    `json:"passed,omitempty" jsonschema:"Oracle verdict, set by the verification tools"`
	Gaps    []string `json:"gaps,omitempty" jsonschema:"Unmet criteria reported by the oracle"`
	State   string   `json:"state,omitempty" jsonschema:"Aggregate state after a status update"`
}

func outputOf(r verification.ToolResult) toolOutput {
	return toolOutput{
		Status:  r.Status,
		Message: r.Message,
		Passed:  r.Passed,
		Gaps:    r.Gaps,
		State:   string(r.State),
	}
}

// resultOf turns a tool result into an MCP result. Error statuses are tool
// errors the agent can act on, not protocol errors.
func resultOf(r verification.ToolResult) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: !r.OK(),
		Content: []mcp.Content{&mcp.TextContent{Text: r.Message}},
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        verification.ToolVerifyTask,
		Description: "Ask the independent oracle to verify a task before marking it complete",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args verifyTaskInput) (*mcp.CallToolResult, toolOutput, error) {
		return s.call(ctx, verification.ToolVerifyTask, func(t *verification.Toolset) (verification.ToolResult, error) {
			return t.VerifyTaskCompletion(ctx, args.TaskID, args.Evidence, args.AcceptanceCriteria)
		})
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        verification.ToolVerifyComponent,
		Description: "Ask the independent oracle to verify a component before marking it complete",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args verifyComponentInput) (*mcp.CallToolResult, toolOutput, error) {
		return s.call(ctx, verification.ToolVerifyComponent, func(t *verification.Toolset) (verification.ToolResult, error) {
			return t.VerifyComponentCompletion(ctx, args.ComponentID, args.Evidence, args.AcceptanceCriteria)
		})
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        verification.ToolVerifyModule,
		Description: "Ask the independent oracle to verify a module before marking it complete",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args verifyModuleInput) (*mcp.CallToolResult, toolOutput, error) {
		return s.call(ctx, verification.ToolVerifyModule, func(t *verification.Toolset) (verification.ToolResult, error) {
			return t.VerifyModuleCompletion(ctx, args.ModuleID, args.Evidence, args.AcceptanceCriteria)
		})
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        verification.ToolUpdateStatus,
		Description: "Set a task status. Completion requires a passing verification for the same id",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args updateStatusInput) (*mcp.CallToolResult, toolOutput, error) {
		return s.call(ctx, verification.ToolUpdateStatus, func(t *verification.Toolset) (verification.ToolResult, error) {
			return t.UpdateTaskStatus(ctx, args.TaskID, args.Status), nil
		})
	})
}

// call runs fn against the provider's current toolset with metrics. A
// verification that could not run is still reported as a tool result so the
// agent sees that it failed closed.
func (s *Server) call(ctx context.Context, tool string, fn func(*verification.Toolset) (verification.ToolResult, error)) (*mcp.CallToolResult, toolOutput, error) {
	done := s.metrics.begin(ctx, tool)
	res, err := fn(s.provider.Toolset())
	done(res, err)

	if err != nil {
		s.logger.Warn("tool failed", zap.String("tool", tool), zap.Error(err))
	}
	return resultOf(res), outputOf(res), nil
}
