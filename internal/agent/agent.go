// Package agent defines the narrow contract shipyard uses to call the
// external LLM worker, plus wrappers that meter and throttle those calls.
package agent

import (
	"context"
)

// Tool describes a tool handler the agent may call.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// Request is one agent invocation.
type Request struct {
	SystemPrompt string `json:"system_prompt"`
	Model        string `json:"model"`
	Tools        []Tool `json:"tools,omitempty"`
}

// TokenUsage reports what an invocation consumed.
type TokenUsage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	PremiumRequests int `json:"premium_requests"`
}

// Response is the outcome of one invocation.
type Response struct {
	Output        string     `json:"output"`
	Usage         TokenUsage `json:"usage"`
	ToolCallsMade int        `json:"tool_calls_made"`
	IsComplete    bool       `json:"is_complete"`
}

// Invoker abstracts the agent client.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (*Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
