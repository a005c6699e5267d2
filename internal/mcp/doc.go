// Package mcp serves the verification tool contract over the Model Context
// Protocol (github.com/modelcontextprotocol/go-sdk/mcp).
//
// One Server exposes a module's four tools: verify_task_completion,
// verify_component_completion, verify_module_completion and
// update_task_status. The handlers delegate to the module runner's current
// verification.Toolset, so the agent and the control loop share one
// tracker and one completion gate.
package mcp
