// Package orchestrator runs the per-module control loop.
//
// # Overview
//
// A Runner owns everything one module needs: the work tree, the step
// engine, the phase controller, the guardrail pipeline, verification
// tracking, the completion gate and the failure handler. Only one agent
// invocation is outstanding per module at a time, and every state change
// happens synchronously relative to that invocation.
//
// # Iterations
//
// Each iteration:
//
//	wait at safe point → reset verifications → pre-invocation guardrails
//	→ invoke agent → post-invocation guardrails → classify outcome
//
// A Block from the pre-invocation guardrails means the agent is not
// invoked at all. Verifications are cleared at the start of every
// invocation so a pass from an earlier call cannot satisfy a later claim.
//
// # Restart
//
// No step pointer is persisted. Resume re-reads the module specification,
// re-derives the step and rebuilds the work tree from its checklist.
//
// # Pause
//
// A Pauser is a global flag checked only at safe points, never mid-call.
// Pausing within an invocation takes effect before the next one.
package orchestrator
