// Package http provides the operator API for shipyard.
package http

import (
	"github.com/fyrsmithlabs/shipyard/internal/orchestrator"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status  string                `json:"status"`
	Version string                `json:"version,omitempty"`
	Paused  bool                  `json:"paused"`
	Modules []orchestrator.Status `json:"modules"`
}

// PauseResponse is the response body for the pause and resume endpoints.
type PauseResponse struct {
	Paused  bool `json:"paused"`
	Changed bool `json:"changed"`
}

// ModuleStatusResponse is the response body for GET
// /api/v1/modules/:module/status.
type ModuleStatusResponse struct {
	orchestrator.Status
	Run orchestrator.RunState `json:"run"`
}

// ApprovalResponse is the response body for approve and reset-approval.
type ApprovalResponse struct {
	Module   string `json:"module"`
	Approved bool   `json:"approved"`
}
