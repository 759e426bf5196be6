package server

import (
	"time"

	"github.com/danshapiro/typedagent/internal/agenterr"
	"github.com/danshapiro/typedagent/internal/execution"
)

// SubmitRunRequest is the POST /runs request body.
type SubmitRunRequest struct {
	// Agent names one of the definitions the server was started with.
	Agent string `json:"agent"`

	// Input is passed to the agent's prompts. A missing input is an empty object.
	Input map[string]any `json:"input,omitempty"`

	// RunID is optional. If empty, a ULID is generated.
	RunID string `json:"run_id,omitempty"`
}

// Run states reported by GET /runs/{id}.
const (
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// RunStatus is returned by GET /runs/{id}.
type RunStatus struct {
	RunID       string                  `json:"run_id"`
	Agent       string                  `json:"agent"`
	State       string                  `json:"state"`
	StartedAt   time.Time               `json:"started_at"`
	ExecutionID string                  `json:"execution_id,omitempty"`
	Attempt     int                     `json:"attempt,omitempty"`
	Iteration   int                     `json:"iteration,omitempty"`
	LastEvent   string                  `json:"last_event,omitempty"`
	LastEventAt *time.Time              `json:"last_event_at,omitempty"`
	Output      map[string]any          `json:"output,omitempty"`
	Errors      []*agenterr.Error       `json:"errors,omitempty"`
	Warnings    []*agenterr.Error       `json:"warnings,omitempty"`
	Metrics     *execution.TokenMetrics `json:"metrics,omitempty"`
	LatencyMS   int64                   `json:"latency_ms,omitempty"`
}

// AgentInfo is one entry of GET /agents.
type AgentInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
}

// ErrorResponse is a standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
