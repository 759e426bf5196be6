package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danshapiro/typedagent/internal/agent"
	"github.com/danshapiro/typedagent/internal/agenterr"
)

// RunState tracks a single running or completed agent execution.
type RunState struct {
	RunID       string
	Agent       string
	Broadcaster *Broadcaster
	Cancel      context.CancelCauseFunc
	StartedAt   time.Time

	mu     sync.Mutex
	result *agent.Result[map[string]any]
	err    error
	done   bool
}

// SetResult records the terminal outcome of the run.
func (rs *RunState) SetResult(res *agent.Result[map[string]any], err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.result = res
	rs.err = err
	rs.done = true
}

// Done reports whether the run has finished.
func (rs *RunState) Done() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.done
}

// Status returns the current run status for the HTTP API.
func (rs *RunState) Status() RunStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	status := RunStatus{
		RunID:     rs.RunID,
		Agent:     rs.Agent,
		State:     StateRunning,
		StartedAt: rs.StartedAt,
	}
	if rs.Broadcaster != nil {
		if last, ok := rs.Broadcaster.Last(); ok {
			ts := last.Timestamp
			status.ExecutionID = last.ExecutionID
			status.Attempt = last.Attempt
			status.Iteration = last.Iteration
			status.LastEvent = string(last.Kind)
			status.LastEventAt = &ts
		}
	}
	if !rs.done {
		return status
	}

	status.State = StateSucceeded
	if res := rs.result; res != nil {
		m := res.Metrics
		status.ExecutionID = res.ExecutionID
		status.Metrics = &m
		status.LatencyMS = res.Latency.Milliseconds()
		status.Warnings = res.Warnings
	}
	if rs.err != nil {
		status.State = StateFailed
		var ee *agenterr.ExecutionError
		if errors.As(rs.err, &ee) {
			status.Errors = ee.Errors
		} else {
			status.Errors = []*agenterr.Error{agenterr.Classify(rs.err, "")}
		}
		return status
	}
	if rs.result != nil {
		status.Output = rs.result.Output
	}
	return status
}

// RunRegistry tracks all runs managed by this server instance.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*RunState
}

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{
		runs: make(map[string]*RunState),
	}
}

// Register adds a run to the registry. Returns error if ID already exists.
func (r *RunRegistry) Register(runID string, rs *RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[runID]; exists {
		return fmt.Errorf("run %s already exists", runID)
	}
	r.runs[runID] = rs
	return nil
}

// Get returns a run by ID, or nil and false if not found.
func (r *RunRegistry) Get(runID string) (*RunState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.runs[runID]
	return rs, ok
}

// List returns all run IDs in sorted order.
func (r *RunRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CancelAll cancels all running runs with the given reason.
func (r *RunRegistry) CancelAll(reason string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rs := range r.runs {
		if rs.Cancel != nil {
			rs.Cancel(errors.New(reason))
		}
	}
}
