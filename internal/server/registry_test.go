package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danshapiro/typedagent/internal/agent"
	"github.com/danshapiro/typedagent/internal/agenterr"
	"github.com/danshapiro/typedagent/internal/execution"
)

func TestRunRegistry_RegisterAndGet(t *testing.T) {
	r := NewRunRegistry()
	if err := r.Register("run-1", &RunState{RunID: "run-1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok := r.Get("run-1")
	if !ok || got.RunID != "run-1" {
		t.Fatalf("Get(run-1) = %v, %v", got, ok)
	}
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected not found")
	}
}

func TestRunRegistry_DuplicateRegister(t *testing.T) {
	r := NewRunRegistry()
	rs := &RunState{RunID: "run-1"}
	if err := r.Register("run-1", rs); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("run-1", rs); err == nil {
		t.Fatal("expected error on duplicate register")
	}
}

func TestRunRegistry_ListIsSorted(t *testing.T) {
	r := NewRunRegistry()
	_ = r.Register("b", &RunState{RunID: "b"})
	_ = r.Register("a", &RunState{RunID: "a"})
	ids := r.List()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("List() = %v", ids)
	}
}

func TestRunRegistry_CancelAll(t *testing.T) {
	r := NewRunRegistry()
	var mu sync.Mutex
	var causes []error
	for _, id := range []string{"a", "b"} {
		ctx, cancel := context.WithCancelCause(context.Background())
		_ = r.Register(id, &RunState{RunID: id, Cancel: cancel})
		go func() {
			<-ctx.Done()
			mu.Lock()
			causes = append(causes, context.Cause(ctx))
			mu.Unlock()
		}()
	}
	r.Register("no-cancel", &RunState{RunID: "no-cancel"})

	r.CancelAll("shutting down")

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(causes)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d runs observed cancellation", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	for _, c := range causes {
		if c == nil || c.Error() != "shutting down" {
			t.Fatalf("unexpected cause: %v", c)
		}
	}
}

func TestRunState_Status(t *testing.T) {
	b := NewBroadcaster()
	rs := &RunState{RunID: "r", Agent: "greeter", Broadcaster: b}

	st := rs.Status()
	if st.State != StateRunning || st.LastEvent != "" {
		t.Fatalf("fresh status = %+v", st)
	}

	b.Emit(agent.Event{Kind: agent.EventIterationStart, ExecutionID: "e", Attempt: 2, Iteration: 3, Timestamp: time.Now()})
	st = rs.Status()
	if st.LastEvent != "iteration_start" || st.Attempt != 2 || st.Iteration != 3 || st.LastEventAt == nil {
		t.Fatalf("running status = %+v", st)
	}

	rs.SetResult(&agent.Result[map[string]any]{
		Output:      map[string]any{"greeting": "hi"},
		Metrics:     execution.TokenMetrics{Input: 3, Output: 4},
		ExecutionID: "e",
	}, nil)
	st = rs.Status()
	if st.State != StateSucceeded || st.Output["greeting"] != "hi" || st.Metrics.Input != 3 {
		t.Fatalf("succeeded status = %+v", st)
	}
	if !rs.Done() {
		t.Fatal("Done() = false after SetResult")
	}
}

func TestRunState_StatusCarriesExecutionErrors(t *testing.T) {
	rs := &RunState{RunID: "r"}
	primary := agenterr.OutputToolNotUsed(1, "submit_output")
	warning := agenterr.LoggingFailed("sse", "boom")
	rs.SetResult(&agent.Result[map[string]any]{ExecutionID: "e"}, agenterr.NewExecutionError(primary, warning))

	st := rs.Status()
	if st.State != StateFailed || len(st.Errors) != 2 || st.Errors[0].Code != agenterr.CodeOutputToolNotUsed {
		t.Fatalf("failed status = %+v", st)
	}
	if st.Output != nil {
		t.Fatalf("failed run reported output %v", st.Output)
	}

	other := &RunState{RunID: "o"}
	other.SetResult(nil, errors.New("plain failure"))
	st = other.Status()
	if len(st.Errors) != 1 || st.Errors[0].Code != agenterr.CodeAPIError {
		t.Fatalf("plain error status = %+v", st)
	}
}
