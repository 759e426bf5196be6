package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danshapiro/typedagent/internal/agent"
	"github.com/danshapiro/typedagent/internal/agenterr"
	"github.com/danshapiro/typedagent/internal/execution"
	"github.com/danshapiro/typedagent/internal/llm"
	"github.com/danshapiro/typedagent/internal/validation"
)

func greeterDefinition(t *testing.T) Definition {
	t.Helper()
	schema, err := validation.CompileJSONSchema[map[string]any](map[string]any{
		"type":       "object",
		"properties": map[string]any{"greeting": map[string]any{"type": "string"}},
		"required":   []any{"greeting"},
	})
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return Definition{
		Name:        "greeter",
		Description: "Greets people.",
		Prompts: agent.Prompts[map[string]any]{
			System: func(context.Context, map[string]any, execution.Context) (string, error) { return "Be kind.", nil },
			User: func(_ context.Context, in map[string]any) (string, error) {
				return "Greet " + in["name"].(string), nil
			},
		},
		Validation: agent.Validation[map[string]any]{Schema: schema},
		Model:      agent.ModelSettings{Provider: "anthropic", Name: "claude-test"},
	}
}

func greetingModel() agent.Model {
	return agent.ModelFunc(func(_ context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{Message: llm.AssistantToolCalls("", llm.ToolCallData{
			ID: "1", Name: agent.DefaultOutputToolName, Arguments: json.RawMessage(`{"greeting":"hello"}`),
		})}, nil
	})
}

// blockingModel waits for cancellation and counts the calls it received.
func blockingModel(calls *atomic.Int32) agent.Model {
	return agent.ModelFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		calls.Add(1)
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	})
}

func newTestServer(t *testing.T, model agent.Model) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(Config{Addr: ":0", Agents: []Definition{greeterDefinition(t)}, Model: model})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
	})
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func waitDone(t *testing.T, srv *Server, runID string) RunStatus {
	t.Helper()
	rs, ok := srv.registry.Get(runID)
	if !ok {
		t.Fatalf("run %s not registered", runID)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !rs.Done() {
		if time.Now().After(deadline) {
			t.Fatalf("run %s did not finish", runID)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return rs.Status()
}

func TestNew_RejectsInvalidAgents(t *testing.T) {
	bad := greeterDefinition(t)
	bad.Validation.Schema = nil
	_, err := New(Config{Agents: []Definition{bad}, Model: greetingModel()})
	if !agenterr.IsCode(err, agenterr.CodeMissingOutputSchema) {
		t.Fatalf("expected MISSING_OUTPUT_SCHEMA, got %v", err)
	}

	def := greeterDefinition(t)
	if _, err := New(Config{Agents: []Definition{def, def}, Model: greetingModel()}); err == nil {
		t.Fatal("expected duplicate agent error")
	}
	if _, err := New(Config{Agents: []Definition{def}}); err == nil {
		t.Fatal("expected missing model error")
	}
}

func TestIntegration_HealthAndAgents(t *testing.T) {
	_, ts := newTestServer(t, greetingModel())

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	health := decode[map[string]any](t, resp)
	if health["status"] != "ok" || health["agents"] != float64(1) {
		t.Fatalf("health = %v", health)
	}

	resp, err = http.Get(ts.URL + "/agents")
	if err != nil {
		t.Fatalf("GET /agents: %v", err)
	}
	agents := decode[[]AgentInfo](t, resp)
	if len(agents) != 1 || agents[0].Name != "greeter" || agents[0].Tools[0] != agent.DefaultOutputToolName {
		t.Fatalf("agents = %+v", agents)
	}
}

func TestIntegration_RunLifecycle(t *testing.T) {
	srv, ts := newTestServer(t, greetingModel())

	resp := postJSON(t, ts.URL+"/runs", SubmitRunRequest{Agent: "greeter", Input: map[string]any{"name": "Ada"}, RunID: "run-1"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	accepted := decode[map[string]string](t, resp)
	if accepted["run_id"] != "run-1" {
		t.Fatalf("accepted = %v", accepted)
	}

	st := waitDone(t, srv, "run-1")
	if st.State != StateSucceeded || st.Output["greeting"] != "hello" || st.ExecutionID == "" {
		t.Fatalf("status = %+v", st)
	}

	resp, err := http.Get(ts.URL + "/runs/run-1")
	if err != nil {
		t.Fatalf("GET run: %v", err)
	}
	got := decode[RunStatus](t, resp)
	if got.State != StateSucceeded || got.LastEvent != string(agent.EventSuccess) {
		t.Fatalf("GET status = %+v", got)
	}

	resp, err = http.Get(ts.URL + "/runs/run-1/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	var names []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	if len(names) < 3 || names[0] != "execution_start" || names[len(names)-2] != "success" || names[len(names)-1] != "done" {
		t.Fatalf("event stream = %v", names)
	}

	resp = postJSON(t, ts.URL+"/runs/run-1/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel finished run: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestIntegration_CancelRun(t *testing.T) {
	var calls atomic.Int32
	srv, ts := newTestServer(t, blockingModel(&calls))

	resp := postJSON(t, ts.URL+"/runs", SubmitRunRequest{Agent: "greeter", Input: map[string]any{"name": "Ada"}})
	accepted := decode[map[string]string](t, resp)
	runID := accepted["run_id"]
	if runID == "" {
		t.Fatal("no run id generated")
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("model was never called")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp = postJSON(t, ts.URL+"/runs/"+runID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	st := waitDone(t, srv, runID)
	if st.State != StateFailed || len(st.Errors) == 0 || st.Errors[0].Code != agenterr.CodeExecutionCancelled {
		t.Fatalf("status = %+v", st)
	}
	if c, ok := st.Errors[0].Context.(agenterr.ExecutionCancelledContext); !ok || c.Phase != agenterr.PhaseAPICall {
		t.Fatalf("cancel context = %#v", st.Errors[0].Context)
	}
}

func TestIntegration_SubmitErrors(t *testing.T) {
	_, ts := newTestServer(t, greetingModel())

	cases := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"unknown field", `{"agent":"greeter","bogus":1}`, http.StatusBadRequest},
		{"missing agent", `{}`, http.StatusBadRequest},
		{"unknown agent", `{"agent":"nobody"}`, http.StatusNotFound},
		{"bad run id", `{"agent":"greeter","run_id":"../etc"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/runs", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			body := decode[ErrorResponse](t, resp)
			if resp.StatusCode != tc.want || body.Error == "" {
				t.Fatalf("status %d body %+v, want %d", resp.StatusCode, body, tc.want)
			}
		})
	}

	resp := postJSON(t, ts.URL+"/runs", SubmitRunRequest{Agent: "greeter", Input: map[string]any{"name": "x"}, RunID: "dup"})
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/runs", SubmitRunRequest{Agent: "greeter", Input: map[string]any{"name": "x"}, RunID: "dup"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate run id: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestIntegration_RunNotFound(t *testing.T) {
	_, ts := newTestServer(t, greetingModel())
	for _, path := range []string{"/runs/nope", "/runs/nope/events"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestIntegration_CrossOriginPostBlocked(t *testing.T) {
	_, ts := newTestServer(t, greetingModel())
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/runs", strings.NewReader(`{"agent":"greeter"}`))
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestIntegration_SharedSinksSeeEveryRun(t *testing.T) {
	var seen atomic.Int32
	sink := agent.SinkFunc(func(ev agent.Event) {
		if ev.Kind == agent.EventSuccess {
			seen.Add(1)
		}
	})
	srv, err := New(Config{Agents: []Definition{greeterDefinition(t)}, Model: greetingModel(), Sinks: []agent.Sink{sink}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer func() {
		ts.Close()
		srv.Shutdown()
	}()

	for _, id := range []string{"a", "b"} {
		resp := postJSON(t, ts.URL+"/runs", SubmitRunRequest{Agent: "greeter", Input: map[string]any{"name": id}, RunID: id})
		resp.Body.Close()
	}
	waitDone(t, srv, "a")
	waitDone(t, srv, "b")
	if seen.Load() != 2 {
		t.Fatalf("shared sink saw %d successes, want 2", seen.Load())
	}
}
