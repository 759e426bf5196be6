package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/danshapiro/typedagent/internal/agent"
)

// validRunID matches ULIDs, UUIDs, and other safe identifiers.
var validRunID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": len(s.agents),
		"runs":   len(s.registry.List()),
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.infos)
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	name := strings.TrimSpace(req.Agent)
	if name == "" {
		writeError(w, http.StatusBadRequest, "agent is required")
		return
	}
	def, ok := s.agents[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("agent %s not found", name))
		return
	}
	input := req.Input
	if input == nil {
		input = map[string]any{}
	}

	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = ulid.Make().String()
	}
	if !validRunID.MatchString(runID) {
		writeError(w, http.StatusBadRequest, "run_id must be alphanumeric with dashes/underscores, 1-128 chars")
		return
	}

	broadcaster := NewBroadcaster()
	sinks := append([]agent.Sink{broadcaster}, s.config.Sinks...)
	a, err := agent.New(def, s.config.Model,
		agent.WithLogger(s.logger.With(zap.String("run_id", runID))),
		agent.WithSinks(sinks...),
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithCancelCause(s.baseCtx)
	rs := &RunState{
		RunID:       runID,
		Agent:       name,
		Broadcaster: broadcaster,
		Cancel:      cancel,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.registry.Register(runID, rs); err != nil {
		cancel(nil)
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	go func() {
		defer broadcaster.Close()
		defer cancel(nil)
		res, err := a.Execute(ctx, input)
		rs.SetResult(res, err)
		if err != nil {
			s.logger.Info("run failed", zap.String("run_id", runID), zap.String("agent", name), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "accepted",
	})
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*RunState, bool) {
	runID := r.PathValue("id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return nil, false
	}
	rs, ok := s.registry.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return nil, false
	}
	return rs, true
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rs.Status())
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	WriteSSE(w, r, rs.Broadcaster)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if rs.Done() {
		writeError(w, http.StatusConflict, fmt.Sprintf("run %s already finished", rs.RunID))
		return
	}
	rs.Cancel(fmt.Errorf("canceled via HTTP API"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
