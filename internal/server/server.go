// Package server exposes agent executions over HTTP with Server-Sent Events progress.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/typedagent/internal/agent"
)

// Definition is the untyped agent shape loaded from agent files.
type Definition = agent.Definition[map[string]any, map[string]any]

// Config holds server configuration.
type Config struct {
	Addr   string // listen address, e.g. ":8080"
	Agents []Definition
	Model  agent.Model

	// Sinks receive the events of every run, in addition to the run's own SSE stream.
	Sinks  []agent.Sink
	Logger *zap.Logger
}

// Server is the HTTP server for running agents.
type Server struct {
	config   Config
	agents   map[string]Definition
	infos    []AgentInfo
	registry *RunRegistry
	baseCtx  context.Context
	cancel   context.CancelFunc
	httpSrv  *http.Server
	logger   *zap.Logger
}

// New validates every agent definition and builds the server. Agent names must be unique.
func New(cfg Config) (*Server, error) {
	if cfg.Model == nil {
		return nil, errors.New("server: model is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	agents := make(map[string]Definition, len(cfg.Agents))
	infos := make([]AgentInfo, 0, len(cfg.Agents))
	for _, def := range cfg.Agents {
		a, err := agent.New(def, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", def.Name, err)
		}
		if _, dup := agents[a.Name()]; dup {
			return nil, fmt.Errorf("agent %q is defined more than once", a.Name())
		}
		agents[a.Name()] = def
		info := AgentInfo{Name: a.Name(), Description: def.Description}
		for _, t := range a.Tools() {
			info.Tools = append(info.Tools, t.Name)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		agents:   agents,
		infos:    infos,
		registry: NewRunRegistry(),
		baseCtx:  ctx,
		cancel:   cancel,
		logger:   logger.Named("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("POST /runs", s.handleSubmitRun)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe starts the server and blocks until ctx is done or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down", zap.NamedError("cause", context.Cause(ctx)))
			s.Shutdown()
		case <-s.baseCtx.Done():
		}
	}()

	s.logger.Info("listening", zap.String("addr", s.config.Addr), zap.Int("agents", len(s.agents)))
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// csrfProtect rejects cross-origin POST requests. Browsers set Origin on cross-origin
// requests; CLI callers omit it.
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					writeError(w, http.StatusForbidden, "invalid Origin header")
					return
				}
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					writeError(w, http.StatusForbidden, "cross-origin request blocked")
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown cancels every run and stops the HTTP server.
func (s *Server) Shutdown() {
	s.registry.CancelAll("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.cancel()
}
