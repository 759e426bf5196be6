package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danshapiro/typedagent/internal/agent"
	"github.com/danshapiro/typedagent/internal/agentfile"
	"github.com/danshapiro/typedagent/internal/agenterr"
	"github.com/danshapiro/typedagent/internal/config"
	"github.com/danshapiro/typedagent/internal/logging"
	"github.com/danshapiro/typedagent/internal/modelmeta"
	"github.com/danshapiro/typedagent/internal/server"
)

type serveOptions struct {
	addr       string
	configPath string
	paths      []string
	glob       string
	root       string
}

func (a *app) serveCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve --glob 'agents/**/*.yaml' [--addr :8080]",
		Short: "Serve agent runs over HTTP with SSE progress events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "runtime config file (YAML)")
	cmd.Flags().StringArrayVar(&opts.paths, "agent", nil, "agent definition file; repeatable")
	cmd.Flags().StringVar(&opts.glob, "glob", "", "doublestar pattern selecting agent files under --root")
	cmd.Flags().StringVar(&opts.root, "root", ".", "directory --glob is evaluated in")
	return cmd
}

func (a *app) serve(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.NewWithWriter(cfg.Logging(), a.stderr)
	if err != nil {
		return err
	}
	defer func() {
		if w := logging.Sync(logger); w != nil {
			a.warn("%s", agenterr.Format(w))
		}
	}()

	files, err := agentFiles(opts.paths, opts.glob, opts.root)
	if err != nil {
		return err
	}
	defs := make([]server.Definition, 0, len(files))
	for _, p := range files {
		def, err := loadDefinition(p, cfg)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		defs = append(defs, def)
	}

	model, err := a.newModel(cfg, logger)
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		Addr:   opts.addr,
		Agents: defs,
		Model:  model,
		Sinks:  []agent.Sink{agent.NewLogSink(logger)},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}

// agentFiles merges explicit paths with the files matched by glob under root.
func agentFiles(paths []string, glob, root string) ([]string, error) {
	files := append([]string(nil), paths...)
	if glob != "" {
		matches, err := agentfile.Discover(os.DirFS(root), glob)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			files = append(files, filepath.Join(root, filepath.FromSlash(m)))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no agent files given; use --agent or --glob")
	}
	return files, nil
}

// loadDefinition loads an agent file and fills its model settings from cfg.
func loadDefinition(path string, cfg *config.Config) (server.Definition, error) {
	f, err := agentfile.Load(path)
	if err != nil {
		return server.Definition{}, err
	}
	def, err := f.Definition()
	if err != nil {
		return def, err
	}
	if cfg != nil {
		if def.Model.Name == "" {
			def.Model.Provider, def.Model.Name = modelmeta.Resolve(def.Model.Provider, cfg.Model)
		}
		if def.Model.Provider == "" {
			def.Model.Provider = cfg.Provider
		}
	}
	return def, nil
}
