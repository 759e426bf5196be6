package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/danshapiro/typedagent/internal/agent"
	"github.com/danshapiro/typedagent/internal/agenterr"
	"github.com/danshapiro/typedagent/internal/config"
	"github.com/danshapiro/typedagent/internal/llm"
	"github.com/danshapiro/typedagent/internal/logging"
	"github.com/danshapiro/typedagent/internal/telemetry"
)

type runOptions struct {
	agentPath  string
	inputPath  string
	configPath string
	metrics    bool
}

func (a *app) runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run --agent <file.yaml> [--input <file.json>|-]",
		Short: "Execute an agent and print its validated output as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.execute(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.agentPath, "agent", "", "agent definition file (YAML or JSON)")
	cmd.Flags().StringVar(&opts.inputPath, "input", "", "JSON object passed to the prompts; - reads stdin")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "runtime config file (YAML)")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "print execution metrics to stderr")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func (a *app) execute(ctx context.Context, opts runOptions) (err error) {
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

	def, err := loadDefinition(opts.agentPath, cfg)
	if err != nil {
		return err
	}
	input, err := a.readInput(opts.inputPath)
	if err != nil {
		return err
	}

	model, err := a.newModel(cfg, logger)
	if err != nil {
		return err
	}
	provider, reader := telemetry.NewManualProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	metrics, err := telemetry.NewMetrics(provider.Meter("typedagent"), logger)
	if err != nil {
		return err
	}
	ag, err := agent.New(def, model,
		agent.WithLogger(logger),
		agent.WithSinks(agent.NewLogSink(logger), metrics),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	res, execErr := ag.Execute(ctx, input)
	a.summary(res)
	if opts.metrics {
		if err := a.printMetrics(reader); err != nil {
			a.warn("metrics: %v", err)
		}
	}
	if execErr != nil {
		var ee *agenterr.ExecutionError
		if errors.As(execErr, &ee) {
			a.fail("Execution of %q failed:\n%s", def.Name, ee.Error())
			return errReported
		}
		return execErr
	}
	for _, w := range res.Warnings {
		a.warn("%s", agenterr.Format(w))
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Output)
}

func (a *app) readInput(path string) (map[string]any, error) {
	var r io.Reader
	switch path {
	case "":
		return map[string]any{}, nil
	case "-":
		r = a.stdin
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var input map[string]any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&input); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

func (a *app) summary(res *agent.Result[map[string]any]) {
	if res == nil {
		return
	}
	_, _ = fmt.Fprintf(a.stderr, "execution %s: attempts=%d iterations=%d tokens(in=%d out=%d cache_read=%d cache_write=%d) latency=%s\n",
		res.ExecutionID, res.Attempts, res.Iterations,
		res.Metrics.Input, res.Metrics.Output, res.Metrics.CacheReadInput, res.Metrics.CacheCreationInput,
		res.Latency.Round(time.Millisecond))
}

func (a *app) printMetrics(reader sdkmetric.Reader) error {
	points, err := telemetry.Snapshot(context.Background(), reader)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.stderr)
	enc.SetIndent("", "  ")
	return enc.Encode(points)
}

// newClientModel builds an llm.Client from the environment's provider factories.
func newClientModel(cfg *config.Config, logger *zap.Logger) (agent.Model, error) {
	client, err := llm.NewFromEnv()
	if err != nil {
		return nil, err
	}
	if p := strings.TrimSpace(cfg.Provider); p != "" {
		client.SetDefaultProvider(p)
	}
	if cfg.Retry.MaxRetries > 0 || cfg.Retry.PerTryTimeout > 0 {
		client.Use(llm.Retry(cfg.Retry.Policy(), logger))
	}
	if lim := cfg.RateLimit.Limiter(); lim != nil {
		client.Use(llm.RateLimit(lim))
	}
	client.Use(llm.Logging(logger))
	return client, nil
}
