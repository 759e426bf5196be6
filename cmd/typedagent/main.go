package main

import (
	"errors"
	"io"
	"os"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/danshapiro/typedagent/internal/agent"
	"github.com/danshapiro/typedagent/internal/config"
	_ "github.com/danshapiro/typedagent/internal/llm/providers/anthropic"
)

// errReported marks failures that were already printed in full.
var errReported = errors.New("reported")

func main() {
	os.Exit(run(newApp(os.Stdin, os.Stdout, os.Stderr), os.Args[1:]))
}

func run(a *app, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			a.fail("Error: %v", err)
		}
		return 1
	}
	return 0
}

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// newModel builds the model collaborator for run. Tests replace it.
	newModel func(cfg *config.Config, logger *zap.Logger) (agent.Model, error)
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr, newModel: newClientModel}
}

func (a *app) fail(format string, args ...any) {
	_, _ = color.New(color.FgRed).Fprintf(a.stderr, format+"\n", args...)
}

func (a *app) warn(format string, args ...any) {
	_, _ = color.New(color.FgYellow).Fprintf(a.stderr, format+"\n", args...)
}

func (a *app) ok(format string, args ...any) {
	_, _ = color.New(color.FgGreen).Fprintf(a.stdout, format+"\n", args...)
}
