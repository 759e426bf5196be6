package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/danshapiro/typedagent/internal/agent"
	"github.com/danshapiro/typedagent/internal/llm"
)

var errValidateOnly = errors.New("validate: model calls are disabled")

func (a *app) validateCmd() *cobra.Command {
	var (
		paths []string
		glob  string
		root  string
	)
	cmd := &cobra.Command{
		Use:   "validate [--agent <file>]... [--glob 'agents/**/*.yaml' --root <dir>]",
		Short: "Check agent definitions without calling a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := agentFiles(paths, glob, root)
			if err != nil {
				return err
			}
			failed := 0
			for _, p := range files {
				if err := validateFile(p); err != nil {
					failed++
					a.fail("✗ %s: %v", p, err)
					continue
				}
				a.ok("✓ %s", p)
			}
			if failed > 0 {
				a.fail("%d of %d agent files are invalid", failed, len(files))
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&paths, "agent", nil, "agent definition file; repeatable")
	cmd.Flags().StringVar(&glob, "glob", "", "doublestar pattern selecting agent files under --root")
	cmd.Flags().StringVar(&root, "root", ".", "directory --glob is evaluated in")
	return cmd
}

// validateFile runs the same checks as run, up to and including agent.New.
func validateFile(path string) error {
	def, err := loadDefinition(path, nil)
	if err != nil {
		return err
	}
	_, err = agent.New(def, agent.ModelFunc(func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{}, errValidateOnly
	}))
	return err
}
