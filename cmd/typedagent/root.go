package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danshapiro/typedagent/internal/agenterr"
)

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "typedagent",
		Short: "Run agents whose output is validated against a schema",
		Long: `typedagent runs agents defined in YAML files. Each agent returns its result
through an output tool; the result is checked against a JSON Schema and a list of
rules, and the model is asked to try again with feedback when it fails.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.AddCommand(a.runCmd(), a.validateCmd(), a.serveCmd(), a.codesCmd())
	return root
}

func (a *app) codesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "codes",
		Short: "List the error codes an execution can report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, c := range agenterr.Codes() {
				if _, err := fmt.Fprintf(a.stdout, "%-26s %-14s %s\n", c, c.Category(), c.Severity()); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
