package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cordum/blackboard/core/steps"
	wf "github.com/cordum/blackboard/core/workflow"
)

func newValidateCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate <manifest>...",
		Short: "Check manifests for structural and reference errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := steps.NewDefaultRegistry()
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				m, err := wf.ParseFile(path, reg)
				if err == nil {
					err = wf.Validate(m, reg, wf.VerifyOptions{StrictOrdering: strict})
				}
				if err != nil {
					failed++
					printValidation(cmd, path, err)
					continue
				}
				fmt.Fprintf(out, "ok    %s (%s, %d steps)\n", path, m.ID, len(m.Steps))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d manifests invalid", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "reject references to steps declared later")
	return cmd
}

func printValidation(cmd *cobra.Command, path string, err error) {
	out := cmd.OutOrStdout()
	var logic wf.LogicErrors
	if errors.As(err, &logic) {
		fmt.Fprintf(out, "fail  %s\n", path)
		for _, le := range logic {
			fmt.Fprintf(out, "      %s\n", le.Error())
		}
		return
	}
	fmt.Fprintf(out, "fail  %s: %v\n", path, err)
}
