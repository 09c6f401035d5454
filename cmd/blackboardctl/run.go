package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cordum/blackboard/core/controlplane/workflowengine"
	"github.com/cordum/blackboard/core/infra/config"
	"github.com/cordum/blackboard/core/steps"
	wf "github.com/cordum/blackboard/core/workflow"
	"github.com/cordum/blackboard/core/workspace"
)

func newRunCmd() *cobra.Command {
	var (
		inputs       []string
		sandbox      string
		workspaceDir string
		quiet        bool
	)
	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Run a manifest in-process and print its events",
		Long: `Run executes a workflow manifest without the engine daemon. Inputs are
given as key=value pairs; values are coerced to the declared input types.
Events are printed as they are emitted and the outputs are printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			supplied, err := parseInputArgs(inputs)
			if err != nil {
				return err
			}
			cfg := config.Load()
			if workspaceDir == "" {
				workspaceDir = cfg.WorkspaceDir
			}

			reg := steps.NewDefaultRegistry()
			m, err := wf.ParseFile(args[0], reg)
			if err != nil {
				return err
			}
			if err := wf.Validate(m, reg, wf.VerifyOptions{StrictOrdering: cfg.StrictStepOrdering}); err != nil {
				return err
			}

			loc, err := time.LoadLocation(cfg.Timezone)
			if err != nil {
				loc = time.UTC
			}
			agents, err := workflowengine.NewAgentRegistry(cfg, loc)
			if err != nil {
				return err
			}
			ws, err := workspace.NewManager(workspaceDir)
			if err != nil {
				return err
			}
			engine := wf.NewEngine(reg, wf.WithAgents(agents), wf.WithWorkspace(ws))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			printer := func(evt wf.Event) error {
				if quiet && evt.Type != wf.EventStatus && evt.Type != wf.EventError {
					return nil
				}
				fmt.Fprintln(out, formatEvent(evt))
				return nil
			}
			res, err := engine.Run(ctx, m, supplied, wf.RunOptions{SandboxRoot: sandbox, Callbacks: []wf.Callback{printer}})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Outputs)
		},
	}
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "input key=value (repeatable)")
	cmd.Flags().StringVar(&sandbox, "sandbox", "", "root for relative file and dir inputs")
	cmd.Flags().StringVar(&workspaceDir, "workspace", "", "workspace directory (defaults to the configured one)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only status and error events")
	return cmd
}

func parseInputArgs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q: expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func formatEvent(evt wf.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%3d %-15s", evt.Seq, evt.Type)
	if evt.StepID != "" {
		fmt.Fprintf(&b, " step=%s", evt.StepID)
	}
	if evt.Status != "" {
		fmt.Fprintf(&b, " status=%s", evt.Status)
	}
	if evt.Message != "" {
		fmt.Fprintf(&b, " %s", evt.Message)
	}
	return b.String()
}
