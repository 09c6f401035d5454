package main

import (
	"github.com/spf13/cobra"

	"github.com/cordum/blackboard/core/infra/buildinfo"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blackboardctl",
		Short: "Validate, run and schedule blackboard workflows",
		Long: `blackboardctl works with workflow manifests outside the engine daemon.

It checks manifests against the registered step types, runs a manifest
in-process while printing its events, and previews cron trigger times.`,
		Version:       buildinfo.Info(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newRunCmd(), newNextFireCmd())
	return root
}
