package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cordum/blackboard/core/automation"
	wf "github.com/cordum/blackboard/core/workflow"
)

func newNextFireCmd() *cobra.Command {
	var (
		expr  string
		tz    string
		after string
		count int
	)
	cmd := &cobra.Command{
		Use:   "next-fire",
		Short: "Preview when a cron trigger fires, as naive UTC times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from := time.Now()
			if after != "" {
				t, err := time.Parse(time.RFC3339, after)
				if err != nil {
					return fmt.Errorf("--after must be RFC3339: %w", err)
				}
				from = t
			}
			if count <= 0 {
				count = 1
			}
			for i := 0; i < count; i++ {
				next, err := automation.NextFire(expr, tz, from)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), wf.NewNaiveTime(next).String())
				from = next
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&expr, "cron", "", "five-field cron expression or descriptor")
	cmd.Flags().StringVar(&tz, "tz", "UTC", "IANA timezone the expression is evaluated in")
	cmd.Flags().StringVar(&after, "after", "", "RFC3339 start time (default now)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of fire times to print")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}
