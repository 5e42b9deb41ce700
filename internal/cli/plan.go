package cli

import (
	"github.com/spf13/cobra"

	"mailpacer/plan"
)

func newPlanCmd(opts *options) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the strategy a send would follow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if count < 0 {
				msgs, err := a.compose()
				if err != nil {
					return err
				}
				count = len(msgs)
			}
			a.printPlan(plan.Compute(count, a.profile.Settings))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", -1, "plan for this many messages instead of the recipient list")
	return cmd
}
