package cli

import (
	"context"

	"github.com/spf13/cobra"

	"mailpacer/dispatch"
	"mailpacer/internal/email"
	"mailpacer/resubmit"
)

func newRetryCmd(opts *options) *cobra.Command {
	var (
		from        string
		useCampaign bool
	)
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Resubmit the failures of an earlier run",
		Long: `retry reads a failures CSV or a snapshot and sends to every recipient in
it again, following a freshly computed plan. Without --from the newest
snapshot in the report directory is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			var campaign *email.Campaign
			if useCampaign {
				if campaign, err = a.store.LoadCampaign(); err != nil {
					return err
				}
			}
			attachments, err := a.attachments()
			if err != nil {
				return err
			}
			d, err := a.dispatcher()
			if err != nil {
				return err
			}
			co := &resubmit.Coordinator{
				Dispatcher: d,
				Store:      a.reports,
				Sender:     a.profile.Sender,
				Log:        a.log,
			}
			return a.execute(cmd.Context(), d, func(ctx context.Context, onProgress func(dispatch.Progress), isCancelled func() bool) (*dispatch.OutcomeSet, error) {
				return co.RetryFailures(ctx, from, campaign, attachments, onProgress, isCancelled)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "failures CSV or snapshot JSON to resubmit (default: newest snapshot)")
	cmd.Flags().BoolVar(&useCampaign, "use-campaign", false, "resend the active campaign instead of the follow-up template")
	return cmd
}
