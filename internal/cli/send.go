package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mailpacer/dispatch"
	"mailpacer/internal/email"
	"mailpacer/plan"
)

func newSendCmd(opts *options) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send the active campaign to the recipient list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			msgs, err := a.compose()
			if err != nil {
				return err
			}
			a.printPlan(plan.Compute(len(msgs), a.profile.Settings))
			if dryRun {
				fmt.Fprintln(a.out, "Dry run: nothing sent.")
				return nil
			}

			attachments, err := a.attachments()
			if err != nil {
				return err
			}
			d, err := a.dispatcher()
			if err != nil {
				return err
			}
			return a.execute(cmd.Context(), d, func(ctx context.Context, onProgress func(dispatch.Progress), isCancelled func() bool) (*dispatch.OutcomeSet, error) {
				return d.Dispatch(ctx, msgs, attachments, onProgress, isCancelled)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compose the messages and print the plan without sending")
	return cmd
}

// compose loads the recipients and the active campaign and personalises one
// message per valid recipient.
func (a *app) compose() ([]dispatch.Message, error) {
	recipients, err := a.store.LoadRecipients()
	if err != nil {
		return nil, err
	}
	campaign, err := a.store.LoadCampaign()
	if err != nil {
		return nil, err
	}
	msgs, skipped := email.Compose(recipients, *campaign, a.profile.Sender)
	for _, s := range skipped {
		fmt.Fprintf(a.out, "Skipping %q: %v\n", s.Recipient.Email, s.Err)
	}
	if len(msgs) == 0 {
		return nil, errors.New("no valid recipient to send to")
	}
	fmt.Fprintf(a.out, "Campaign %q: %d message(s) ready\n", campaign.Name, len(msgs))
	return msgs, nil
}

func (a *app) printPlan(p plan.Plan) {
	fmt.Fprintf(a.out, "Strategy %s\n", p.Summary())
	if p.StartDelay > 0 {
		fmt.Fprintf(a.out, "First message after a %s delay\n", p.StartDelay)
	}
	if p.Total > 0 {
		fmt.Fprintf(a.out, "Estimated finish %s\n", humanize.Time(time.Now().Add(p.EstimatedDuration)))
	}
	for _, w := range p.Warnings {
		fmt.Fprintf(a.out, "Warning: %s\n", w)
	}
}
