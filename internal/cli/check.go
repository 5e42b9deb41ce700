package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"mailpacer/internal/config"
	"mailpacer/internal/dkim"
	"mailpacer/internal/email"
)

func newCheckCmd(opts *options) *cobra.Command {
	var initSamples bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the data directory, attachments and sending setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if initSamples {
				written, err := a.store.WriteSamples()
				if err != nil {
					return err
				}
				for _, name := range written {
					fmt.Fprintf(a.out, "Created %s\n", a.store.Path(name))
				}
				// Reload so the checks below see the sample settings.
				if a, err = newApp(opts, cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			return a.check()
		},
	}
	cmd.Flags().BoolVar(&initSamples, "init", false, "create sample files for those missing from the data directory")
	return cmd
}

func (a *app) check() error {
	files := a.store.Check()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := "missing"
		if files[name] {
			state = "ok"
		}
		fmt.Fprintf(a.out, "%-16s %s\n", name, state)
	}

	var problems int
	recipients, err := a.store.LoadRecipients()
	if err != nil {
		problems++
		fmt.Fprintf(a.out, "Recipients: %v\n", err)
	}
	campaign, err := a.store.LoadCampaign()
	if err != nil {
		problems++
		fmt.Fprintf(a.out, "Campaign: %v\n", err)
	} else {
		fmt.Fprintf(a.out, "Campaign: %q\n", campaign.Name)
	}
	if recipients != nil {
		tpl := email.RetryCampaign
		if campaign != nil {
			tpl = *campaign
		}
		msgs, skipped := email.Compose(recipients, tpl, a.profile.Sender)
		fmt.Fprintf(a.out, "Recipients: %d valid, %d skipped\n", len(msgs), len(skipped))
		for _, s := range skipped {
			fmt.Fprintf(a.out, "  %q: %v\n", s.Recipient.Email, s.Err)
		}
	}

	fmt.Fprintf(a.out, "Settings: %s\n", a.profile.Settings.Summary())
	if a.profile.Sender.Email == "" {
		problems++
		fmt.Fprintln(a.out, "Sender: no sender.email in settings")
	} else if _, err := email.Normalize(a.profile.Sender.Email); err != nil {
		problems++
		fmt.Fprintf(a.out, "Sender: %v\n", err)
	} else {
		fmt.Fprintf(a.out, "Sender: %s\n", a.profile.Sender.Email)
	}

	if _, err := a.attachments(); err != nil {
		problems++
		fmt.Fprintf(a.out, "Attachments: %v\n", err)
	}

	signer, err := dkim.LoadFromEnv()
	switch {
	case err != nil:
		problems++
		fmt.Fprintf(a.out, "DKIM: %v\n", err)
	case signer == nil:
		fmt.Fprintln(a.out, "DKIM: disabled")
	default:
		fmt.Fprintf(a.out, "DKIM: selector %s\n", signer.Selector())
	}

	if host := config.RelayHost(); host != "" {
		fmt.Fprintf(a.out, "Relay: %s:%s, at most %d/min\n", host, config.RelayPort(), config.MaxPerMinute())
	} else {
		fmt.Fprintf(a.out, "Relay: none, delivering directly to MX hosts, at most %d/min\n", config.MaxPerMinute())
	}

	if problems > 0 {
		return fmt.Errorf("%d problem(s) found", problems)
	}
	fmt.Fprintln(a.out, "Ready to send.")
	return nil
}
