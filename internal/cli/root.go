// Package cli implements the mailpacer command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

type options struct {
	envFile       string
	dataDir       string
	reportDir     string
	attachmentDir string
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "mailpacer",
		Short: "Paced e-mail campaigns that stay under provider limits",
		Long: `mailpacer sends a personalised campaign to a recipient list in paced
batches, classifies every failure, writes CSV and JSON reports and can
resubmit the failures of an earlier run.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "environment file loaded before anything else")
	root.PersistentFlags().StringVar(&opts.dataDir, "data", "", "directory holding recipients.csv, campaigns.yaml and settings.yaml (default $MAILPACER_DATA_DIR or data)")
	root.PersistentFlags().StringVar(&opts.reportDir, "reports", "", "directory reports are written to (default $MAILPACER_REPORT_DIR or reports)")
	root.PersistentFlags().StringVar(&opts.attachmentDir, "attachments", "", "directory whose files are attached to every message (default $MAILPACER_ATTACHMENT_DIR or adjuntos)")

	root.AddCommand(
		newSendCmd(opts),
		newRetryCmd(opts),
		newPlanCmd(opts),
		newCheckCmd(opts),
	)
	return root
}
