package cli

import (
	"time"

	"github.com/spf13/cobra"

	"coinpipe/internal/app"
)

var (
	purgeOlderThan time.Duration
	purgeDryRun    bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete blocked-symbol records past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PurgeOptions{
			OlderThan: purgeOlderThan,
			DryRun:    purgeDryRun,
		}
		return getApp().Purge(cmd.Context(), opts)
	},
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour, "Delete records older than this duration")
	purgeCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "Log the cutoff without deleting")
}
