package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"coinpipe/internal/app"
)

var (
	showLimit   int
	showBlocked bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent observations or blocked symbols",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Blocked: showBlocked,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
	showCmd.Flags().BoolVar(&showBlocked, "blocked", false, "Show blocked-symbol records instead of observations")
}
