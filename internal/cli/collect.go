package cli

import (
	"github.com/spf13/cobra"

	"coinpipe/internal/app"
)

var (
	collectInput   string
	collectPersist bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a single collection pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CollectOptions{
			InputPath: collectInput,
			Persist:   collectPersist,
		}
		return getApp().Collect(cmd.Context(), opts)
	},
}

func init() {
	collectCmd.Flags().StringVar(&collectInput, "input", "", "Read raw rows from a JSON file instead of the primary provider")
	collectCmd.Flags().BoolVar(&collectPersist, "persist", false, "Write cleaned rows and blocked records to the database")
}
