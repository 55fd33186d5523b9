package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tradectl/internal/app"
)

var (
	historyLimit int
	historyLocal bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display recent trades",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.HistoryOptions{
			Limit: historyLimit,
			Local: historyLocal,
		}

		return getApp().History(cmd.Context(), opts)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of trades to display")
	historyCmd.Flags().BoolVar(&historyLocal, "local", false, "Read from the local journal instead of the backend")
}
