package cli

import (
	"github.com/spf13/cobra"

	"tradectl/internal/app"
)

var (
	syncPages   int
	syncPerPage int
	syncDryRun  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import backend trade history into the local journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sync(cmd.Context(), app.SyncOptions{
			Pages:   syncPages,
			PerPage: syncPerPage,
			DryRun:  syncDryRun,
		})
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncPages, "pages", 5, "Maximum history pages to import")
	syncCmd.Flags().IntVar(&syncPerPage, "per-page", 50, "Trades per page")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Fetch without writing to storage")
}
