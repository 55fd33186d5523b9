package cli

import (
	"github.com/spf13/cobra"
)

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Show aggregated wallet balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Balances(cmd.Context())
	},
}

var limitsArgs quoteFlags

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show today's spend and check an amount against the daily limit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		opts, err := limitsArgs.options(a)
		if err != nil {
			return err
		}
		return a.Limits(cmd.Context(), opts)
	},
}

var feesCmd = &cobra.Command{
	Use:   "fees",
	Short: "Show the live fee percentage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Fees(cmd.Context())
	},
}

func init() {
	limitsArgs.register(limitsCmd, false)
}
