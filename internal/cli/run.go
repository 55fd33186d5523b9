package cli

import (
	"github.com/spf13/cobra"

	"tradectl/internal/app"
)

var (
	runArgs   quoteFlags
	runMethod string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive quoting session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		opts, err := runArgs.options(a)
		if err != nil {
			return err
		}
		method, err := parseMethod(a, runMethod)
		if err != nil {
			return err
		}
		return a.Run(cmd.Context(), app.RunOptions{
			Operation: opts.Operation,
			Symbol:    opts.Symbol,
			Currency:  opts.Currency,
			Method:    method,
		})
	},
}

func init() {
	runArgs.register(runCmd, false)
	runCmd.Flags().StringVar(&runMethod, "method", "", "Payment method (defaults to trade.payment_method)")
}
