package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tradectl/internal/app"
)

var quoteArgs quoteFlags

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Request a quote and print its breakdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		opts, err := quoteArgs.options(a)
		if err != nil {
			return err
		}
		if !opts.Amount.IsPositive() {
			return fmt.Errorf("--amount must be greater than zero")
		}
		return a.Quote(cmd.Context(), opts)
	},
}

var (
	tradeArgs   quoteFlags
	tradeMethod string
	tradeWatch  bool
)

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Quote and immediately confirm a trade",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		opts, err := tradeArgs.options(a)
		if err != nil {
			return err
		}
		if !opts.Amount.IsPositive() {
			return fmt.Errorf("--amount must be greater than zero")
		}
		method, err := parseMethod(a, tradeMethod)
		if err != nil {
			return err
		}
		return a.Trade(cmd.Context(), app.TradeOptions{Quote: opts, Method: method, Watch: tradeWatch})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <trade-id>",
	Short: "Follow a trade until it reaches a terminal status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watch(cmd.Context(), args[0])
	},
}

func init() {
	quoteArgs.register(quoteCmd, true)

	tradeArgs.register(tradeCmd, true)
	tradeCmd.Flags().StringVar(&tradeMethod, "method", "", "Payment method (defaults to trade.payment_method)")
	tradeCmd.Flags().BoolVar(&tradeWatch, "watch", true, "Follow the trade status after creation")
}
