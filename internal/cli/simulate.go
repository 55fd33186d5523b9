package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradectl/internal/domain"
)

var (
	simulateStatus string
	simulateTotal  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic trade status alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := domain.ParseTradeStatus(simulateStatus)
		if err != nil {
			return err
		}
		total, err := decimal.NewFromString(simulateTotal)
		if err != nil || !total.IsPositive() {
			return errors.New("--total must be a positive amount")
		}
		return getApp().SimulateAlert(cmd.Context(), status, total)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateStatus, "status", "COMPLETED", "Status to announce")
	simulateCmd.Flags().StringVar(&simulateTotal, "total", "100", "Trade total in USD")
}
