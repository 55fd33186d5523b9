package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradectl/internal/app"
	"tradectl/internal/currency"
	"tradectl/internal/domain"
)

// quoteFlags are shared by every command that builds a quote input.
type quoteFlags struct {
	operation string
	symbol    string
	amount    string
	currency  string
}

func (f *quoteFlags) register(cmd *cobra.Command, amountRequired bool) {
	cmd.Flags().StringVar(&f.operation, "side", "buy", "Trade side: buy or sell")
	cmd.Flags().StringVar(&f.symbol, "symbol", "BTC", "Crypto symbol")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Fiat amount to buy or crypto amount to sell")
	cmd.Flags().StringVar(&f.currency, "currency", "", "Currency the buy amount is typed in (defaults to rates.display_currency)")
	if amountRequired {
		_ = cmd.MarkFlagRequired("amount")
	}
}

func (f *quoteFlags) options(a *app.App) (app.QuoteOptions, error) {
	op, err := domain.ParseOperation(f.operation)
	if err != nil {
		return app.QuoteOptions{}, err
	}
	code, err := parseCurrency(a, f.currency)
	if err != nil {
		return app.QuoteOptions{}, err
	}

	amount := decimal.Zero
	if f.amount != "" {
		amount, err = decimal.NewFromString(f.amount)
		if err != nil {
			return app.QuoteOptions{}, fmt.Errorf("invalid --amount value: %w", err)
		}
	}

	return app.QuoteOptions{Operation: op, Symbol: f.symbol, Amount: amount, Currency: code}, nil
}

func parseCurrency(a *app.App, v string) (currency.Code, error) {
	if v == "" {
		v = a.Config.Rates.Display
	}
	if v == "" {
		return currency.USD, nil
	}
	return currency.ParseCode(v)
}

func parseMethod(a *app.App, v string) (domain.PaymentMethod, error) {
	if v == "" {
		v = a.Config.Trade.PaymentMethod
	}
	return domain.ParsePaymentMethod(v)
}
