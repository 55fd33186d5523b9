package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"tradectl/internal/domain"
	"tradectl/internal/monitor"
	"tradectl/internal/service"
	"tradectl/internal/trade"
)

// Quote requests one explicit quote and prints its breakdown.
func (a *App) Quote(ctx context.Context, opts QuoteOptions) error {
	eng, err := a.newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.close()

	q, err := a.requestQuote(ctx, eng, opts)
	if err != nil {
		return err
	}
	printQuote(a.Out, q, eng.sched.Now())
	return nil
}

func (a *App) requestQuote(ctx context.Context, eng *engine, opts QuoteOptions) (domain.Quote, error) {
	if opts.Operation == domain.OperationSell {
		if _, err := eng.desk.RefreshBalances(ctx); err != nil {
			return domain.Quote{}, fmt.Errorf("refresh balances: %w", err)
		}
	}

	q, err := eng.desk.RequestQuote(ctx, opts.input())
	var limitErr *service.LimitError
	if errors.As(err, &limitErr) {
		return domain.Quote{}, fmt.Errorf("amount rejected: %s", limitErr.Result.Message)
	}
	if err != nil {
		return domain.Quote{}, err
	}
	if err := q.CheckTotals(quoteEpsilon); err != nil {
		a.Logger.Warn().Err(err).Msg("quote breakdown does not add up")
	}
	return q, nil
}

// Trade quotes, confirms, and optionally follows the trade to completion.
func (a *App) Trade(ctx context.Context, opts TradeOptions) error {
	eng, err := a.newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.close()

	q, err := a.requestQuote(ctx, eng, opts.Quote)
	if err != nil {
		return err
	}
	printQuote(a.Out, q, eng.sched.Now())

	res, mon, err := eng.desk.CreateTrade(ctx, q.QuoteID, opts.Method)
	if errors.Is(err, trade.ErrQuoteExpired) {
		return fmt.Errorf("quote expired before confirmation; request a new quote: %w", err)
	}
	if err != nil {
		return err
	}
	printTradeResult(a.Out, res)

	if !opts.Watch || mon == nil {
		return nil
	}
	return a.follow(ctx, mon)
}

// Watch follows an existing trade until it reaches a terminal state.
func (a *App) Watch(ctx context.Context, tradeID string) error {
	eng, err := a.newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.close()

	status, err := eng.client.TradeStatus(ctx, tradeID)
	if err != nil {
		return err
	}
	mon := eng.desk.Watch(ctx, tradeID, status)
	return a.follow(ctx, mon)
}

func (a *App) follow(ctx context.Context, mon *monitor.Monitor) error {
	printStages(a.Out, mon)
	mon.Subscribe(func(monitor.Transition) { printStages(a.Out, mon) })

	select {
	case <-mon.Done():
		fmt.Fprintf(a.Out, "trade %s finished: %s\n", mon.TradeID(), mon.State())
		return nil
	case <-ctx.Done():
		mon.Stop()
		return ctx.Err()
	}
}

// Balances refreshes and prints the aggregated balances.
func (a *App) Balances(ctx context.Context) error {
	eng, err := a.newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.close()

	snap, err := eng.desk.RefreshBalances(ctx)
	if err != nil {
		return err
	}
	if len(snap.Balances) == 0 {
		fmt.Fprintln(a.Out, "no balances")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tAmount")
	for _, b := range sortedBalances(snap.Balances) {
		fmt.Fprintf(writer, "%s\t%s\n", b.Symbol, b.Amount.String())
	}
	fmt.Fprintf(writer, "\nsymbol table v%s, refreshed %s\n", snap.TableVer, snap.RefreshedAt.Format(time.RFC3339))
	return writer.Flush()
}

// Limits prints the limits check for an amount, or today's usage when the
// amount is zero.
func (a *App) Limits(ctx context.Context, opts QuoteOptions) error {
	eng, err := a.newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.close()

	spent, err := eng.desk.DailySpent(ctx, opts.Currency)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "spent today: %s %s\n", spent.StringFixed(2), opts.Currency)
	if !opts.Amount.IsPositive() {
		return nil
	}

	res, err := eng.desk.ValidateAmount(ctx, opts.Amount, opts.Currency)
	if err != nil {
		return err
	}
	printLimits(a.Out, res)
	return nil
}

// Fees prints the live fee display.
func (a *App) Fees(ctx context.Context) error {
	fees, err := a.newBackend().Fees(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "total fees: %s%%\n", fees.TotalPercent.StringFixed(2))
	return nil
}

func printTradeResult(w io.Writer, res trade.Result) {
	if res.PendingProof {
		fmt.Fprintf(w, "trade %s created; awaiting proof of payment\n", res.TradeID)
	} else {
		fmt.Fprintf(w, "trade %s created: %s\n", res.TradeID, res.Status)
	}
	if res.BankDetails == nil {
		return
	}

	bd := res.BankDetails
	amount, cur := res.TransferAmount()
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Bank transfer details")
	fmt.Fprintf(writer, "Bank\t%s\n", bd.BankName)
	fmt.Fprintf(writer, "Holder\t%s\n", bd.AccountHolder)
	fmt.Fprintf(writer, "Account\t%s\n", bd.AccountNumber)
	if bd.BranchCode != "" {
		fmt.Fprintf(writer, "Branch\t%s\n", bd.BranchCode)
	}
	if bd.PixKey != "" {
		fmt.Fprintf(writer, "PIX key\t%s\n", bd.PixKey)
	}
	if bd.IBAN != "" {
		fmt.Fprintf(writer, "IBAN\t%s\n", bd.IBAN)
	}
	if bd.Reference != "" {
		fmt.Fprintf(writer, "Reference\t%s\n", bd.Reference)
	}
	fmt.Fprintf(writer, "Amount\t%s %s\n", amount.StringFixed(2), cur)
	if !res.TransferDeadline.IsZero() {
		fmt.Fprintf(writer, "Transfer by\t%s\n", res.TransferDeadline.Format(time.RFC3339))
	}
	writer.Flush()
}
