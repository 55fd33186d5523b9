package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"tradectl/internal/domain"
	"tradectl/internal/limits"
	"tradectl/internal/monitor"
)

var quoteEpsilon = decimal.RequireFromString("0.01")

// History prints recent trades from the backend, or from the local journal
// with Local set.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	if opts.Local {
		return a.showJournal(ctx, opts.Limit)
	}

	page, err := a.newBackend().MyTrades(ctx, 1, opts.Limit)
	if err != nil {
		return err
	}
	if len(page.Trades) == 0 {
		fmt.Fprintln(a.Out, "no trades found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tTrade\tReference\tSide\tSymbol\tCrypto\tFiat\tTotal\tMethod\tStatus")
	for _, t := range page.Trades {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.CreatedAt.UTC().Format(time.RFC3339),
			t.ID,
			sanitizeInline(t.ReferenceCode),
			t.Operation,
			t.Symbol,
			t.CryptoAmount.String(),
			formatDecimal(t.FiatAmount, 2),
			formatDecimal(t.TotalAmount, 2),
			t.PaymentMethod,
			t.Status,
		)
	}
	fmt.Fprintf(writer, "\nshowing %d of %d\n", len(page.Trades), page.Total)
	return writer.Flush()
}

func (a *App) showJournal(ctx context.Context, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show journal")
	}
	defer closeStore()

	trades, err := store.ListRecentTrades(ctx, limit)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		fmt.Fprintln(a.Out, "no journaled trades")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tTrade\tQuote\tSide\tSymbol\tTotal\tSource\tMethod\tStatus\tProof")
	for _, t := range trades {
		source := ""
		if t.SourceCurrency != nil && t.SourceAmount != nil {
			source = fmt.Sprintf("%s %s", formatDecimal(*t.SourceAmount, 2), *t.SourceCurrency)
		}
		proof := ""
		if t.PendingProof {
			proof = "pending"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.CreatedAt.UTC().Format(time.RFC3339),
			t.TradeID,
			t.QuoteID,
			t.Operation,
			t.Symbol,
			formatDecimal(t.TotalAmount, 2),
			source,
			t.PaymentMethod,
			t.Status,
			proof,
		)
	}
	return writer.Flush()
}

func printQuote(w io.Writer, q domain.Quote, now time.Time) {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Quote\t%s\n", q.QuoteID)
	fmt.Fprintf(writer, "Side\t%s %s\n", strings.ToUpper(string(q.Operation)), q.Symbol)
	fmt.Fprintf(writer, "Price\t%s USD\n", formatDecimal(q.CryptoPrice, 2))
	fmt.Fprintf(writer, "Crypto\t%s %s\n", q.CryptoAmount.String(), q.Symbol)
	fmt.Fprintf(writer, "Fiat\t%s USD\n", formatDecimal(q.FiatAmount, 2))
	fmt.Fprintf(writer, "Spread\t%s USD (%s%%)\n", formatDecimal(q.SpreadAmount, 2), formatDecimal(q.SpreadPercentage, 2))
	fmt.Fprintf(writer, "Network fee\t%s USD (%s%%)\n", formatDecimal(q.NetworkFeeAmount, 2), formatDecimal(q.NetworkFeePercentage, 2))
	fmt.Fprintf(writer, "Total\t%s USD\n", formatDecimal(q.TotalAmount, 2))
	if total, ok := q.SourceTotal(); ok {
		fmt.Fprintf(writer, "Total (%s)\t%s %s @ %s\n", q.SourceCurrency, formatDecimal(total, 2), q.SourceCurrency, q.SourceCurrencyRate.String())
	}
	fmt.Fprintf(writer, "Expires in\t%ds\n", q.SecondsRemaining(now))
	writer.Flush()
}

func printLimits(w io.Writer, res limits.Result) {
	state := "ok"
	if !res.IsValid {
		state = "rejected"
	}
	fmt.Fprintf(w, "limits: %s\n", state)
	if res.Message != "" {
		fmt.Fprintf(w, "  %s\n", res.Message)
	}
	fmt.Fprintf(w, "  remaining: $%s\n  used: %s%%\n", formatDecimal(res.RemainingUSD, 2), formatDecimal(res.PercentUsed, 2))
}

func printStages(w io.Writer, mon *monitor.Monitor) {
	stages, current := mon.Stages()
	parts := make([]string, 0, len(stages))
	for i, st := range stages {
		label := string(st.Status)
		switch {
		case i == current:
			label = "[" + label + "]"
		case !st.Reached:
			label = "(" + label + ")"
		}
		parts = append(parts, label)
	}
	fmt.Fprintf(w, "%s  %s\n", mon.TradeID(), strings.Join(parts, " -> "))
}

func sortedBalances(in map[string]domain.Balance) []domain.Balance {
	out := make([]domain.Balance, 0, len(in))
	for _, b := range in {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
