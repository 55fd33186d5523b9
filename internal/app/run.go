package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradectl/internal/monitor"
	"tradectl/internal/quote"
	"tradectl/internal/service"
	"tradectl/internal/trade"
)

// Run starts an interactive session: every line typed is an amount edit,
// "confirm" creates a trade from the live quote, "status" lists watched trades
// and "quit" ends the session.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	eng, err := a.newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.close()

	if _, err := eng.desk.RefreshBalances(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("initial balance refresh failed")
	}

	out := &lockedWriter{w: a.Out}
	orch := eng.desk.Quotes()
	orch.Subscribe(func(ev quote.Event) { printEvent(out, ev, eng) })

	fmt.Fprintf(out, "%s %s in %s; type an amount, \"confirm\", \"status\" or \"quit\"\n", opts.Operation, opts.Symbol, opts.Currency)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := a.handleLine(ctx, eng, out, opts, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if done {
				return nil
			}
		}
	}
}

func (a *App) handleLine(ctx context.Context, eng *engine, out io.Writer, opts RunOptions, line string) (bool, error) {
	switch strings.ToLower(line) {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "status":
		printWatched(out, eng.desk)
		return false, nil
	case "confirm":
		res, mon, err := eng.desk.Confirm(ctx, opts.Method)
		if errors.Is(err, trade.ErrQuoteExpired) {
			return false, errors.New("quote expired; enter the amount again to requote")
		}
		if err != nil {
			return false, err
		}
		printTradeResult(out, res)
		if mon != nil {
			printStages(out, mon)
			mon.Subscribe(func(monitor.Transition) { printStages(out, mon) })
		}
		return false, nil
	}

	amount, err := decimal.NewFromString(line)
	if err != nil {
		return false, fmt.Errorf("not an amount: %q", line)
	}
	eng.desk.Quotes().OnAmountChanged(quote.Input{
		Amount:    amount,
		Symbol:    opts.Symbol,
		Operation: opts.Operation,
		Currency:  opts.Currency,
	})
	return false, nil
}

func printWatched(w io.Writer, desk *service.Desk) {
	monitors := desk.Monitors()
	if len(monitors) == 0 {
		fmt.Fprintln(w, "no trades being watched")
	}
	for _, mon := range monitors {
		printStages(w, mon)
		for _, tr := range mon.History() {
			flag := ""
			if !tr.Legal {
				flag = " (unexpected)"
			}
			fmt.Fprintf(w, "  %s %s -> %s%s\n", tr.At.UTC().Format(time.RFC3339), tr.From, tr.To, flag)
		}
	}
	if pending := desk.PendingTransfers(); len(pending) > 0 {
		fmt.Fprintf(w, "awaiting bank transfer: %s\n", strings.Join(pending, ", "))
	}
}

func printEvent(w io.Writer, ev quote.Event, eng *engine) {
	switch ev.Kind {
	case quote.EventQuoted:
		printQuote(w, ev.Quote, eng.sched.Now())
	case quote.EventRejected:
		fmt.Fprintf(w, "rejected: %v\n", ev.Reason)
	case quote.EventTick:
		if ev.SecondsRemaining <= 5 || ev.SecondsRemaining%15 == 0 {
			fmt.Fprintf(w, "quote %s expires in %ds\n", ev.Quote.QuoteID, ev.SecondsRemaining)
		}
	case quote.EventExpired:
		fmt.Fprintf(w, "quote %s expired\n", ev.Quote.QuoteID)
	}
}

// lockedWriter serialises output from quote, monitor and input goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
