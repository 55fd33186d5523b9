package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradectl/internal/alerting"
	"tradectl/internal/backend"
	"tradectl/internal/currency"
	"tradectl/internal/domain"
	"tradectl/internal/limits"
	"tradectl/internal/monitor"
	"tradectl/internal/quote"
	"tradectl/internal/scheduler"
	"tradectl/internal/storage"
	"tradectl/internal/trade"
	"tradectl/internal/wallet"
)

// ErrNoQuote is returned by Confirm when no live quote is on offer.
var ErrNoQuote = errors.New("no live quote to confirm")

// LimitError is a client-side limits rejection. Nothing was sent to the backend.
type LimitError struct {
	Result limits.Result
}

func (e *LimitError) Error() string {
	return e.Result.Message
}

// HistorySource lists the user's trades, newest first.
type HistorySource interface {
	MyTrades(ctx context.Context, page, perPage int) (backend.TradePage, error)
}

// Journal is the local audit trail. storage.Store implements it.
type Journal interface {
	UpsertTrade(ctx context.Context, trade storage.TradeRecord) error
	RecordTransition(ctx context.Context, tr storage.TransitionRecord) (storage.TransitionRecord, error)
}

// Deps are the collaborators a Desk composes.
type Deps struct {
	Quotes    *quote.Orchestrator
	Creator   trade.Creator
	History   HistorySource
	Status    monitor.StatusSource
	Balances  *wallet.Store
	Limits    *limits.Validator
	Rates     limits.Converter
	Journal   Journal
	Notifier  alerting.Notifier
	Scheduler scheduler.Scheduler
}

// Options tune the desk.
type Options struct {
	Account      limits.AccountType
	Trade        trade.Options
	Monitor      monitor.Options
	HistoryPages int
	// Location decides where "today" starts for daily limits.
	Location *time.Location
}

// Desk is the trading engine: quotes, trade creation, status monitoring,
// limits, journal and notifications.
type Desk struct {
	quotes   *quote.Orchestrator
	trades   *trade.Controller
	history  HistorySource
	status   monitor.StatusSource
	balances *wallet.Store
	limits   *limits.Validator
	rates    limits.Converter
	journal  Journal
	notifier alerting.Notifier
	sched    scheduler.Scheduler
	opts     Options
	logger   zerolog.Logger

	mu       sync.Mutex
	monitors map[string]*monitor.Monitor
	watched  map[string]trade.Result
}

// New wires a Desk.
func New(deps Deps, opts Options, logger zerolog.Logger) *Desk {
	if opts.Account == "" {
		opts.Account = limits.AccountPF
	}
	if opts.HistoryPages <= 0 {
		opts.HistoryPages = 5
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	d := &Desk{
		quotes:   deps.Quotes,
		history:  deps.History,
		status:   deps.Status,
		balances: deps.Balances,
		limits:   deps.Limits,
		rates:    deps.Rates,
		journal:  deps.Journal,
		notifier: deps.Notifier,
		sched:    deps.Scheduler,
		opts:     opts,
		logger:   logger.With().Str("component", "desk").Logger(),
		monitors: make(map[string]*monitor.Monitor),
		watched:  make(map[string]trade.Result),
	}

	tradeOpts := opts.Trade
	userCallback := tradeOpts.OnTransferWindowElapsed
	tradeOpts.OnTransferWindowElapsed = func(res trade.Result) {
		d.onTransferElapsed(res)
		if userCallback != nil {
			userCallback(res)
		}
	}
	d.trades = trade.NewController(deps.Creator, deps.Quotes, deps.Scheduler, tradeOpts, logger)
	if deps.Quotes != nil && deps.Limits != nil {
		deps.Quotes.SetGuard(d.checkLimits)
	}
	return d
}

// Quotes exposes the orchestrator for interactive input.
func (d *Desk) Quotes() *quote.Orchestrator { return d.quotes }

// RefreshBalances reloads the aggregated balance snapshot.
func (d *Desk) RefreshBalances(ctx context.Context) (*wallet.Snapshot, error) {
	if d.balances == nil {
		return nil, fmt.Errorf("balance store not configured")
	}
	return d.balances.Refresh(ctx)
}

// DailySpent sums today's counted trades from the backend history, in code.
func (d *Desk) DailySpent(ctx context.Context, code currency.Code) (decimal.Decimal, error) {
	now := d.sched.Now().In(d.opts.Location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, d.opts.Location)
	if d.history == nil {
		return decimal.Zero, errors.New("trade history not configured")
	}

	var trades []domain.Trade
	for page := 1; page <= d.opts.HistoryPages; page++ {
		res, err := d.history.MyTrades(ctx, page, 50)
		if err != nil {
			return decimal.Zero, fmt.Errorf("load trade history: %w", err)
		}
		trades = append(trades, res.Trades...)
		if len(res.Trades) == 0 || res.Trades[len(res.Trades)-1].CreatedAt.Before(start) {
			break
		}
		if res.PerPage > 0 && page*res.PerPage >= res.Total {
			break
		}
	}
	return limits.DailySpent(ctx, trades, now, d.rates, code)
}

// ValidateAmount runs the limits check with today's spend. The check is
// advisory: when history cannot be loaded the spend counts as zero so the
// minimum still applies, and the backend enforces the daily limit.
func (d *Desk) ValidateAmount(ctx context.Context, amount decimal.Decimal, code currency.Code) (limits.Result, error) {
	spent, err := d.DailySpent(ctx, code)
	if err != nil {
		d.logger.Warn().Err(err).Msg("daily spend unavailable; validating without it")
		spent = decimal.Zero
	}
	return d.limits.Validate(ctx, amount, d.opts.Account, code, spent)
}

// checkLimits is installed as the orchestrator guard. Buys are checked
// against limits and rejected without contacting the backend.
func (d *Desk) checkLimits(ctx context.Context, in quote.Input) error {
	if in.Operation != domain.OperationBuy || d.limits == nil {
		return nil
	}
	code := in.Currency
	if code == "" {
		code = currency.USD
	}
	res, err := d.ValidateAmount(ctx, in.Amount, code)
	if err != nil {
		return err
	}
	if !res.IsValid {
		return &LimitError{Result: res}
	}
	return nil
}

// RequestQuote is the explicit quote path. Limit rejections come back as
// *LimitError.
func (d *Desk) RequestQuote(ctx context.Context, in quote.Input) (domain.Quote, error) {
	return d.quotes.RequestQuote(ctx, in)
}

// Confirm creates a trade from the current live quote and starts watching it.
func (d *Desk) Confirm(ctx context.Context, method domain.PaymentMethod) (trade.Result, *monitor.Monitor, error) {
	q, ok := d.quotes.Current()
	if !ok {
		return trade.Result{}, nil, ErrNoQuote
	}
	return d.CreateTrade(ctx, q.QuoteID, method)
}

// CreateTrade creates a trade from quoteID, journals it, notifies and starts
// the status monitor. The monitor is nil when the backend gave no trade id.
func (d *Desk) CreateTrade(ctx context.Context, quoteID string, method domain.PaymentMethod) (trade.Result, *monitor.Monitor, error) {
	res, err := d.trades.CreateTrade(ctx, quoteID, method)
	if err != nil {
		return trade.Result{}, nil, err
	}

	d.record(ctx, res)
	d.notify(ctx, notificationFor(res, "", res.Status, true))

	if res.TradeID == "" {
		return res, nil, nil
	}
	return res, d.watch(ctx, res), nil
}

// Watch attaches a monitor to an existing trade, e.g. one listed in history.
func (d *Desk) Watch(ctx context.Context, tradeID string, initial domain.TradeStatus) *monitor.Monitor {
	return d.watch(ctx, trade.Result{TradeID: tradeID, Status: initial})
}

func (d *Desk) watch(ctx context.Context, res trade.Result) *monitor.Monitor {
	d.mu.Lock()
	if m, ok := d.monitors[res.TradeID]; ok {
		d.mu.Unlock()
		return m
	}
	m := monitor.New(res.TradeID, res.Status, d.status, d.sched, d.opts.Monitor, d.logger)
	if res.Status.IsTerminal() {
		d.mu.Unlock()
		return m
	}
	d.monitors[res.TradeID] = m
	d.watched[res.TradeID] = res
	d.mu.Unlock()

	m.Subscribe(func(tr monitor.Transition) { d.onTransition(ctx, tr) })
	m.Start(ctx)
	return m
}

func (d *Desk) onTransition(ctx context.Context, tr monitor.Transition) {
	d.mu.Lock()
	res := d.watched[tr.TradeID]
	if tr.To.IsTerminal() {
		delete(d.monitors, tr.TradeID)
		delete(d.watched, tr.TradeID)
	}
	d.mu.Unlock()

	if tr.To != domain.StatusPending {
		d.trades.CancelTransferWindow(tr.TradeID)
	}

	if d.journal != nil {
		_, err := d.journal.RecordTransition(ctx, storage.TransitionRecord{
			TradeID:    tr.TradeID,
			FromStatus: string(tr.From),
			ToStatus:   string(tr.To),
			Unexpected: !tr.Legal,
			ObservedAt: tr.At,
		})
		if err != nil && !errors.Is(err, storage.ErrNotConfigured) {
			d.logger.Error().Err(err).Str("trade_id", tr.TradeID).Msg("failed to journal transition")
		}
	}

	res.TradeID = tr.TradeID
	note := notificationFor(res, tr.From, tr.To, false)
	note.Unexpected = !tr.Legal
	note.At = tr.At
	d.notify(ctx, note)
}

func (d *Desk) onTransferElapsed(res trade.Result) {
	note := notificationFor(res, "", res.Status, false)
	note.Note = "Bank transfer window elapsed without confirmation"
	note.At = d.sched.Now()
	d.notify(context.Background(), note)
}

// Monitors returns the monitors of trades still being watched, by trade id.
func (d *Desk) Monitors() []*monitor.Monitor {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*monitor.Monitor, 0, len(d.monitors))
	for _, m := range d.monitors {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID() < out[j].TradeID() })
	return out
}

// PendingTransfers returns the trade ids still inside their bank-transfer
// window.
func (d *Desk) PendingTransfers() []string {
	ids := d.trades.PendingWindows()
	sort.Strings(ids)
	return ids
}

// Close stops every monitor, timer and pending quote.
func (d *Desk) Close() {
	d.mu.Lock()
	for id, m := range d.monitors {
		m.Stop()
		delete(d.monitors, id)
	}
	d.mu.Unlock()
	d.trades.Close()
	if d.quotes != nil {
		d.quotes.Close()
	}
}

func (d *Desk) record(ctx context.Context, res trade.Result) {
	if d.journal == nil {
		return
	}
	q := res.Quote
	rec := storage.TradeRecord{
		TradeID:       res.TradeID,
		QuoteID:       q.QuoteID,
		Operation:     string(q.Operation),
		Symbol:        q.Symbol,
		PaymentMethod: string(res.PaymentMethod),
		Status:        string(res.Status),
		PendingProof:  res.PendingProof,
		CryptoAmount:  q.CryptoAmount,
		FiatAmount:    q.FiatAmount,
		TotalAmount:   q.TotalAmount,
		SourceAmount:  q.SourceCurrencyAmount,
		SourceRate:    q.SourceCurrencyRate,
		CreatedAt:     res.CreatedAt,
		UpdatedAt:     res.CreatedAt,
	}
	if q.SourceCurrency != "" {
		cur := q.SourceCurrency
		rec.SourceCurrency = &cur
	}
	if !res.TransferDeadline.IsZero() {
		until := res.TransferDeadline
		rec.TransferUntil = &until
	}
	if rec.TradeID == "" {
		d.logger.Warn().Str("quote_id", q.QuoteID).Msg("trade without id not journaled")
		return
	}
	if err := d.journal.UpsertTrade(ctx, rec); err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		d.logger.Error().Err(err).Str("trade_id", rec.TradeID).Msg("failed to journal trade")
	}
}

func (d *Desk) notify(ctx context.Context, note alerting.Notification) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, note); err != nil {
		d.logger.Error().Err(err).Str("trade_id", note.TradeID).Msg("failed to dispatch notification")
	}
}

func notificationFor(res trade.Result, from, to domain.TradeStatus, created bool) alerting.Notification {
	amount, cur := res.TransferAmount()
	note := alerting.Notification{
		TradeID:      res.TradeID,
		Symbol:       res.Quote.Symbol,
		Operation:    res.Quote.Operation,
		From:         from,
		To:           to,
		TotalAmount:  amount,
		Currency:     cur,
		PendingProof: res.PendingProof,
		At:           res.CreatedAt,
	}
	if created {
		note.Note = "Trade created"
	}
	return note
}
