package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradectl/internal/backend"
	"tradectl/internal/currency"
	"tradectl/internal/domain"
	"tradectl/internal/scheduler"
)

var (
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrInsufficientBalance rejects sells larger than the aggregated balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrSuperseded means the input changed while the quote was in flight.
	ErrSuperseded = errors.New("quote superseded by newer input")
)

// Requester prices a quote request. The backend client implements it.
type Requester interface {
	RequestQuote(ctx context.Context, req backend.QuoteRequest) (domain.Quote, error)
}

// BalanceReader exposes aggregated balances for the sell guard.
type BalanceReader interface {
	Balance(symbol string) decimal.Decimal
}

// Guard vets an input before it is priced. A non-nil error rejects the input
// without contacting the backend.
type Guard func(ctx context.Context, in Input) error

// RateSource converts buy amounts typed in a non-USD currency.
type RateSource interface {
	Rate(ctx context.Context, code currency.Code) (currency.ExchangeRate, error)
}

// Input is the state of the amount form.
type Input struct {
	Amount    decimal.Decimal
	Symbol    string
	Operation domain.Operation
	Currency  currency.Code
}

func (in Input) normalise() Input {
	in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
	if in.Currency == "" {
		in.Currency = currency.USD
	}
	return in
}

func (in Input) key() pairKey {
	return pairKey{symbol: in.Symbol, op: in.Operation}
}

func (in Input) same(other Input) bool {
	return in.Symbol == other.Symbol &&
		in.Operation == other.Operation &&
		in.Currency == other.Currency &&
		in.Amount.Equal(other.Amount)
}

// Options tune orchestrator timing.
type Options struct {
	Debounce       time.Duration
	ValidityWindow time.Duration
	Tick           time.Duration
	RequestTimeout time.Duration
	// Dispatch runs background quote requests. Defaults to a new goroutine.
	Dispatch func(func())
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		Debounce:       1200 * time.Millisecond,
		ValidityWindow: 60 * time.Second,
		Tick:           time.Second,
		RequestTimeout: 15 * time.Second,
	}
}

type pairKey struct {
	symbol string
	op     domain.Operation
}

type flight struct {
	input Input
	seq   uint64
}

type entry struct {
	quote     domain.Quote
	input     Input
	fetchedAt time.Time
}

// Orchestrator turns amount edits into quotes: it debounces input, guards
// against invalid requests, suppresses redundant fetches, and discards
// responses that no longer match the form.
type Orchestrator struct {
	requester Requester
	rates     RateSource
	balances  BalanceReader
	sched     scheduler.Scheduler
	opts      Options
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	input     Input
	hasInput  bool
	debounce  scheduler.Task
	countdown scheduler.Task
	seq       uint64
	applied   map[pairKey]uint64
	inflight  map[pairKey]flight
	current   map[pairKey]entry
	subs      []func(Event)
	lastTick  int
	guard     Guard
}

// New constructs an Orchestrator. balances may be nil when sells are not offered.
func New(requester Requester, rates RateSource, balances BalanceReader, sched scheduler.Scheduler, opts Options, logger zerolog.Logger) *Orchestrator {
	def := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	if opts.ValidityWindow <= 0 {
		opts.ValidityWindow = def.ValidityWindow
	}
	if opts.Tick <= 0 {
		opts.Tick = def.Tick
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(fn func()) { go fn() }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		requester: requester,
		rates:     rates,
		balances:  balances,
		sched:     sched,
		opts:      opts,
		logger:    logger.With().Str("component", "quote_orchestrator").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		applied:   make(map[pairKey]uint64),
		inflight:  make(map[pairKey]flight),
		current:   make(map[pairKey]entry),
	}
}

// SetGuard installs the pre-request check run on both the debounced and the
// explicit path.
func (o *Orchestrator) SetGuard(g Guard) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.guard = g
}

// Subscribe registers fn for every quote event.
func (o *Orchestrator) Subscribe(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs = append(o.subs, fn)
}

// Close stops pending timers and abandons in-flight auto requests.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.debounce != nil {
		o.debounce.Stop()
	}
	if o.countdown != nil {
		o.countdown.Stop()
	}
	o.mu.Unlock()
	o.cancel()
}

// OnAmountChanged records a form edit. Only the edit that survives the
// debounce window uninterrupted reaches the backend.
func (o *Orchestrator) OnAmountChanged(in Input) {
	in = in.normalise()

	o.mu.Lock()
	defer o.mu.Unlock()

	o.input = in
	o.hasInput = true
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
	if !in.Amount.IsPositive() {
		return
	}
	o.debounce = o.sched.AfterFunc(o.opts.Debounce, func() { o.fire(in) })
}

func (o *Orchestrator) fire(in Input) {
	o.mu.Lock()
	if !o.hasInput || !in.same(o.input) {
		o.mu.Unlock()
		return
	}
	o.debounce = nil

	if o.insufficient(in) {
		o.mu.Unlock()
		o.emit(Event{Kind: EventRejected, Input: in, Reason: ErrInsufficientBalance})
		return
	}

	now := o.sched.Now()
	if e, ok := o.current[in.key()]; ok && o.reusable(e, in, now) {
		o.mu.Unlock()
		o.logger.Debug().Str("symbol", in.Symbol).Str("amount", in.Amount.String()).Msg("reuse existing quote")
		return
	}
	if f, ok := o.inflight[in.key()]; ok && f.input.same(in) {
		o.mu.Unlock()
		return
	}

	o.seq++
	seq := o.seq
	o.inflight[in.key()] = flight{input: in, seq: seq}
	guard := o.guard
	o.mu.Unlock()

	o.opts.Dispatch(func() {
		ctx, cancel := context.WithTimeout(o.ctx, o.opts.RequestTimeout)
		defer cancel()
		if guard != nil {
			if err := guard(ctx, in); err != nil {
				o.land(in.key(), seq)
				o.reject(in, err)
				return
			}
		}
		_, err := o.fetch(ctx, in, seq)
		o.land(in.key(), seq)
		if err != nil && !errors.Is(err, ErrSuperseded) {
			// Auto-quotes fail silently; the next edit retries.
			o.logger.Debug().Err(err).Str("symbol", in.Symbol).Str("operation", string(in.Operation)).Msg("auto quote failed")
		}
	})
}

// reject reports a guard failure if the form still shows in. The pair's
// previous quote is dropped so it cannot be confirmed for the rejected amount.
func (o *Orchestrator) reject(in Input, reason error) {
	o.mu.Lock()
	if !o.hasInput || !in.same(o.input) {
		o.mu.Unlock()
		return
	}
	if _, ok := o.current[in.key()]; ok {
		delete(o.current, in.key())
		if o.countdown != nil {
			o.countdown.Stop()
			o.countdown = nil
		}
	}
	o.mu.Unlock()

	o.logger.Debug().Err(reason).Str("symbol", in.Symbol).Str("amount", in.Amount.String()).Msg("auto quote rejected")
	o.emit(Event{Kind: EventRejected, Input: in, Reason: reason})
}

func (o *Orchestrator) land(key pairKey, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if f, ok := o.inflight[key]; ok && f.seq == seq {
		delete(o.inflight, key)
	}
}

// reusable is true when amount is unchanged, the client-side validity window
// has not elapsed, and the server expiry has not passed. The two windows are
// checked independently.
func (o *Orchestrator) reusable(e entry, in Input, now time.Time) bool {
	if !e.input.Amount.Equal(in.Amount) || e.input.Currency != in.Currency {
		return false
	}
	if now.Sub(e.fetchedAt) >= o.opts.ValidityWindow {
		return false
	}
	return e.quote.IsValidAt(now)
}

func (o *Orchestrator) insufficient(in Input) bool {
	if in.Operation != domain.OperationSell || o.balances == nil {
		return false
	}
	return in.Amount.GreaterThan(o.balances.Balance(in.Symbol))
}

// RequestQuote is the explicit, user-triggered path. It bypasses debounce and
// reuse, and returns every failure to the caller.
func (o *Orchestrator) RequestQuote(ctx context.Context, in Input) (domain.Quote, error) {
	in = in.normalise()
	if !in.Amount.IsPositive() {
		return domain.Quote{}, ErrInvalidAmount
	}

	o.mu.Lock()
	if o.insufficient(in) {
		o.mu.Unlock()
		return domain.Quote{}, fmt.Errorf("%w: %s %s requested", ErrInsufficientBalance, in.Amount, in.Symbol)
	}
	guard := o.guard
	o.mu.Unlock()

	if guard != nil {
		if err := guard(ctx, in); err != nil {
			return domain.Quote{}, err
		}
	}

	o.mu.Lock()
	o.input = in
	o.hasInput = true
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
	o.seq++
	seq := o.seq
	o.mu.Unlock()

	return o.fetch(ctx, in, seq)
}

func (o *Orchestrator) fetch(ctx context.Context, in Input, seq uint64) (domain.Quote, error) {
	req := backend.QuoteRequest{Operation: in.Operation, Symbol: in.Symbol}

	var sourceRate *decimal.Decimal
	switch in.Operation {
	case domain.OperationBuy:
		usd := in.Amount
		if in.Currency != currency.USD {
			rate, err := o.rates.Rate(ctx, in.Currency)
			if err != nil {
				return domain.Quote{}, fmt.Errorf("resolve %s rate: %w", in.Currency, err)
			}
			usd = in.Amount.Div(rate.Rate).Round(2)
			r := rate.Rate
			sourceRate = &r
		}
		req.FiatAmount = &usd
	case domain.OperationSell:
		amount := in.Amount
		req.CryptoAmount = &amount
	default:
		return domain.Quote{}, fmt.Errorf("unknown operation %q", in.Operation)
	}

	q, err := o.requester.RequestQuote(ctx, req)
	if err != nil {
		return domain.Quote{}, err
	}

	if q.Symbol == "" {
		q.Symbol = in.Symbol
	}
	if q.Operation == "" {
		q.Operation = in.Operation
	}
	if sourceRate != nil {
		amount := in.Amount
		q.SourceCurrency = string(in.Currency)
		q.SourceCurrencyAmount = &amount
		q.SourceCurrencyRate = sourceRate
	}

	applied, q := o.apply(in, seq, q)
	if !applied {
		return q, ErrSuperseded
	}
	return q, nil
}

// apply stores q if the form still shows in and no newer response has been
// applied for the pair.
func (o *Orchestrator) apply(in Input, seq uint64, q domain.Quote) (bool, domain.Quote) {
	o.mu.Lock()
	key := in.key()
	if !o.hasInput || !in.same(o.input) || seq <= o.applied[key] {
		o.mu.Unlock()
		o.logger.Debug().Uint64("seq", seq).Str("quote_id", q.QuoteID).Msg("discard stale quote response")
		return false, q
	}

	now := o.sched.Now()
	q.CreatedAt = now
	o.current[key] = entry{quote: q, input: in, fetchedAt: now}
	o.applied[key] = seq
	o.restartCountdown()
	o.mu.Unlock()

	o.logger.Info().
		Str("quote_id", q.QuoteID).
		Str("symbol", q.Symbol).
		Str("operation", string(q.Operation)).
		Str("total", q.TotalAmount.String()).
		Int("expires_in", q.ExpiresInSeconds).
		Msg("quote received")
	o.emit(Event{Kind: EventQuoted, Input: in, Quote: q, SecondsRemaining: q.SecondsRemaining(now)})
	return true, q
}

// caller holds o.mu
func (o *Orchestrator) restartCountdown() {
	if o.countdown != nil {
		o.countdown.Stop()
	}
	o.lastTick = -1
	o.countdown = o.sched.Every(o.opts.Tick, o.tick)
}

func (o *Orchestrator) tick() {
	o.mu.Lock()
	e, ok := o.current[o.input.key()]
	if !ok {
		o.mu.Unlock()
		return
	}
	now := o.sched.Now()
	left := e.quote.SecondsRemaining(now)
	if left == o.lastTick {
		o.mu.Unlock()
		return
	}
	o.lastTick = left

	kind := EventTick
	if left == 0 {
		kind = EventExpired
		if o.countdown != nil {
			o.countdown.Stop()
			o.countdown = nil
		}
	}
	o.mu.Unlock()

	o.emit(Event{Kind: kind, Input: e.input, Quote: e.quote, SecondsRemaining: left})
}

// Current returns the live quote for the form's symbol and operation.
func (o *Orchestrator) Current() (domain.Quote, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.hasInput {
		return domain.Quote{}, false
	}
	e, ok := o.current[o.input.key()]
	if !ok || !e.quote.IsValidAt(o.sched.Now()) {
		return domain.Quote{}, false
	}
	return e.quote, true
}

// Lookup finds a quote by id among the current quotes. Superseded quotes are
// not found. The quote is returned even when expired so callers can tell
// expiry apart from absence.
func (o *Orchestrator) Lookup(quoteID string) (domain.Quote, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, e := range o.current {
		if e.quote.QuoteID == quoteID {
			return e.quote, true
		}
	}
	return domain.Quote{}, false
}

// Consume drops a quote once it has been turned into a trade.
func (o *Orchestrator) Consume(quoteID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for key, e := range o.current {
		if e.quote.QuoteID == quoteID {
			delete(o.current, key)
		}
	}
}

func (o *Orchestrator) emit(ev Event) {
	o.mu.Lock()
	subs := append([]func(Event){}, o.subs...)
	o.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
