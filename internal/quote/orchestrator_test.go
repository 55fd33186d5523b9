package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradectl/internal/backend"
	"tradectl/internal/currency"
	"tradectl/internal/domain"
	"tradectl/internal/limits"
	"tradectl/internal/scheduler"
)

type fakeRequester struct {
	mu        sync.Mutex
	requests  []backend.QuoteRequest
	err       error
	expiresIn int
}

func (f *fakeRequester) RequestQuote(ctx context.Context, req backend.QuoteRequest) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.Quote{}, f.err
	}
	expires := f.expiresIn
	if expires == 0 {
		expires = 120
	}
	q := domain.Quote{
		QuoteID:          fmt.Sprintf("q%d", len(f.requests)),
		Operation:        req.Operation,
		Symbol:           req.Symbol,
		ExpiresInSeconds: expires,
	}
	if req.FiatAmount != nil {
		q.FiatAmount = *req.FiatAmount
	}
	if req.CryptoAmount != nil {
		q.CryptoAmount = *req.CryptoAmount
	}
	return q, nil
}

func (f *fakeRequester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fixedBalances map[string]decimal.Decimal

func (b fixedBalances) Balance(symbol string) decimal.Decimal { return b[symbol] }

type fixedRates map[currency.Code]decimal.Decimal

func (f fixedRates) FetchRate(ctx context.Context, target currency.Code) (decimal.Decimal, error) {
	return f[target], nil
}

type harness struct {
	clock  *scheduler.Manual
	req    *fakeRequester
	orch   *Orchestrator
	events []Event
	queue  []func()
}

func newHarness(t *testing.T, queued bool) *harness {
	t.Helper()
	h := &harness{
		clock: scheduler.NewManual(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)),
		req:   &fakeRequester{},
	}
	conv := currency.NewConverter(fixedRates{currency.BRL: decimal.NewFromInt(5)}, h.clock, currency.Options{TTL: time.Hour}, zerolog.Nop())
	opts := DefaultOptions()
	opts.Dispatch = func(fn func()) { fn() }
	if queued {
		opts.Dispatch = func(fn func()) { h.queue = append(h.queue, fn) }
	}
	balances := fixedBalances{"USDT": decimal.NewFromInt(5), "BTC": decimal.NewFromInt(1)}
	h.orch = New(h.req, conv, balances, h.clock, opts, zerolog.Nop())
	h.orch.Subscribe(func(ev Event) { h.events = append(h.events, ev) })
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) kinds(kind EventKind) int {
	n := 0
	for _, ev := range h.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func buy(amount string) Input {
	return Input{Amount: decimal.RequireFromString(amount), Symbol: "BTC", Operation: domain.OperationBuy, Currency: currency.USD}
}

func TestDebounceLastKeystrokeWins(t *testing.T) {
	h := newHarness(t, false)

	h.orch.OnAmountChanged(buy("1"))
	h.clock.Advance(500 * time.Millisecond)
	h.orch.OnAmountChanged(buy("10"))
	h.clock.Advance(500 * time.Millisecond)
	h.orch.OnAmountChanged(buy("100"))

	h.clock.Advance(1199 * time.Millisecond)
	if h.req.count() != 0 {
		t.Fatal("request fired before the debounce window elapsed")
	}
	h.clock.Advance(time.Millisecond)
	if h.req.count() != 1 {
		t.Fatalf("expected exactly one request, got %d", h.req.count())
	}
	if !h.req.requests[0].FiatAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("last amount should win, sent %s", h.req.requests[0].FiatAmount)
	}
	q, ok := h.orch.Current()
	if !ok || q.QuoteID != "q1" {
		t.Fatalf("quote should be current, got %+v %v", q, ok)
	}
	if !q.CreatedAt.Equal(h.clock.Now()) {
		t.Fatal("createdAt should be stamped on acceptance")
	}
}

func TestNonPositiveAmountDoesNothing(t *testing.T) {
	h := newHarness(t, false)
	h.orch.OnAmountChanged(buy("50"))
	h.orch.OnAmountChanged(buy("0"))
	h.clock.Advance(5 * time.Second)
	if h.req.count() != 0 {
		t.Fatal("zero amount must cancel the pending request and send nothing")
	}
	if len(h.events) != 0 {
		t.Fatalf("zero amount should be silent, got %+v", h.events)
	}
}

func TestScenarioCInsufficientBalance(t *testing.T) {
	h := newHarness(t, false)
	h.orch.OnAmountChanged(Input{Amount: decimal.NewFromInt(10), Symbol: "usdt", Operation: domain.OperationSell})
	h.clock.Advance(2 * time.Second)

	if h.req.count() != 0 {
		t.Fatal("sell above balance must not reach the backend")
	}
	if h.kinds(EventRejected) != 1 || !errors.Is(h.events[0].Reason, ErrInsufficientBalance) {
		t.Fatalf("expected one insufficient-balance rejection, got %+v", h.events)
	}

	if _, err := h.orch.RequestQuote(context.Background(), Input{Amount: decimal.NewFromInt(10), Symbol: "USDT", Operation: domain.OperationSell}); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("explicit path should surface the rejection, got %v", err)
	}
}

func TestSameAmountWithinWindowIsIdempotent(t *testing.T) {
	h := newHarness(t, false)

	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	if h.req.count() != 1 {
		t.Fatalf("same amount within 60s should reuse the quote, requests=%d", h.req.count())
	}

	h.clock.Advance(60 * time.Second)
	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	if h.req.count() != 2 {
		t.Fatalf("past the validity window the quote must be refreshed, requests=%d", h.req.count())
	}
}

func TestChangedAmountForcesRequote(t *testing.T) {
	h := newHarness(t, false)
	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	h.orch.OnAmountChanged(buy("101"))
	h.clock.Advance(1200 * time.Millisecond)

	if h.req.count() != 2 {
		t.Fatalf("a changed amount must re-quote, requests=%d", h.req.count())
	}
	if _, ok := h.orch.Lookup("q1"); ok {
		t.Fatal("superseded quote must not be found")
	}
	if q, ok := h.orch.Lookup("q2"); !ok || q.QuoteID != "q2" {
		t.Fatal("newest quote should be current")
	}
}

func TestScenarioDBuyInBRL(t *testing.T) {
	h := newHarness(t, false)
	h.orch.OnAmountChanged(Input{Amount: decimal.NewFromInt(610), Symbol: "BTC", Operation: domain.OperationBuy, Currency: currency.BRL})
	h.clock.Advance(1200 * time.Millisecond)

	if h.req.count() != 1 {
		t.Fatal("expected one request")
	}
	sent := h.req.requests[0]
	if sent.CryptoAmount != nil || !sent.FiatAmount.Equal(decimal.NewFromInt(122)) {
		t.Fatalf("expected 122 USD fiat_amount, got %+v", sent)
	}

	q, ok := h.orch.Current()
	if !ok {
		t.Fatal("quote should be current")
	}
	if q.SourceCurrency != "BRL" || !q.SourceCurrencyAmount.Equal(decimal.NewFromInt(610)) || !q.SourceCurrencyRate.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("source currency data should be retained, got %+v", q)
	}
}

func TestSellSendsCryptoAmountUnconverted(t *testing.T) {
	h := newHarness(t, false)
	h.orch.OnAmountChanged(Input{Amount: decimal.RequireFromString("0.5"), Symbol: "BTC", Operation: domain.OperationSell, Currency: currency.BRL})
	h.clock.Advance(1200 * time.Millisecond)

	sent := h.req.requests[0]
	if sent.FiatAmount != nil || !sent.CryptoAmount.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("sell must send crypto_amount as typed, got %+v", sent)
	}
	q, _ := h.orch.Current()
	if q.SourceCurrencyRate != nil {
		t.Fatal("sell quotes carry no source currency rate")
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	h := newHarness(t, true)

	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	h.orch.OnAmountChanged(buy("200"))
	h.clock.Advance(1200 * time.Millisecond)
	if len(h.queue) != 2 {
		t.Fatalf("expected two in-flight requests, got %d", len(h.queue))
	}

	h.queue[1]()
	h.queue[0]()

	q, ok := h.orch.Current()
	if !ok || !q.FiatAmount.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("only the response for the current amount may land, got %+v", q)
	}
	if h.kinds(EventQuoted) != 1 {
		t.Fatalf("stale response must not notify, events=%+v", h.events)
	}
}

func TestOutOfOrderSameInputNeverRegresses(t *testing.T) {
	h := newHarness(t, true)

	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	h.orch.OnAmountChanged(buy("200"))
	h.clock.Advance(1200 * time.Millisecond)
	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	if len(h.queue) != 3 {
		t.Fatalf("expected three dispatched requests, got %d", len(h.queue))
	}

	h.queue[2]()
	newest, _ := h.orch.Current()
	h.queue[0]()
	h.queue[1]()

	q, _ := h.orch.Current()
	if q.QuoteID != newest.QuoteID {
		t.Fatalf("older response regressed the quote: had %s, now %s", newest.QuoteID, q.QuoteID)
	}
}

func TestInFlightDuplicateSuppressed(t *testing.T) {
	h := newHarness(t, true)
	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	if len(h.queue) != 1 {
		t.Fatalf("same amount already in flight should not be re-sent, dispatched=%d", len(h.queue))
	}
}

func TestAutoFailureIsSilentAndKeepsQuote(t *testing.T) {
	h := newHarness(t, false)
	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	before, _ := h.orch.Current()

	h.req.err = errors.New("backend down")
	h.orch.OnAmountChanged(buy("150"))
	h.clock.Advance(1200 * time.Millisecond)

	if h.kinds(EventQuoted) != 1 || h.kinds(EventRejected) != 0 {
		t.Fatalf("failure must not notify, events=%+v", h.events)
	}
	if q, ok := h.orch.Lookup(before.QuoteID); !ok || q.QuoteID != before.QuoteID {
		t.Fatal("previous quote must be left untouched")
	}

	if _, err := h.orch.RequestQuote(context.Background(), buy("150")); err == nil {
		t.Fatal("explicit request must surface the failure")
	}
}

func TestExplicitRequestBypassesReuse(t *testing.T) {
	h := newHarness(t, false)
	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)

	q, err := h.orch.RequestQuote(context.Background(), buy("100"))
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if q.QuoteID != "q2" || h.req.count() != 2 {
		t.Fatalf("explicit request should always hit the backend, got %s after %d", q.QuoteID, h.req.count())
	}
	if _, err := h.orch.RequestQuote(context.Background(), buy("0")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount should be rejected, got %v", err)
	}
}

func TestCountdownTicksAndExpires(t *testing.T) {
	h := newHarness(t, false)
	h.req.expiresIn = 3
	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)

	h.clock.Advance(5 * time.Second)

	if h.kinds(EventTick) != 2 {
		t.Fatalf("expected ticks at 2s and 1s remaining, got %+v", h.events)
	}
	if h.kinds(EventExpired) != 1 {
		t.Fatalf("expected one expiry event, got %+v", h.events)
	}
	if _, ok := h.orch.Current(); ok {
		t.Fatal("expired quote must not be current")
	}
	if q, ok := h.orch.Lookup("q1"); !ok || q.IsValidAt(h.clock.Now()) {
		t.Fatal("expired quote stays addressable but invalid")
	}

	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	if h.req.count() != 2 {
		t.Fatal("an expired quote must not be reused even inside the client window")
	}
}

func TestConsumeRemovesQuote(t *testing.T) {
	h := newHarness(t, false)
	h.orch.OnAmountChanged(buy("100"))
	h.clock.Advance(1200 * time.Millisecond)
	h.orch.Consume("q1")
	if _, ok := h.orch.Lookup("q1"); ok {
		t.Fatal("consumed quote should be gone")
	}
}

type limitRejection struct{ res limits.Result }

func (e *limitRejection) Error() string { return e.res.Message }

// limitGuard checks buys against the default limits with spent already used today.
func limitGuard(h *harness, spent decimal.Decimal) Guard {
	conv := currency.NewConverter(fixedRates{currency.BRL: decimal.NewFromInt(5)}, h.clock, currency.Options{TTL: time.Hour}, zerolog.Nop())
	validator := limits.NewValidator(limits.DefaultConfig(), conv)
	return func(ctx context.Context, in Input) error {
		if in.Operation != domain.OperationBuy {
			return nil
		}
		res, err := validator.Validate(ctx, in.Amount, limits.AccountPF, in.Currency, spent)
		if err != nil {
			return err
		}
		if !res.IsValid {
			return &limitRejection{res: res}
		}
		return nil
	}
}

func TestBelowMinimumBuyNeverReachesBackend(t *testing.T) {
	h := newHarness(t, false)
	h.orch.SetGuard(limitGuard(h, decimal.Zero))

	h.orch.OnAmountChanged(buy("0.50"))
	h.clock.Advance(1200 * time.Millisecond)

	if h.req.count() != 0 {
		t.Fatalf("below-minimum amount must not be quoted, got %d requests", h.req.count())
	}
	if h.kinds(EventRejected) != 1 {
		t.Fatalf("expected one rejection, got %+v", h.events)
	}
	var rej *limitRejection
	if !errors.As(h.events[0].Reason, &rej) || rej.res.Message != "Minimum amount is $1.00" {
		t.Fatalf("rejection should carry the limits message, got %v", h.events[0].Reason)
	}
}

func TestDailyLimitRejectionDropsPreviousQuote(t *testing.T) {
	h := newHarness(t, false)
	h.orch.SetGuard(limitGuard(h, decimal.NewFromInt(499900)))

	h.orch.OnAmountChanged(buy("50"))
	h.clock.Advance(1200 * time.Millisecond)
	if _, ok := h.orch.Current(); !ok {
		t.Fatal("amount inside the limit should be quoted")
	}

	h.orch.OnAmountChanged(buy("200"))
	h.clock.Advance(1200 * time.Millisecond)
	if h.req.count() != 1 {
		t.Fatalf("over-limit amount must not be quoted, got %d requests", h.req.count())
	}
	if h.kinds(EventRejected) != 1 {
		t.Fatalf("expected one rejection, got %+v", h.events)
	}
	if _, ok := h.orch.Current(); ok {
		t.Fatal("quote for the previous amount must not stay confirmable")
	}
}

func TestGuardSkipsSells(t *testing.T) {
	h := newHarness(t, false)
	h.orch.SetGuard(limitGuard(h, decimal.Zero))

	h.orch.OnAmountChanged(Input{Amount: decimal.RequireFromString("0.001"), Symbol: "BTC", Operation: domain.OperationSell})
	h.clock.Advance(1200 * time.Millisecond)
	if h.req.count() != 1 {
		t.Fatalf("sells are not limit-checked, got %d requests", h.req.count())
	}
}

func TestExplicitRequestRunsGuard(t *testing.T) {
	h := newHarness(t, false)
	h.orch.SetGuard(limitGuard(h, decimal.Zero))

	_, err := h.orch.RequestQuote(context.Background(), buy("0.50"))
	var rej *limitRejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected limits rejection, got %v", err)
	}
	if h.req.count() != 0 {
		t.Fatal("rejected explicit quote must not reach the backend")
	}
}
