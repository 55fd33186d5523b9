package currency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradectl/internal/scheduler"
)

type stubProvider struct {
	rates map[Code]decimal.Decimal
	err   error
	calls int
}

func (s *stubProvider) FetchRate(ctx context.Context, target Code) (decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	return s.rates[target], nil
}

func newClock() *scheduler.Manual {
	return scheduler.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
}

func TestToUSDScenarioD(t *testing.T) {
	provider := &stubProvider{rates: map[Code]decimal.Decimal{BRL: decimal.NewFromInt(5)}}
	conv := NewConverter(provider, newClock(), Options{TTL: time.Minute}, zerolog.Nop())

	usd, err := conv.ToUSD(context.Background(), decimal.NewFromInt(610), BRL)
	if err != nil {
		t.Fatalf("ToUSD: %v", err)
	}
	if !usd.Equal(decimal.NewFromInt(122)) {
		t.Fatalf("610 BRL at 5.0 should be 122 USD, got %s", usd)
	}
}

func TestRoundTrip(t *testing.T) {
	provider := &stubProvider{rates: map[Code]decimal.Decimal{
		BRL: decimal.RequireFromString("5.4321"),
		EUR: decimal.RequireFromString("0.9137"),
	}}
	conv := NewConverter(provider, newClock(), Options{}, zerolog.Nop())
	eps := decimal.RequireFromString("0.000000001")

	for _, code := range []Code{BRL, EUR} {
		for _, raw := range []string{"0.01", "1", "610", "12345.67", "999999.99"} {
			a := decimal.RequireFromString(raw)
			usd, err := conv.ToUSD(context.Background(), a, code)
			if err != nil {
				t.Fatal(err)
			}
			back, err := conv.FromUSD(context.Background(), usd, code)
			if err != nil {
				t.Fatal(err)
			}
			if back.Sub(a).Abs().GreaterThan(eps) {
				t.Fatalf("%s %s round-tripped to %s", raw, code, back)
			}
		}
	}
}

func TestConvertPivotsThroughUSD(t *testing.T) {
	provider := &stubProvider{rates: map[Code]decimal.Decimal{
		BRL: decimal.NewFromInt(5),
		EUR: decimal.RequireFromString("0.9"),
	}}
	conv := NewConverter(provider, newClock(), Options{}, zerolog.Nop())

	eur, err := conv.Convert(context.Background(), decimal.NewFromInt(50), BRL, EUR)
	if err != nil {
		t.Fatal(err)
	}
	if !eur.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("50 BRL -> 10 USD -> 9 EUR, got %s", eur)
	}
}

func TestFallbackOnProviderFailure(t *testing.T) {
	provider := &stubProvider{err: errors.New("boom")}
	clock := newClock()
	conv := NewConverter(provider, clock, Options{TTL: time.Minute}, zerolog.Nop())

	rate, err := conv.Rate(context.Background(), BRL)
	if err != nil {
		t.Fatalf("fallback must not surface an error: %v", err)
	}
	if rate.Source != SourceFallback || !rate.Rate.Equal(decimal.RequireFromString("5.0")) {
		t.Fatalf("expected default BRL fallback, got %+v", rate)
	}

	if _, err := conv.Rate(context.Background(), BRL); err != nil {
		t.Fatal(err)
	}
	if provider.calls != 1 {
		t.Fatalf("fallback should be cached for its ttl, provider calls=%d", provider.calls)
	}
}

func TestNonPositiveRateFallsBack(t *testing.T) {
	provider := &stubProvider{rates: map[Code]decimal.Decimal{EUR: decimal.Zero}}
	conv := NewConverter(provider, newClock(), Options{}, zerolog.Nop())

	rate, _ := conv.Rate(context.Background(), EUR)
	if rate.Source != SourceFallback || !rate.Rate.IsPositive() {
		t.Fatalf("zero rate must be replaced, got %+v", rate)
	}
}

func TestLazyRefreshAfterTTL(t *testing.T) {
	provider := &stubProvider{rates: map[Code]decimal.Decimal{BRL: decimal.NewFromInt(5)}}
	clock := newClock()
	conv := NewConverter(provider, clock, Options{TTL: time.Minute}, zerolog.Nop())

	_, _ = conv.Rate(context.Background(), BRL)
	clock.Advance(30 * time.Second)
	_, _ = conv.Rate(context.Background(), BRL)
	if provider.calls != 1 {
		t.Fatalf("fresh rate should be served from cache, calls=%d", provider.calls)
	}

	provider.rates[BRL] = decimal.NewFromInt(6)
	clock.Advance(30 * time.Second)
	rate, _ := conv.Rate(context.Background(), BRL)
	if provider.calls != 2 || !rate.Rate.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("stale rate should be refetched, calls=%d rate=%s", provider.calls, rate.Rate)
	}
	if clock.Pending() != 0 {
		t.Fatal("refresh must be lazy, not timer driven")
	}
}

func TestUnsupportedCurrency(t *testing.T) {
	conv := NewConverter(nil, newClock(), Options{}, zerolog.Nop())
	if _, err := conv.ToUSD(context.Background(), decimal.NewFromInt(1), Code("JPY")); err == nil {
		t.Fatal("JPY is not supported")
	}
	if _, err := ParseCode("brl"); err != nil {
		t.Fatalf("lowercase code should parse: %v", err)
	}
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("base") != "USD" {
			t.Fatalf("base query should be USD, got %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"base":  "USD",
			"rates": map[string]any{"BRL": 5.25, "EUR": "0.91"},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderOptions{URL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	rate, err := p.FetchRate(context.Background(), BRL)
	if err != nil {
		t.Fatalf("FetchRate: %v", err)
	}
	if !rate.Equal(decimal.RequireFromString("5.25")) {
		t.Fatalf("expected 5.25, got %s", rate)
	}
}

func TestHTTPProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "down"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderOptions{URL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if _, err := p.FetchRate(context.Background(), EUR); err == nil {
		t.Fatal("503 should be an error from the provider")
	}

	conv := NewConverter(p, newClock(), Options{}, zerolog.Nop())
	rate, err := conv.Rate(context.Background(), EUR)
	if err != nil || rate.Source != SourceFallback {
		t.Fatalf("converter should fall back silently, rate=%+v err=%v", rate, err)
	}
}
