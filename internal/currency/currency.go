package currency

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Code is a supported fiat currency.
type Code string

const (
	USD Code = "USD"
	BRL Code = "BRL"
	EUR Code = "EUR"
)

// Supported lists every fiat currency the engine converts between.
var Supported = []Code{USD, BRL, EUR}

// ParseCode validates a currency code.
func ParseCode(v string) (Code, error) {
	c := Code(strings.ToUpper(strings.TrimSpace(v)))
	for _, s := range Supported {
		if s == c {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported currency %q", v)
}

// Source records where a rate came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// DefaultRates is the built-in USD->target table used when the provider is unavailable.
func DefaultRates() map[Code]decimal.Decimal {
	return map[Code]decimal.Decimal{
		BRL: decimal.RequireFromString("5.0"),
		EUR: decimal.RequireFromString("0.92"),
	}
}

// ExchangeRate is one cached USD->Target quotation.
type ExchangeRate struct {
	Base      Code
	Target    Code
	Rate      decimal.Decimal
	Source    Source
	FetchedAt time.Time
	TTL       time.Duration
}

// IsStale reports whether the rate outlived its ttl at now.
func (r ExchangeRate) IsStale(now time.Time) bool {
	return !now.Before(r.FetchedAt.Add(r.TTL))
}

// RateProvider fetches a live USD->target rate.
type RateProvider interface {
	FetchRate(ctx context.Context, target Code) (decimal.Decimal, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Options tune the converter.
type Options struct {
	TTL      time.Duration
	Timeout  time.Duration
	Defaults map[Code]decimal.Decimal
}

// Converter normalises fiat amounts through a USD pivot.
type Converter struct {
	provider RateProvider
	clock    Clock
	opts     Options
	logger   zerolog.Logger

	mu    sync.Mutex
	cache map[Code]ExchangeRate
}

// NewConverter builds a Converter. provider may be nil, in which case only
// default rates are served.
func NewConverter(provider RateProvider, clock Clock, opts Options, logger zerolog.Logger) *Converter {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	defaults := DefaultRates()
	for code, rate := range opts.Defaults {
		if rate.IsPositive() {
			defaults[code] = rate
		}
	}
	opts.Defaults = defaults

	return &Converter{
		provider: provider,
		clock:    clock,
		opts:     opts,
		logger:   logger.With().Str("component", "currency").Logger(),
		cache:    make(map[Code]ExchangeRate),
	}
}

// Rate returns the USD->code rate, refreshing it when stale. It never fails for
// a supported currency: provider errors degrade to the default table.
func (c *Converter) Rate(ctx context.Context, code Code) (ExchangeRate, error) {
	if _, err := ParseCode(string(code)); err != nil {
		return ExchangeRate{}, err
	}

	now := c.clock.Now()
	if code == USD {
		return ExchangeRate{Base: USD, Target: USD, Rate: decimal.NewFromInt(1), Source: SourceLive, FetchedAt: now, TTL: c.opts.TTL}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache[code]; ok && !cached.IsStale(now) {
		return cached, nil
	}

	rate := c.fetch(ctx, code, now)
	c.cache[code] = rate
	return rate, nil
}

func (c *Converter) fetch(ctx context.Context, code Code, now time.Time) ExchangeRate {
	rate := ExchangeRate{Base: USD, Target: code, FetchedAt: now, TTL: c.opts.TTL}

	if c.provider != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		live, err := c.provider.FetchRate(fetchCtx, code)
		cancel()
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Str("currency", string(code)).Msg("exchange rate fetch failed; using default rate")
		case !live.IsPositive():
			c.logger.Warn().Str("currency", string(code)).Str("rate", live.String()).Msg("provider returned non-positive rate; using default rate")
		default:
			rate.Rate = live
			rate.Source = SourceLive
			return rate
		}
	}

	rate.Rate = c.opts.Defaults[code]
	rate.Source = SourceFallback
	return rate
}

// ToUSD converts amount denominated in code into USD.
func (c *Converter) ToUSD(ctx context.Context, amount decimal.Decimal, code Code) (decimal.Decimal, error) {
	rate, err := c.Rate(ctx, code)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if code == USD {
		return amount, nil
	}
	return amount.Div(rate.Rate), nil
}

// FromUSD converts a USD amount into code.
func (c *Converter) FromUSD(ctx context.Context, amountUSD decimal.Decimal, code Code) (decimal.Decimal, error) {
	rate, err := c.Rate(ctx, code)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if code == USD {
		return amountUSD, nil
	}
	return amountUSD.Mul(rate.Rate), nil
}

// Convert moves amount from one currency to another through USD.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to Code) (decimal.Decimal, error) {
	if from == to {
		if _, err := ParseCode(string(from)); err != nil {
			return decimal.Decimal{}, err
		}
		return amount, nil
	}
	usd, err := c.ToUSD(ctx, amount, from)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return c.FromUSD(ctx, usd, to)
}
