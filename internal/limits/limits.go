package limits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradectl/internal/currency"
	"tradectl/internal/domain"
)

// AccountType selects the daily limit tier.
type AccountType string

const (
	AccountPF AccountType = "PF"
	AccountPJ AccountType = "PJ"
)

// ParseAccountType validates an account tier.
func ParseAccountType(v string) (AccountType, error) {
	switch AccountType(strings.ToUpper(strings.TrimSpace(v))) {
	case AccountPF:
		return AccountPF, nil
	case AccountPJ:
		return AccountPJ, nil
	}
	return "", fmt.Errorf("unknown account type %q", v)
}

// Config carries the limit constants so markets can override them.
type Config struct {
	MinAmountUSD decimal.Decimal
	DailyLimitPF decimal.Decimal
	DailyLimitPJ decimal.Decimal
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MinAmountUSD: decimal.NewFromInt(1),
		DailyLimitPF: decimal.NewFromInt(500_000),
		DailyLimitPJ: decimal.NewFromInt(1_000_000),
	}
}

// DailyLimit returns the tier's USD limit.
func (c Config) DailyLimit(account AccountType) decimal.Decimal {
	if account == AccountPJ {
		return c.DailyLimitPJ
	}
	return c.DailyLimitPF
}

// Result is recomputed on every amount change and never persisted.
type Result struct {
	IsValid      bool
	Message      string
	RemainingUSD decimal.Decimal
	PercentUsed  decimal.Decimal
}

// Converter is the part of the currency service the validator needs.
type Converter interface {
	ToUSD(ctx context.Context, amount decimal.Decimal, code currency.Code) (decimal.Decimal, error)
	FromUSD(ctx context.Context, amountUSD decimal.Decimal, code currency.Code) (decimal.Decimal, error)
}

// Validator checks an amount against minimum and daily-volume rules in USD.
// The backend remains the authority; this only fails fast with a reason.
type Validator struct {
	cfg  Config
	conv Converter
}

// NewValidator builds a Validator with the injected limits.
func NewValidator(cfg Config, conv Converter) *Validator {
	return &Validator{cfg: cfg, conv: conv}
}

// Validate checks amount (in code) given what was already spent today (in code).
func (v *Validator) Validate(ctx context.Context, amount decimal.Decimal, account AccountType, code currency.Code, dailySpent decimal.Decimal) (Result, error) {
	amountUSD, err := v.conv.ToUSD(ctx, amount, code)
	if err != nil {
		return Result{}, fmt.Errorf("convert amount: %w", err)
	}
	spentUSD, err := v.conv.ToUSD(ctx, dailySpent, code)
	if err != nil {
		return Result{}, fmt.Errorf("convert daily spent: %w", err)
	}

	limit := v.cfg.DailyLimit(account)

	if amountUSD.LessThan(v.cfg.MinAmountUSD) {
		return Result{
			IsValid:      false,
			Message:      fmt.Sprintf("Minimum amount is $%s", v.cfg.MinAmountUSD.StringFixed(2)),
			RemainingUSD: remaining(limit, spentUSD),
			PercentUsed:  percent(spentUSD, limit),
		}, nil
	}

	total := spentUSD.Add(amountUSD)
	res := Result{
		IsValid:      true,
		RemainingUSD: remaining(limit, total),
		PercentUsed:  percent(total, limit),
	}

	if total.GreaterThan(limit) {
		res.IsValid = false
		res.Message = fmt.Sprintf("Daily limit of $%s exceeded. Remaining today: $%s",
			limit.StringFixed(2), remaining(limit, spentUSD).StringFixed(2))
	}

	return res, nil
}

func remaining(limit, used decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, limit.Sub(used))
}

func percent(used, limit decimal.Decimal) decimal.Decimal {
	if !limit.IsPositive() {
		return decimal.Zero
	}
	return used.Div(limit).Mul(decimal.NewFromInt(100))
}

// DailySpent sums the fiat amounts of day's trades that still count toward
// the limit, converted into code. Trades are assumed to be USD-denominated.
func DailySpent(ctx context.Context, trades []domain.Trade, day time.Time, conv Converter, code currency.Code) (decimal.Decimal, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	usd := decimal.Zero
	for _, t := range trades {
		if t.CreatedAt.Before(start) || !t.CreatedAt.Before(end) {
			continue
		}
		switch t.Status {
		case domain.StatusCancelled, domain.StatusExpired, domain.StatusFailed:
			continue
		}
		usd = usd.Add(t.FiatAmount)
	}
	return conv.FromUSD(ctx, usd, code)
}
