package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Operation is the trade direction seen from the user.
type Operation string

const (
	OperationBuy  Operation = "buy"
	OperationSell Operation = "sell"
)

// ParseOperation normalises user input into an Operation.
func ParseOperation(v string) (Operation, error) {
	switch Operation(strings.ToLower(strings.TrimSpace(v))) {
	case OperationBuy:
		return OperationBuy, nil
	case OperationSell:
		return OperationSell, nil
	}
	return "", fmt.Errorf("unknown operation %q", v)
}

// PaymentMethod identifies how the fiat leg is settled.
type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentPix          PaymentMethod = "pix"
	PaymentCard         PaymentMethod = "card"
	PaymentBalance      PaymentMethod = "balance"
)

// ParsePaymentMethod validates a payment method name.
func ParsePaymentMethod(v string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(v)))
	switch m {
	case PaymentBankTransfer, PaymentPix, PaymentCard, PaymentBalance:
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method %q", v)
}

// Quote is a time-bounded priced offer returned by the pricing backend.
type Quote struct {
	QuoteID              string          `json:"quote_id"`
	Operation            Operation       `json:"operation"`
	Symbol               string          `json:"symbol"`
	CryptoPrice          decimal.Decimal `json:"crypto_price"`
	FiatAmount           decimal.Decimal `json:"fiat_amount"`
	CryptoAmount         decimal.Decimal `json:"crypto_amount"`
	SpreadPercentage     decimal.Decimal `json:"spread_percentage"`
	SpreadAmount         decimal.Decimal `json:"spread_amount"`
	NetworkFeePercentage decimal.Decimal `json:"network_fee_percentage"`
	NetworkFeeAmount     decimal.Decimal `json:"network_fee_amount"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	ExpiresInSeconds     int             `json:"expires_in_seconds"`

	// Set locally when the quote is accepted, not by the backend.
	CreatedAt time.Time `json:"-"`

	// Present only when a buy amount was entered in a non-USD currency.
	SourceCurrency       string           `json:"-"`
	SourceCurrencyAmount *decimal.Decimal `json:"-"`
	SourceCurrencyRate   *decimal.Decimal `json:"-"`
}

// ExpiresAt returns the instant after which the quote can no longer be submitted.
func (q Quote) ExpiresAt() time.Time {
	return q.CreatedAt.Add(time.Duration(q.ExpiresInSeconds) * time.Second)
}

// IsValidAt reports whether the quote is still live at now.
func (q Quote) IsValidAt(now time.Time) bool {
	return now.Before(q.ExpiresAt())
}

// SecondsRemaining is the countdown value shown next to a quote.
func (q Quote) SecondsRemaining(now time.Time) int {
	left := q.ExpiresAt().Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

// ExpectedTotal derives the total from the cost breakdown.
func (q Quote) ExpectedTotal() decimal.Decimal {
	costs := q.SpreadAmount.Add(q.NetworkFeeAmount)
	if q.Operation == OperationSell {
		return q.FiatAmount.Sub(costs)
	}
	return q.FiatAmount.Add(costs)
}

// CheckTotals verifies the breakdown adds up within eps.
func (q Quote) CheckTotals(eps decimal.Decimal) error {
	diff := q.TotalAmount.Sub(q.ExpectedTotal()).Abs()
	if diff.GreaterThan(eps) {
		return fmt.Errorf("quote %s total %s does not match breakdown %s", q.QuoteID, q.TotalAmount, q.ExpectedTotal())
	}
	return nil
}

// SourceTotal converts the total back into the currency the user typed, for
// bank-transfer display. ok is false when no source rate was retained.
func (q Quote) SourceTotal() (decimal.Decimal, bool) {
	if q.SourceCurrencyRate == nil {
		return decimal.Decimal{}, false
	}
	return q.TotalAmount.Mul(*q.SourceCurrencyRate).Round(2), true
}

// BankDetails is the destination for a bank-transfer trade.
type BankDetails struct {
	BankName      string          `json:"bank_name"`
	AccountHolder string          `json:"account_holder"`
	AccountNumber string          `json:"account_number"`
	BranchCode    string          `json:"branch_code,omitempty"`
	PixKey        string          `json:"pix_key,omitempty"`
	IBAN          string          `json:"iban,omitempty"`
	SwiftCode     string          `json:"swift_code,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
}

// Trade is the backend-authoritative record created from a confirmed quote.
type Trade struct {
	ID                   string          `json:"id"`
	ReferenceCode        string          `json:"reference_code"`
	Operation            Operation       `json:"operation"`
	Symbol               string          `json:"symbol"`
	CryptoAmount         decimal.Decimal `json:"crypto_amount"`
	FiatAmount           decimal.Decimal `json:"fiat_amount"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	SpreadPercentage     decimal.Decimal `json:"spread_percentage"`
	NetworkFeePercentage decimal.Decimal `json:"network_fee_percentage"`
	PaymentMethod        PaymentMethod   `json:"payment_method"`
	Status               TradeStatus     `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Balance is an aggregated holding for one trading symbol.
type Balance struct {
	Symbol string
	Amount decimal.Decimal
}

// Wallet is one custodial wallet listed by the backend.
type Wallet struct {
	ID      string `json:"id"`
	Network string `json:"network"`
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// RawBalance is an unaggregated per-network or per-token balance record.
type RawBalance struct {
	Balance decimal.Decimal `json:"balance"`
	Network string          `json:"network,omitempty"`
	Token   string          `json:"token,omitempty"`
}
