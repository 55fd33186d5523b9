package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is the journal's copy of a trade the client created or observed.
type TradeRecord struct {
	TradeID        string
	QuoteID        string
	Operation      string
	Symbol         string
	PaymentMethod  string
	Status         string
	PendingProof   bool
	CryptoAmount   decimal.Decimal
	FiatAmount     decimal.Decimal
	TotalAmount    decimal.Decimal
	SourceCurrency *string
	SourceAmount   *decimal.Decimal
	SourceRate     *decimal.Decimal
	TransferUntil  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransitionRecord captures one observed status change.
type TransitionRecord struct {
	ID         int64
	TradeID    string
	FromStatus string
	ToStatus   string
	Unexpected bool
	ObservedAt time.Time
}
