package wallet

import (
	"strings"

	"github.com/shopspring/decimal"

	"tradectl/internal/domain"
)

// SymbolTable resolves raw balance keys into trading symbols. It is versioned
// configuration so key-naming changes on the backend ship as data.
type SymbolTable struct {
	Version     string            `mapstructure:"version"`
	Stablecoins []string          `mapstructure:"stablecoins"`
	Networks    map[string]string `mapstructure:"networks"`
}

// DefaultSymbolTable is version 1 of the network to native-symbol mapping.
func DefaultSymbolTable() SymbolTable {
	return SymbolTable{
		Version:     "1",
		Stablecoins: []string{"usdt", "usdc"},
		Networks: map[string]string{
			"ethereum": "ETH",
			"bitcoin":  "BTC",
			"polygon":  "MATIC",
			"bsc":      "BNB",
			"solana":   "SOL",
			"tron":     "TRX",
			"arbitrum": "ETH",
			"optimism": "ETH",
			"base":     "ETH",
		},
	}
}

// Resolve maps a raw key to a symbol: stablecoin token in the key first, then
// the network table, then the upper-cased key itself.
func (t SymbolTable) Resolve(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return ""
	}
	for _, coin := range t.Stablecoins {
		c := strings.ToLower(coin)
		if c != "" && strings.Contains(k, c) {
			return strings.ToUpper(c)
		}
	}
	for network, symbol := range t.Networks {
		if strings.ToLower(network) == k {
			return strings.ToUpper(symbol)
		}
	}
	return strings.ToUpper(k)
}

// RawSet is a keyed collection of raw balance records.
type RawSet map[string]domain.RawBalance

// Add merges rec into the set, summing with any record under the same key.
func (s RawSet) Add(key string, rec domain.RawBalance) {
	if prev, ok := s[key]; ok {
		prev.Balance = prev.Balance.Add(rec.Balance)
		s[key] = prev
		return
	}
	s[key] = rec
}

// Merge folds other into s.
func (s RawSet) Merge(other RawSet) {
	for k, v := range other {
		s.Add(k, v)
	}
}

// Aggregate collapses raw records into one balance per symbol. Zero, negative
// and unresolvable records are dropped.
func (t SymbolTable) Aggregate(raw map[string]domain.RawBalance) map[string]domain.Balance {
	out := make(map[string]domain.Balance)
	for key, rec := range raw {
		if !rec.Balance.IsPositive() {
			continue
		}
		symbol := t.Resolve(key)
		if symbol == "" {
			continue
		}
		b := out[symbol]
		b.Symbol = symbol
		b.Amount = b.Amount.Add(rec.Balance)
		out[symbol] = b
	}
	return out
}

// Aggregate runs the default table.
func Aggregate(raw map[string]domain.RawBalance) map[string]domain.Balance {
	return DefaultSymbolTable().Aggregate(raw)
}

// Amount is a nil-safe lookup helper.
func Amount(balances map[string]domain.Balance, symbol string) decimal.Decimal {
	if b, ok := balances[strings.ToUpper(symbol)]; ok {
		return b.Amount
	}
	return decimal.Zero
}
