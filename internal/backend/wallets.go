package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"tradectl/internal/domain"
)

// ListWallets returns the wallets from GET /wallets/. The backend answers
// either with a bare array or with {"wallets": [...]}.
func (c *Client) ListWallets(ctx context.Context) ([]domain.Wallet, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/wallets/", nil, nil, &raw); err != nil {
		return nil, err
	}

	var list []domain.Wallet
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Wallets []domain.Wallet `json:"wallets"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode wallets: %w", err)
	}
	return wrapped.Wallets, nil
}

// WalletBalances returns the raw per-network/per-token records of a wallet.
// Values may be objects with a balance field or bare numbers/strings.
func (c *Client) WalletBalances(ctx context.Context, walletID string) (map[string]domain.RawBalance, error) {
	path := "/wallets/" + url.PathEscape(walletID) + "/balances"
	var out struct {
		Balances map[string]json.RawMessage `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, map[string]string{"include_tokens": "true"}, &out); err != nil {
		return nil, err
	}

	result := make(map[string]domain.RawBalance, len(out.Balances))
	for key, value := range out.Balances {
		rec, ok := decodeRawBalance(value)
		if !ok {
			c.logger.Debug().Str("wallet_id", walletID).Str("key", key).Msg("skip unparseable balance record")
			continue
		}
		result[key] = rec
	}
	return result, nil
}

func decodeRawBalance(value json.RawMessage) (domain.RawBalance, bool) {
	var rec domain.RawBalance
	if err := json.Unmarshal(value, &rec); err == nil {
		return rec, true
	}
	var amount decimal.Decimal
	if err := json.Unmarshal(value, &amount); err == nil {
		return domain.RawBalance{Balance: amount}, true
	}
	return domain.RawBalance{}, false
}
