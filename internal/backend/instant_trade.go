package backend

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"tradectl/internal/domain"
)

const (
	quotePath    = "/instant-trade/quote"
	createPath   = "/instant-trade/create"
	feesPath     = "/instant-trade/fees"
	myTradesPath = "/instant-trade/history/my-trades"

	statusScanPages = 5
)

// QuoteRequest is the body of POST /instant-trade/quote. Exactly one of
// FiatAmount (buy) or CryptoAmount (sell) is set.
type QuoteRequest struct {
	Operation    domain.Operation `json:"operation"`
	Symbol       string           `json:"symbol"`
	FiatAmount   *decimal.Decimal `json:"fiat_amount,omitempty"`
	CryptoAmount *decimal.Decimal `json:"crypto_amount,omitempty"`
}

type quoteResponse struct {
	Quote domain.Quote `json:"quote"`
}

// RequestQuote prices a trade.
func (c *Client) RequestQuote(ctx context.Context, req QuoteRequest) (domain.Quote, error) {
	if (req.FiatAmount == nil) == (req.CryptoAmount == nil) {
		return domain.Quote{}, fmt.Errorf("quote request needs exactly one of fiat_amount or crypto_amount")
	}
	var out quoteResponse
	if err := c.do(ctx, http.MethodPost, quotePath, req, nil, &out); err != nil {
		return domain.Quote{}, err
	}
	if out.Quote.QuoteID == "" {
		return domain.Quote{}, fmt.Errorf("quote response missing quote_id")
	}
	return out.Quote, nil
}

type createRequest struct {
	QuoteID       string               `json:"quote_id"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
}

// CreateResponse is the success body of POST /instant-trade/create.
type CreateResponse struct {
	TradeID     string              `json:"trade_id"`
	ID          string              `json:"id"`
	Status      string              `json:"status,omitempty"`
	BankDetails *domain.BankDetails `json:"bank_details,omitempty"`
}

// Identifier returns trade_id, falling back to id.
func (r CreateResponse) Identifier() string {
	if r.TradeID != "" {
		return r.TradeID
	}
	return r.ID
}

// CreateTrade submits a quote as a trade. A 403 is returned as *APIError;
// callers decide whether it means "awaiting proof".
func (c *Client) CreateTrade(ctx context.Context, quoteID string, method domain.PaymentMethod) (CreateResponse, error) {
	var out CreateResponse
	err := c.do(ctx, http.MethodPost, createPath, createRequest{QuoteID: quoteID, PaymentMethod: method}, nil, &out)
	return out, err
}

// Fees is the decoded GET /instant-trade/fees payload.
type Fees struct {
	Raw          string
	TotalPercent decimal.Decimal
}

type feesResponse struct {
	Fees struct {
		Total string `json:"total"`
	} `json:"fees"`
}

// Fees fetches the live fee display.
func (c *Client) Fees(ctx context.Context) (Fees, error) {
	var out feesResponse
	if err := c.do(ctx, http.MethodGet, feesPath, nil, nil, &out); err != nil {
		return Fees{}, err
	}
	pct, err := ParsePercent(out.Fees.Total)
	if err != nil {
		return Fees{}, err
	}
	return Fees{Raw: out.Fees.Total, TotalPercent: pct}, nil
}

// ParsePercent turns "1.25%" into 1.25.
func ParsePercent(v string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%"))
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("empty percentage")
	}
	pct, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse percentage %q: %w", v, err)
	}
	return pct, nil
}

// TradePage is one page of GET /instant-trade/history/my-trades.
type TradePage struct {
	Trades  []domain.Trade `json:"trades"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

// MyTrades lists the user's trades, newest first.
func (c *Client) MyTrades(ctx context.Context, page, perPage int) (TradePage, error) {
	query := map[string]string{}
	if page > 0 {
		query["page"] = strconv.Itoa(page)
	}
	if perPage > 0 {
		query["per_page"] = strconv.Itoa(perPage)
	}
	var out TradePage
	if err := c.do(ctx, http.MethodGet, myTradesPath, nil, query, &out); err != nil {
		return TradePage{}, err
	}
	return out, nil
}

// FindTrade scans recent history pages for id.
func (c *Client) FindTrade(ctx context.Context, id string) (domain.Trade, error) {
	for page := 1; page <= statusScanPages; page++ {
		res, err := c.MyTrades(ctx, page, 50)
		if err != nil {
			return domain.Trade{}, err
		}
		for _, t := range res.Trades {
			if t.ID == id || t.ReferenceCode == id {
				return t, nil
			}
		}
		if len(res.Trades) == 0 || (res.PerPage > 0 && page*res.PerPage >= res.Total) {
			break
		}
	}
	return domain.Trade{}, fmt.Errorf("trade %s not found in recent history", id)
}

// TradeStatus reports the backend's authoritative status for id.
func (c *Client) TradeStatus(ctx context.Context, id string) (domain.TradeStatus, error) {
	t, err := c.FindTrade(ctx, id)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}
