package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradectl/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, Token: "secret", Timeout: time.Second}, zerolog.Nop())
}

func TestRequestQuoteBuySendsFiatAmount(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instant-trade/quote" || r.Method != http.MethodPost {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("missing bearer token")
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Fatalf("missing request id")
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{"quote": map[string]any{
			"quote_id": "q1", "operation": "buy", "symbol": "BTC",
			"crypto_price": "50000", "fiat_amount": "100", "crypto_amount": "0.002",
			"total_amount": "100", "expires_in_seconds": 30,
		}})
	})

	amount := decimal.NewFromInt(100)
	q, err := client.RequestQuote(context.Background(), QuoteRequest{Operation: domain.OperationBuy, Symbol: "BTC", FiatAmount: &amount})
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if q.QuoteID != "q1" || !q.CryptoAmount.Equal(decimal.RequireFromString("0.002")) {
		t.Fatalf("unexpected quote %+v", q)
	}
	if body["fiat_amount"] != "100" || body["operation"] != "buy" || body["symbol"] != "BTC" {
		t.Fatalf("unexpected request body %+v", body)
	}
	if _, ok := body["crypto_amount"]; ok {
		t.Fatal("buy quote must not send crypto_amount")
	}
}

func TestRequestQuoteRejectsAmbiguousAmount(t *testing.T) {
	client := New(Options{BaseURL: "http://127.0.0.1:0"}, zerolog.Nop())
	if _, err := client.RequestQuote(context.Background(), QuoteRequest{Operation: domain.OperationSell, Symbol: "BTC"}); err == nil {
		t.Fatal("missing amount should fail before the network")
	}
}

func TestCreateTradeForbiddenCarriesTradeID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"detail": map[string]any{"message": "proof required", "trade_id": "t_123"}})
	})

	_, err := client.CreateTrade(context.Background(), "q1", domain.PaymentPix)
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Fatalf("status should be 403, got %d", apiErr.Status)
	}
	if got := apiErr.Field("trade_id", "id"); got != "t_123" {
		t.Fatalf("nested trade id should be found, got %q", got)
	}
	if apiErr.Message != "proof required" {
		t.Fatalf("nested message should be surfaced, got %q", apiErr.Message)
	}
}

func TestCreateTradeSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["quote_id"] != "q9" || req["payment_method"] != "bank_transfer" {
			t.Fatalf("unexpected body %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           "t_9",
			"bank_details": map[string]any{"bank_name": "Bank", "account_number": "123"},
		})
	})

	res, err := client.CreateTrade(context.Background(), "q9", domain.PaymentBankTransfer)
	if err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}
	if res.Identifier() != "t_9" || res.BankDetails == nil || res.BankDetails.AccountNumber != "123" {
		t.Fatalf("unexpected response %+v", res)
	}
}

func TestFeesParsesPercent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"fees":{"total":"1.75%"}}`))
	})
	fees, err := client.Fees(context.Background())
	if err != nil {
		t.Fatalf("Fees: %v", err)
	}
	if !fees.TotalPercent.Equal(decimal.RequireFromString("1.75")) || fees.Raw != "1.75%" {
		t.Fatalf("unexpected fees %+v", fees)
	}

	if _, err := ParsePercent("abc%"); err == nil {
		t.Fatal("garbage percentage should fail")
	}
}

func TestTradeStatusScansHistory(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		trades := []map[string]any{{"id": "other", "status": "COMPLETED"}}
		if page == 2 {
			trades = []map[string]any{{"id": "t_1", "status": "payment_confirmed"}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"trades": trades, "total": 100, "page": page, "per_page": 50})
	})

	status, err := client.TradeStatus(context.Background(), "t_1")
	if err != nil {
		t.Fatalf("TradeStatus: %v", err)
	}
	if status != domain.StatusPaymentConfirmed || calls != 2 {
		t.Fatalf("expected PAYMENT_CONFIRMED after 2 pages, got %s after %d", status, calls)
	}
}

func TestHistoryPageWithUnknownStatusDecodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"trades":[{"id":"a","status":"processing","fiat_amount":"10"},{"id":"t_1","status":"completed","fiat_amount":"20"}],"total":2,"page":1,"per_page":50}`))
	})

	page, err := client.MyTrades(context.Background(), 1, 50)
	if err != nil {
		t.Fatalf("one odd row must not fail the page: %v", err)
	}
	if len(page.Trades) != 2 || page.Trades[0].Status.Known() {
		t.Fatalf("unexpected trades %+v", page.Trades)
	}

	status, err := client.TradeStatus(context.Background(), "t_1")
	if err != nil || status != domain.StatusCompleted {
		t.Fatalf("status lookup should still work, got %s err=%v", status, err)
	}
}

func TestWalletsAndBalances(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wallets/":
			_, _ = w.Write([]byte(`{"wallets":[{"id":"w1","network":"ethereum"}]}`))
		case "/wallets/w1/balances":
			if r.URL.Query().Get("include_tokens") != "true" {
				t.Fatalf("include_tokens must be requested")
			}
			_, _ = w.Write([]byte(`{"balances":{"ethereum":{"balance":"1.5"},"ethereum_usdt":"20","polygon_usdc":3,"broken":[1]}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	wallets, err := client.ListWallets(context.Background())
	if err != nil || len(wallets) != 1 || wallets[0].ID != "w1" {
		t.Fatalf("ListWallets: %+v %v", wallets, err)
	}
	balances, err := client.WalletBalances(context.Background(), "w1")
	if err != nil {
		t.Fatalf("WalletBalances: %v", err)
	}
	if len(balances) != 3 {
		t.Fatalf("expected 3 parseable records, got %+v", balances)
	}
	if !balances["polygon_usdc"].Balance.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("bare number should decode, got %s", balances["polygon_usdc"].Balance)
	}
}

func TestServerErrorMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Quote expired"}`))
	})
	_, err := client.CreateTrade(context.Background(), "q1", domain.PaymentCard)
	apiErr, ok := AsAPIError(err)
	if !ok || apiErr.Message != "Quote expired" {
		t.Fatalf("expected message from body, got %v", err)
	}
}
