package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradectl/internal/currency"
	"tradectl/internal/limits"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: desk\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Name != "desk" {
		t.Fatalf("file value should win, got %q", cfg.App.Name)
	}
	if cfg.Quote.Debounce != 1200*time.Millisecond || cfg.Quote.ValidityWindow != time.Minute {
		t.Fatalf("unexpected quote timings %+v", cfg.Quote)
	}
	if cfg.Trade.TransferWindow != 15*time.Minute {
		t.Fatalf("unexpected transfer window %s", cfg.Trade.TransferWindow)
	}
	lim := cfg.LimitsSettings()
	if !lim.MinAmountUSD.Equal(decimal.NewFromInt(1)) || !lim.DailyLimitPJ.Equal(decimal.NewFromInt(1_000_000)) {
		t.Fatalf("unexpected limits %+v", lim)
	}
	if cfg.Wallet.SymbolTable.Version != "1" || cfg.Wallet.SymbolTable.Networks["polygon"] != "MATIC" {
		t.Fatalf("default symbol table not loaded: %+v", cfg.Wallet.SymbolTable)
	}
}

func TestLoadDecimalsAndTables(t *testing.T) {
	path := writeConfig(t, `
limits:
  account_type: pj
  min_amount_usd: "5.50"
  daily_limit_pj: 2000000
rates:
  defaults:
    brl: 5.25
wallet:
  symbol_table:
    version: "2"
    stablecoins: [usdt, usdc, dai]
    networks:
      avalanche: AVAX
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	lim := cfg.LimitsSettings()
	if !lim.MinAmountUSD.Equal(decimal.RequireFromString("5.5")) || !lim.DailyLimitPJ.Equal(decimal.NewFromInt(2_000_000)) {
		t.Fatalf("decimal decoding failed: %+v", lim)
	}
	if at, _ := limits.ParseAccountType(cfg.Limits.AccountType); at != limits.AccountPJ {
		t.Fatalf("account type not decoded: %q", cfg.Limits.AccountType)
	}
	if rate := cfg.DefaultRates()[currency.BRL]; !rate.Equal(decimal.RequireFromString("5.25")) {
		t.Fatalf("default BRL rate not decoded: %s", rate)
	}
	table := cfg.Wallet.SymbolTable
	if table.Version != "2" || len(table.Stablecoins) != 3 || table.Resolve("avalanche") != "AVAX" {
		t.Fatalf("symbol table override not applied: %+v", table)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TRADECTL_BACKEND_TOKEN", "from-env")
	t.Setenv("TRADECTL_QUOTE_DEBOUNCE", "800ms")
	cfg, err := Load(writeConfig(t, "backend:\n  token: from-file\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Token != "from-env" || cfg.Quote.Debounce != 800*time.Millisecond {
		t.Fatalf("env should override file: %+v %s", cfg.Backend, cfg.Quote.Debounce)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"payment_method": "trade:\n  payment_method: cheque\n",
		"account_type":   "limits:\n  account_type: XX\n",
		"display":        "rates:\n  display_currency: JPY\n",
		"telegram":       "alerting:\n  telegram:\n    enabled: true\n",
		"ethereum":       "ethereum:\n  enabled: true\n",
		"statuses":       "alerting:\n  statuses: [DONE]\n",
		"min_amount":     "limits:\n  min_amount_usd: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error for %s", strings.TrimSpace(body))
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 10}}
	if cfg.ResolveMaxPoints(0) != 10 || cfg.ResolveMaxPoints(3) != 3 {
		t.Fatal("override should win only when positive")
	}
}
