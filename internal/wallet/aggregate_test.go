package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradectl/internal/domain"
)

func raw(v string) domain.RawBalance {
	return domain.RawBalance{Balance: decimal.RequireFromString(v)}
}

func TestAggregateSumsAcrossChains(t *testing.T) {
	got := Aggregate(map[string]domain.RawBalance{
		"ethereum_usdt": raw("3"),
		"polygon_usdt":  raw("2.5"),
		"tron-USDT":     raw("1"),
		"ethereum_usdc": raw("10"),
		"ethereum":      raw("0.5"),
		"arbitrum":      raw("0.25"),
		"bitcoin":       raw("0.01"),
	})

	cases := map[string]string{
		"USDT": "6.5",
		"USDC": "10",
		"ETH":  "0.75",
		"BTC":  "0.01",
	}
	for symbol, want := range cases {
		if !Amount(got, symbol).Equal(decimal.RequireFromString(want)) {
			t.Fatalf("%s: want %s, got %s", symbol, want, Amount(got, symbol))
		}
	}
	if len(got) != len(cases) {
		t.Fatalf("unexpected symbols: %+v", got)
	}
}

func TestAggregateFallsBackToUpperKeyAndDropsZero(t *testing.T) {
	got := Aggregate(map[string]domain.RawBalance{
		"doge":     raw("42"),
		"solana":   raw("0"),
		"polygon":  raw("-1"),
		"  ":       raw("7"),
		"optimism": raw("1"),
	})

	if !Amount(got, "DOGE").Equal(decimal.NewFromInt(42)) {
		t.Fatalf("unknown key should be upper-cased, got %+v", got)
	}
	if _, ok := got["SOL"]; ok {
		t.Fatal("zero balances must be dropped")
	}
	if _, ok := got["MATIC"]; ok {
		t.Fatal("negative balances must be dropped")
	}
	if len(got) != 2 {
		t.Fatalf("blank key should be dropped, got %+v", got)
	}
}

func TestCustomSymbolTable(t *testing.T) {
	table := SymbolTable{
		Version:     "2",
		Stablecoins: []string{"dai"},
		Networks:    map[string]string{"gnosis": "xdai"},
	}
	got := table.Aggregate(map[string]domain.RawBalance{
		"gnosis":       raw("4"),
		"ethereum_dai": raw("1"),
		"ethereum":     raw("1"),
	})
	if !Amount(got, "XDAI").Equal(decimal.NewFromInt(4)) {
		t.Fatalf("network table should drive resolution, got %+v", got)
	}
	if !Amount(got, "DAI").Equal(decimal.NewFromInt(1)) {
		t.Fatalf("configured stablecoin should resolve, got %+v", got)
	}
	if !Amount(got, "ETHEREUM").Equal(decimal.NewFromInt(1)) {
		t.Fatalf("network missing from v2 table falls back to key, got %+v", got)
	}
}

type fakeSource struct {
	name string
	set  RawSet
	err  error
}

func (f fakeSource) Name() string { return f.name }

func (f fakeSource) FetchRaw(ctx context.Context) (RawSet, error) {
	return f.set, f.err
}

func TestStoreRefreshMergesSources(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(DefaultSymbolTable(), func() time.Time { return now }, zerolog.Nop(),
		fakeSource{name: "a", set: RawSet{"ethereum_usdt": raw("5")}},
		fakeSource{name: "b", set: RawSet{"polygon_usdt": raw("1"), "ethereum": raw("2")}},
		fakeSource{name: "c", err: errors.New("down")},
	)

	if !store.Balance("USDT").IsZero() {
		t.Fatal("balance before first refresh should be zero")
	}

	snap, err := store.Refresh(context.Background())
	if err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if !snap.RefreshedAt.Equal(now) || snap.TableVer != "1" {
		t.Fatalf("unexpected snapshot metadata %+v", snap)
	}
	if !store.Balance("usdt").Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected 6 USDT, got %s", store.Balance("USDT"))
	}
}

func TestStoreKeepsSnapshotWhenAllSourcesFail(t *testing.T) {
	good := &switchSource{set: RawSet{"bitcoin": raw("1")}}
	store := NewStore(DefaultSymbolTable(), nil, zerolog.Nop(), good)
	if _, err := store.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	good.err = errors.New("offline")
	if _, err := store.Refresh(context.Background()); err == nil {
		t.Fatal("total failure should be reported")
	}
	if !store.Balance("BTC").Equal(decimal.NewFromInt(1)) {
		t.Fatal("previous snapshot must survive a failed refresh")
	}
}

type switchSource struct {
	set RawSet
	err error
}

func (s *switchSource) Name() string { return "switch" }

func (s *switchSource) FetchRaw(ctx context.Context) (RawSet, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.set, nil
}

type fakeWalletAPI struct {
	wallets  []domain.Wallet
	balances map[string]map[string]domain.RawBalance
}

func (f fakeWalletAPI) ListWallets(ctx context.Context) ([]domain.Wallet, error) {
	return f.wallets, nil
}

func (f fakeWalletAPI) WalletBalances(ctx context.Context, id string) (map[string]domain.RawBalance, error) {
	b, ok := f.balances[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func TestBackendSourceSumsWallets(t *testing.T) {
	api := fakeWalletAPI{
		wallets: []domain.Wallet{{ID: "w1"}, {ID: "w2"}, {ID: "missing"}},
		balances: map[string]map[string]domain.RawBalance{
			"w1": {"ethereum": raw("1")},
			"w2": {"ethereum": raw("2"), "ethereum_usdc": raw("3")},
		},
	}
	set, err := NewBackendSource(api, zerolog.Nop()).FetchRaw(context.Background())
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	if !set["ethereum"].Balance.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("same key across wallets should sum, got %s", set["ethereum"].Balance)
	}
	if len(set) != 2 {
		t.Fatalf("unexpected raw set %+v", set)
	}
}
