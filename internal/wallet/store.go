package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradectl/internal/domain"
)

// Source produces raw balance records.
type Source interface {
	Name() string
	FetchRaw(ctx context.Context) (RawSet, error)
}

// Snapshot is an immutable aggregated balance map.
type Snapshot struct {
	Balances    map[string]domain.Balance
	TableVer    string
	RefreshedAt time.Time
}

// Balance returns the aggregated amount for symbol, zero when absent.
func (s *Snapshot) Balance(symbol string) decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	return Amount(s.Balances, symbol)
}

// Store holds the latest Snapshot. Refresh replaces it wholesale; readers never
// observe a partially built map.
type Store struct {
	table   SymbolTable
	sources []Source
	now     func() time.Time
	logger  zerolog.Logger
	current atomic.Pointer[Snapshot]
}

// NewStore constructs a Store over the given sources.
func NewStore(table SymbolTable, now func() time.Time, logger zerolog.Logger, sources ...Source) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		table:   table,
		sources: sources,
		now:     now,
		logger:  logger.With().Str("component", "wallet_store").Logger(),
	}
}

// Snapshot returns the current snapshot, or nil before the first refresh.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Balance reads the aggregated balance for symbol from the current snapshot.
func (s *Store) Balance(symbol string) decimal.Decimal {
	return s.current.Load().Balance(symbol)
}

// Refresh pulls every source and publishes a new snapshot. Individual source
// failures are logged and skipped; only a total failure is returned, in which
// case the previous snapshot is kept.
func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	raw := make(RawSet)
	var failures []string
	for _, src := range s.sources {
		set, err := src.FetchRaw(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("source", src.Name()).Msg("balance source failed")
			failures = append(failures, fmt.Sprintf("%s: %v", src.Name(), err))
			continue
		}
		raw.Merge(set)
	}

	if len(s.sources) > 0 && len(failures) == len(s.sources) {
		return s.current.Load(), errors.New("all balance sources failed: " + strings.Join(failures, "; "))
	}

	snap := &Snapshot{
		Balances:    s.table.Aggregate(raw),
		TableVer:    s.table.Version,
		RefreshedAt: s.now(),
	}
	s.current.Store(snap)
	s.logger.Debug().Int("symbols", len(snap.Balances)).Int("raw_keys", len(raw)).Msg("balances refreshed")
	return snap, nil
}

// WalletAPI is the slice of the backend used to list wallet balances.
type WalletAPI interface {
	ListWallets(ctx context.Context) ([]domain.Wallet, error)
	WalletBalances(ctx context.Context, walletID string) (map[string]domain.RawBalance, error)
}

// BackendSource reads raw balances for every wallet the backend lists.
type BackendSource struct {
	api    WalletAPI
	logger zerolog.Logger
}

// NewBackendSource wraps a WalletAPI.
func NewBackendSource(api WalletAPI, logger zerolog.Logger) *BackendSource {
	return &BackendSource{api: api, logger: logger.With().Str("component", "wallet_backend").Logger()}
}

// Name implements Source.
func (b *BackendSource) Name() string { return "backend" }

// FetchRaw lists wallets then merges each wallet's balances.
func (b *BackendSource) FetchRaw(ctx context.Context) (RawSet, error) {
	wallets, err := b.api.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	raw := make(RawSet)
	for _, w := range wallets {
		balances, err := b.api.WalletBalances(ctx, w.ID)
		if err != nil {
			b.logger.Warn().Err(err).Str("wallet_id", w.ID).Msg("skip wallet balances")
			continue
		}
		for key, rec := range balances {
			raw.Add(key, rec)
		}
	}
	return raw, nil
}

var (
	_ Source = (*BackendSource)(nil)
)
