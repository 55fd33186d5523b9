package app

import (
	"context"
	"errors"

	"tradectl/internal/domain"
	"tradectl/internal/storage"
)

const defaultSyncPerPage = 50

// Sync imports backend trade history into the local journal.
func (a *App) Sync(ctx context.Context, opts SyncOptions) error {
	if opts.Pages <= 0 {
		opts.Pages = 1
	}
	if opts.PerPage <= 0 {
		opts.PerPage = defaultSyncPerPage
	}

	var store *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("sync dry-run: nothing will be written")
	} else {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot sync")
		}
		defer closeStore()
	}

	client := a.newBackend()

	imported := 0
	failed := 0
	for page := 1; page <= opts.Pages; page++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := client.MyTrades(ctx, page, opts.PerPage)
		if err != nil {
			return err
		}
		for _, t := range res.Trades {
			if store == nil {
				imported++
				continue
			}
			if err := store.UpsertTrade(ctx, recordFromTrade(t)); err != nil {
				failed++
				a.Logger.Error().Err(err).Str("trade_id", t.ID).Msg("sync failed")
				continue
			}
			imported++
		}
		if len(res.Trades) == 0 || (res.PerPage > 0 && page*res.PerPage >= res.Total) {
			break
		}
	}

	a.Logger.Info().Int("imported", imported).Int("failed", failed).Msg("sync finished")
	if failed > 0 {
		return errors.New("some trades failed to sync; check the logs")
	}
	return nil
}

func recordFromTrade(t domain.Trade) storage.TradeRecord {
	id := t.ID
	if id == "" {
		id = t.ReferenceCode
	}
	return storage.TradeRecord{
		TradeID:       id,
		Operation:     string(t.Operation),
		Symbol:        t.Symbol,
		PaymentMethod: string(t.PaymentMethod),
		Status:        string(t.Status),
		CryptoAmount:  t.CryptoAmount,
		FiatAmount:    t.FiatAmount,
		TotalAmount:   t.TotalAmount,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}
