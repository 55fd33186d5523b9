package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS trades (
        trade_id        TEXT PRIMARY KEY,
        quote_id        TEXT NOT NULL DEFAULT '',
        operation       TEXT NOT NULL,
        symbol          TEXT NOT NULL,
        payment_method  TEXT NOT NULL DEFAULT '',
        status          TEXT NOT NULL,
        pending_proof   BOOLEAN NOT NULL DEFAULT FALSE,
        crypto_amount   NUMERIC NOT NULL DEFAULT 0,
        fiat_amount     NUMERIC NOT NULL DEFAULT 0,
        total_amount    NUMERIC NOT NULL DEFAULT 0,
        source_currency TEXT,
        source_amount   NUMERIC,
        source_rate     NUMERIC,
        transfer_until  TIMESTAMPTZ,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE TABLE IF NOT EXISTS trade_events (
        id          BIGSERIAL PRIMARY KEY,
        trade_id    TEXT NOT NULL REFERENCES trades (trade_id),
        from_status TEXT NOT NULL,
        to_status   TEXT NOT NULL,
        unexpected  BOOLEAN NOT NULL DEFAULT FALSE,
        observed_at TIMESTAMPTZ NOT NULL,
        UNIQUE (trade_id, to_status, observed_at)
    );
    CREATE INDEX IF NOT EXISTS trades_created_at_idx ON trades (created_at);`

	upsertTradeSQL = `INSERT INTO trades (
        trade_id,
        quote_id,
        operation,
        symbol,
        payment_method,
        status,
        pending_proof,
        crypto_amount,
        fiat_amount,
        total_amount,
        source_currency,
        source_amount,
        source_rate,
        transfer_until,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
    )
    ON CONFLICT (trade_id) DO UPDATE
    SET
        status         = EXCLUDED.status,
        pending_proof  = EXCLUDED.pending_proof,
        crypto_amount  = CASE WHEN EXCLUDED.crypto_amount <> 0 THEN EXCLUDED.crypto_amount ELSE trades.crypto_amount END,
        fiat_amount    = CASE WHEN EXCLUDED.fiat_amount <> 0 THEN EXCLUDED.fiat_amount ELSE trades.fiat_amount END,
        total_amount   = CASE WHEN EXCLUDED.total_amount <> 0 THEN EXCLUDED.total_amount ELSE trades.total_amount END,
        transfer_until = COALESCE(EXCLUDED.transfer_until, trades.transfer_until),
        updated_at     = EXCLUDED.updated_at;`

	tradeColumns = `
        trade_id,
        quote_id,
        operation,
        symbol,
        payment_method,
        status,
        pending_proof,
        crypto_amount::TEXT,
        fiat_amount::TEXT,
        total_amount::TEXT,
        source_currency,
        source_amount::TEXT,
        source_rate::TEXT,
        transfer_until,
        created_at,
        updated_at`

	listTradesBetweenSQL = `SELECT` + tradeColumns + `
    FROM trades
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	listRecentTradesSQL = `SELECT` + tradeColumns + `
    FROM trades
    ORDER BY created_at DESC
    LIMIT $1;`

	updateTradeStatusSQL = `UPDATE trades
    SET status = $2, updated_at = $3
    WHERE trade_id = $1;`

	insertTransitionSQL = `INSERT INTO trade_events (
        trade_id,
        from_status,
        to_status,
        unexpected,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (trade_id, to_status, observed_at) DO UPDATE
    SET unexpected = EXCLUDED.unexpected
    RETURNING id, trade_id, from_status, to_status, unexpected, observed_at;`

	listTransitionsSQL = `SELECT
        id,
        trade_id,
        from_status,
        to_status,
        unexpected,
        observed_at
    FROM trade_events
    WHERE trade_id = $1
    ORDER BY observed_at, id;`

	countTradesSQL = `SELECT COUNT(*) FROM trades;`
)

// TradeStore defines operations for the local trade journal.
type TradeStore interface {
	UpsertTrade(ctx context.Context, trade TradeRecord) error
	ListTradesBetween(ctx context.Context, from, to time.Time) ([]TradeRecord, error)
	ListRecentTrades(ctx context.Context, limit int) ([]TradeRecord, error)
	CountTrades(ctx context.Context) (int64, error)
}

// TransitionStore defines operations for status-change auditing.
type TransitionStore interface {
	RecordTransition(ctx context.Context, tr TransitionRecord) (TransitionRecord, error)
	ListTransitions(ctx context.Context, tradeID string) ([]TransitionRecord, error)
}

// Store is the journal of trades and their observed transitions. Trades are
// never deleted; the backend stays authoritative.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store. A nil pool yields a Store whose
// methods return ErrNotConfigured.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Enabled reports whether a database is attached.
func (s *Store) Enabled() bool {
	return s != nil && s.pool != nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the journal tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, schemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// UpsertTrade inserts a trade or refreshes its mutable columns.
func (s *Store) UpsertTrade(ctx context.Context, trade TradeRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var sourceCurrency, sourceAmount, sourceRate, transferUntil interface{}
	if trade.SourceCurrency != nil {
		sourceCurrency = *trade.SourceCurrency
	}
	if trade.SourceAmount != nil {
		sourceAmount = trade.SourceAmount.String()
	}
	if trade.SourceRate != nil {
		sourceRate = trade.SourceRate.String()
	}
	if trade.TransferUntil != nil {
		transferUntil = *trade.TransferUntil
	}

	updated := trade.UpdatedAt
	if updated.IsZero() {
		updated = trade.CreatedAt
	}

	_, execErr := pool.Exec(ctx, upsertTradeSQL,
		trade.TradeID,
		trade.QuoteID,
		trade.Operation,
		trade.Symbol,
		trade.PaymentMethod,
		trade.Status,
		trade.PendingProof,
		trade.CryptoAmount.String(),
		trade.FiatAmount.String(),
		trade.TotalAmount.String(),
		sourceCurrency,
		sourceAmount,
		sourceRate,
		transferUntil,
		trade.CreatedAt,
		updated,
	)
	if execErr != nil {
		return fmt.Errorf("upsert trade: %w", execErr)
	}
	return nil
}

// ListTradesBetween lists trades created within [from, to).
func (s *Store) ListTradesBetween(ctx context.Context, from, to time.Time) ([]TradeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTradesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list trades between: %w", queryErr)
	}
	defer rows.Close()

	trades := make([]TradeRecord, 0)
	for rows.Next() {
		trade, scanErr := scanTrade(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		trades = append(trades, trade)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return trades, nil
}

// ListRecentTrades lists the most recent trades, newest first.
func (s *Store) ListRecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTradesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent trades: %w", queryErr)
	}
	defer rows.Close()

	trades := make([]TradeRecord, 0, limit)
	for rows.Next() {
		trade, scanErr := scanTrade(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		trades = append(trades, trade)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return trades, nil
}

// CountTrades counts journaled trades.
func (s *Store) CountTrades(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countTradesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count trades: %w", scanErr)
	}
	return count, nil
}

// RecordTransition appends a status change and moves the trade's status in
// one transaction.
func (s *Store) RecordTransition(ctx context.Context, tr TransitionRecord) (TransitionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return TransitionRecord{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return TransitionRecord{}, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cmdTag, execErr := tx.Exec(ctx, updateTradeStatusSQL, tr.TradeID, tr.ToStatus, tr.ObservedAt)
	if execErr != nil {
		return TransitionRecord{}, fmt.Errorf("update trade status: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return TransitionRecord{}, pgx.ErrNoRows
	}

	var rec TransitionRecord
	if scanErr := tx.QueryRow(ctx, insertTransitionSQL,
		tr.TradeID,
		tr.FromStatus,
		tr.ToStatus,
		tr.Unexpected,
		tr.ObservedAt,
	).Scan(
		&rec.ID,
		&rec.TradeID,
		&rec.FromStatus,
		&rec.ToStatus,
		&rec.Unexpected,
		&rec.ObservedAt,
	); scanErr != nil {
		return TransitionRecord{}, fmt.Errorf("insert transition: %w", scanErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return TransitionRecord{}, fmt.Errorf("commit transition: %w", err)
	}
	return rec, nil
}

// ListTransitions returns a trade's transitions in observation order.
func (s *Store) ListTransitions(ctx context.Context, tradeID string) ([]TransitionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTransitionsSQL, tradeID)
	if queryErr != nil {
		return nil, fmt.Errorf("list transitions: %w", queryErr)
	}
	defer rows.Close()

	out := make([]TransitionRecord, 0)
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.TradeID,
			&rec.FromStatus,
			&rec.ToStatus,
			&rec.Unexpected,
			&rec.ObservedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanTrade(rows pgx.Rows) (TradeRecord, error) {
	var (
		rec            TradeRecord
		cryptoStr      string
		fiatStr        string
		totalStr       string
		sourceCurrency sql.NullString
		sourceAmount   sql.NullString
		sourceRate     sql.NullString
		transferUntil  sql.NullTime
	)

	if err := rows.Scan(
		&rec.TradeID,
		&rec.QuoteID,
		&rec.Operation,
		&rec.Symbol,
		&rec.PaymentMethod,
		&rec.Status,
		&rec.PendingProof,
		&cryptoStr,
		&fiatStr,
		&totalStr,
		&sourceCurrency,
		&sourceAmount,
		&sourceRate,
		&transferUntil,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return TradeRecord{}, err
	}

	var err error
	if rec.CryptoAmount, err = decimal.NewFromString(cryptoStr); err != nil {
		return TradeRecord{}, fmt.Errorf("parse crypto amount: %w", err)
	}
	if rec.FiatAmount, err = decimal.NewFromString(fiatStr); err != nil {
		return TradeRecord{}, fmt.Errorf("parse fiat amount: %w", err)
	}
	if rec.TotalAmount, err = decimal.NewFromString(totalStr); err != nil {
		return TradeRecord{}, fmt.Errorf("parse total amount: %w", err)
	}

	if sourceCurrency.Valid {
		cur := sourceCurrency.String
		rec.SourceCurrency = &cur
	}
	if sourceAmount.Valid {
		amount, convErr := decimal.NewFromString(sourceAmount.String)
		if convErr != nil {
			return TradeRecord{}, fmt.Errorf("parse source amount: %w", convErr)
		}
		rec.SourceAmount = &amount
	}
	if sourceRate.Valid {
		rate, convErr := decimal.NewFromString(sourceRate.String)
		if convErr != nil {
			return TradeRecord{}, fmt.Errorf("parse source rate: %w", convErr)
		}
		rec.SourceRate = &rate
	}
	if transferUntil.Valid {
		until := transferUntil.Time
		rec.TransferUntil = &until
	}

	return rec, nil
}
