package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/ledger"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

// PostgresStore implements Store using PostgreSQL. All monetary values
// are stored as NUMERIC for exact decimal precision. One store holds
// one portfolio; Save replaces the previous snapshot.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the portfolio tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS capital_ledger (
			seq BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			value NUMERIC NOT NULL
		);
		CREATE TABLE IF NOT EXISTS asset_ledger (
			seq BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			value NUMERIC NOT NULL
		);
		CREATE TABLE IF NOT EXISTS executed_trades (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			side INT NOT NULL,
			price NUMERIC NOT NULL,
			quantity NUMERIC NOT NULL,
			cost NUMERIC NOT NULL,
			point TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS failed_trades (
			seq BIGSERIAL PRIMARY KEY,
			side INT NOT NULL,
			price NUMERIC NOT NULL,
			quantity NUMERIC NOT NULL,
			cost NUMERIC NOT NULL,
			reason TEXT NOT NULL,
			point TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *PostgresStore) SavePortfolio(ctx context.Context, p *portfolio.Portfolio) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`TRUNCATE capital_ledger, asset_ledger, executed_trades, failed_trades`); err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}

	for _, e := range p.CapitalEntries() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO capital_ledger (ts, value) VALUES ($1, $2::NUMERIC)`,
			e.Timestamp, e.Value.String()); err != nil {
			return fmt.Errorf("save capital ledger: %w", err)
		}
	}
	for _, e := range p.AssetEntries() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO asset_ledger (ts, value) VALUES ($1, $2::NUMERIC)`,
			e.Timestamp, e.Value.String()); err != nil {
			return fmt.Errorf("save asset ledger: %w", err)
		}
	}
	for _, t := range p.ExecutedTrades() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO executed_trades (id, side, price, quantity, cost, point)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)`,
			t.ID, int(t.Side), t.Price.String(), t.Quantity.String(), t.Cost.String(), t.Point); err != nil {
			return fmt.Errorf("save executed trades: %w", err)
		}
	}
	for _, t := range p.FailedTrades() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO failed_trades (side, price, quantity, cost, reason, point)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6)`,
			int(t.Side), t.Price.String(), t.Quantity.String(), t.Cost.String(), string(t.Reason), t.Point); err != nil {
			return fmt.Errorf("save failed trades: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadPortfolio(ctx context.Context) (*portfolio.Portfolio, error) {
	capital, err := s.loadLedger(ctx, "capital_ledger")
	if err != nil {
		return nil, err
	}
	if len(capital) == 0 {
		return nil, ErrNotFound
	}
	assets, err := s.loadLedger(ctx, "asset_ledger")
	if err != nil {
		return nil, err
	}
	executed, err := s.loadExecuted(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := s.loadFailed(ctx)
	if err != nil {
		return nil, err
	}
	return portfolio.Restore(capital, assets, executed, failed)
}

func (s *PostgresStore) loadLedger(ctx context.Context, table string) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, value::TEXT FROM `+table+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var valueS string
		if err := rows.Scan(&e.Timestamp, &valueS); err != nil {
			return nil, err
		}
		e.Value, _ = decimal.NewFromString(valueS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) loadExecuted(ctx context.Context) ([]model.ExecutedTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, side, price::TEXT, quantity::TEXT, cost::TEXT, point
		 FROM executed_trades ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load executed trades: %w", err)
	}
	defer rows.Close()

	var trades []model.ExecutedTrade
	for rows.Next() {
		var t model.ExecutedTrade
		var sideV int
		var priceS, qtyS, costS string
		if err := rows.Scan(&t.ID, &sideV, &priceS, &qtyS, &costS, &t.Point); err != nil {
			return nil, err
		}
		t.Side, err = model.ParseSide(sideV)
		if err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(priceS)
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.Cost, _ = decimal.NewFromString(costS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) loadFailed(ctx context.Context) ([]model.FailedTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT side, price::TEXT, quantity::TEXT, cost::TEXT, reason, point
		 FROM failed_trades ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load failed trades: %w", err)
	}
	defer rows.Close()

	var trades []model.FailedTrade
	for rows.Next() {
		var t model.FailedTrade
		var sideV int
		var priceS, qtyS, costS, reasonS string
		if err := rows.Scan(&sideV, &priceS, &qtyS, &costS, &reasonS, &t.Point); err != nil {
			return nil, err
		}
		t.Side, err = model.ParseSide(sideV)
		if err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(priceS)
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.Cost, _ = decimal.NewFromString(costS)
		t.Reason = model.FailureReason(reasonS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
