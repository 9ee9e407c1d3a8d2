package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"quotehub/internal/domain/model"
)

type PostgresAdapter struct {
	db *sql.DB
}

type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func NewPostgresAdapter(connStr string, pool PoolOptions) (*PostgresAdapter, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresAdapter{db: db}, nil
}

// NewPostgresAdapterWithDB wraps an existing handle.
func NewPostgresAdapterWithDB(db *sql.DB) *PostgresAdapter {
	return &PostgresAdapter{db: db}
}

func (a *PostgresAdapter) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS quote_snapshots (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		market VARCHAR(10) NOT NULL,
		name VARCHAR(64) NOT NULL DEFAULT '',
		price NUMERIC(20,4) NOT NULL,
		pre_close NUMERIC(20,4) NOT NULL,
		open NUMERIC(20,4) NOT NULL,
		high NUMERIC(20,4) NOT NULL,
		low NUMERIC(20,4) NOT NULL,
		volume BIGINT NOT NULL,
		amount NUMERIC(24,4) NOT NULL,
		source VARCHAR(20) NOT NULL,
		realtime BOOLEAN NOT NULL,
		quoted_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_quote_snapshots_symbol_time ON quote_snapshots(symbol, quoted_at DESC);

	CREATE TABLE IF NOT EXISTS daily_bars (
		symbol VARCHAR(20) NOT NULL,
		trade_date DATE NOT NULL,
		open NUMERIC(20,4) NOT NULL,
		high NUMERIC(20,4) NOT NULL,
		low NUMERIC(20,4) NOT NULL,
		close NUMERIC(20,4) NOT NULL,
		pre_close NUMERIC(20,4) NOT NULL,
		volume BIGINT NOT NULL,
		amount NUMERIC(24,4) NOT NULL,
		source VARCHAR(20) NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (symbol, trade_date)
	);
	`
	_, err := a.db.ExecContext(ctx, query)
	return err
}

// SaveQuotes bulk-loads snapshots with COPY.
func (a *PostgresAdapter) SaveQuotes(ctx context.Context, quotes []model.Quote) (err error) {
	if len(quotes) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("quote_snapshots",
		"symbol", "market", "name", "price", "pre_close", "open", "high", "low",
		"volume", "amount", "source", "realtime", "quoted_at"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}
	defer stmt.Close()

	for _, q := range quotes {
		if _, err = stmt.ExecContext(ctx,
			q.Symbol, string(q.Market), q.Name, q.Price, q.PreClose, q.Open, q.High, q.Low,
			q.Volume, q.Amount, q.Source, q.Realtime, q.Timestamp.UTC(),
		); err != nil {
			return fmt.Errorf("failed to copy quote %s: %w", q.Symbol, err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to flush copy: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit quotes: %w", err)
	}
	return nil
}

const upsertBar = `
	INSERT INTO daily_bars (symbol, trade_date, open, high, low, close, pre_close, volume, amount, source, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	ON CONFLICT (symbol, trade_date) DO UPDATE SET
		open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close,
		pre_close = EXCLUDED.pre_close, volume = EXCLUDED.volume, amount = EXCLUDED.amount,
		source = EXCLUDED.source, updated_at = NOW()`

func (a *PostgresAdapter) SaveBars(ctx context.Context, bars []model.Bar) (err error) {
	if len(bars) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertBar)
	if err != nil {
		return fmt.Errorf("failed to prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err = stmt.ExecContext(ctx,
			b.Symbol, b.TradeDate, b.Open, b.High, b.Low, b.Close, b.PreClose, b.Volume, b.Amount, b.Source,
		); err != nil {
			return fmt.Errorf("failed to upsert bar %s %s: %w", b.Symbol, b.TradeDate.Format(time.DateOnly), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bars: %w", err)
	}
	return nil
}

func (a *PostgresAdapter) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT symbol, trade_date, open, high, low, close, pre_close, volume, amount, source
		FROM daily_bars
		WHERE symbol = $1 AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date`, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.Symbol, &b.TradeDate, &b.Open, &b.High, &b.Low, &b.Close,
			&b.PreClose, &b.Volume, &b.Amount, &b.Source); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (a *PostgresAdapter) GetLatestQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	var (
		q      model.Quote
		market string
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT symbol, market, name, price, pre_close, open, high, low, volume, amount, source, realtime, quoted_at
		FROM quote_snapshots
		WHERE symbol = $1
		ORDER BY quoted_at DESC
		LIMIT 1`, symbol).Scan(
		&q.Symbol, &market, &q.Name, &q.Price, &q.PreClose, &q.Open, &q.High, &q.Low,
		&q.Volume, &q.Amount, &q.Source, &q.Realtime, &q.Timestamp,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest quote: %w", err)
	}
	q.Market = model.Market(market)
	q.FillDerived()
	return &q, nil
}

func (a *PostgresAdapter) DeleteQuotesBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM quote_snapshots WHERE quoted_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune quote snapshots: %w", err)
	}
	return res.RowsAffected()
}

func (a *PostgresAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *PostgresAdapter) Close() error {
	return a.db.Close()
}
