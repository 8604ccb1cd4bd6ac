package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"quantcore/internal/models"
)

// PostgresStore is the plain-Postgres Store implementation.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Init creates the schema. Idempotent.
func (p *PostgresStore) Init(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			open_time TIMESTAMPTZ NOT NULL,
			open NUMERIC(18, 8) NOT NULL,
			high NUMERIC(18, 8) NOT NULL,
			low NUMERIC(18, 8) NOT NULL,
			close NUMERIC(18, 8) NOT NULL,
			volume NUMERIC(18, 8) NOT NULL,
			close_time TIMESTAMPTZ,
			quote_volume NUMERIC(18, 8),
			trade_count INT,
			PRIMARY KEY (symbol, timeframe, open_time)
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			symbol TEXT NOT NULL,
			strategy_id TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price NUMERIC(18, 8) NOT NULL,
			entry_quantity NUMERIC(18, 8) NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			stop_loss NUMERIC(18, 8) NOT NULL,
			take_profit NUMERIC(18, 8) NOT NULL,
			status TEXT NOT NULL,
			exit_price NUMERIC(18, 8),
			exit_time TIMESTAMPTZ,
			pnl NUMERIC(18, 8) NOT NULL DEFAULT 0,
			pnl_percent NUMERIC(18, 8) NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			symbol TEXT NOT NULL,
			strategy_id TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL,
			entry_price NUMERIC(18, 8) NOT NULL,
			exit_price NUMERIC(18, 8) NOT NULL,
			quantity NUMERIC(18, 8) NOT NULL,
			commission NUMERIC(18, 8) NOT NULL,
			pnl NUMERIC(18, 8) NOT NULL,
			pnl_percent NUMERIC(18, 8) NOT NULL,
			exit_reason TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_results (
			id UUID PRIMARY KEY,
			request JSONB NOT NULL,
			result JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS allocations (
			strategy_id TEXT PRIMARY KEY,
			allocation_percent NUMERIC(5, 2) NOT NULL,
			max_positions INT NOT NULL
		);`,
	}
	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
	}
	return nil
}

func (p *PostgresStore) SaveCandles(ctx context.Context, candles []models.Candle) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, open_time, open, high, low, close, volume, close_time, quote_volume, trade_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (symbol, timeframe, open_time) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, c.Timeframe, c.OpenTime, c.Open, c.High,
			c.Low, c.Close, c.Volume, c.CloseTime, c.QuoteVolume, c.TradeCount); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.Candle, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume, close_time, quote_volume, trade_count
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND open_time >= $3 AND open_time < $4
		ORDER BY open_time`, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		var c models.Candle
		var closeTime sql.NullTime
		var quoteVolume sql.NullFloat64
		var tradeCount sql.NullInt64
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.OpenTime, &c.Open, &c.High, &c.Low,
			&c.Close, &c.Volume, &closeTime, &quoteVolume, &tradeCount); err != nil {
			return nil, err
		}
		c.CloseTime = closeTime.Time
		c.QuoteVolume = quoteVolume.Float64
		c.TradeCount = int(tradeCount.Int64)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SavePosition(ctx context.Context, pos *models.Position) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO positions (id, symbol, strategy_id, side, entry_price, entry_quantity, entry_time,
			stop_loss, take_profit, status, exit_price, exit_time, pnl, pnl_percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, exit_price = EXCLUDED.exit_price,
			exit_time = EXCLUDED.exit_time, pnl = EXCLUDED.pnl, pnl_percent = EXCLUDED.pnl_percent`,
		pos.ID, pos.Symbol, pos.StrategyID, pos.Side, pos.EntryPrice, pos.EntryQuantity,
		pos.EntryTime, pos.StopLoss, pos.TakeProfit, pos.Status,
		nullFloat(pos.ExitPrice, pos.Status == models.PositionClosed),
		nullTime(pos.ExitTime), pos.Pnl, pos.PnlPercent)
	return err
}

func (p *PostgresStore) Position(ctx context.Context, id uuid.UUID) (*models.Position, error) {
	pos := &models.Position{}
	var exitPrice sql.NullFloat64
	var exitTime sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, symbol, strategy_id, side, entry_price, entry_quantity, entry_time,
			stop_loss, take_profit, status, exit_price, exit_time, pnl, pnl_percent
		FROM positions WHERE id = $1`, id).
		Scan(&pos.ID, &pos.Symbol, &pos.StrategyID, &pos.Side, &pos.EntryPrice, &pos.EntryQuantity,
			&pos.EntryTime, &pos.StopLoss, &pos.TakeProfit, &pos.Status, &exitPrice, &exitTime,
			&pos.Pnl, &pos.PnlPercent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	pos.ExitPrice = exitPrice.Float64
	pos.ExitTime = exitTime.Time
	return pos, nil
}

func (p *PostgresStore) SaveTrade(ctx context.Context, t models.Trade) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, strategy_id, side, entry_time, exit_time, entry_price,
			exit_price, quantity, commission, pnl, pnl_percent, exit_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Symbol, t.StrategyID, t.Side, t.EntryTime, t.ExitTime, t.EntryPrice,
		t.ExitPrice, t.Quantity, t.Commission, t.Pnl, t.PnlPercent, t.ExitReason)
	return err
}

func (p *PostgresStore) SaveBacktestResult(ctx context.Context, id uuid.UUID, req models.BacktestRequest, res *models.BacktestResult) error {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resJSON, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO backtest_results (id, request, result) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET request = EXCLUDED.request, result = EXCLUDED.result`,
		id, reqJSON, resJSON)
	return err
}

func (p *PostgresStore) BacktestResult(ctx context.Context, id uuid.UUID) (*models.BacktestResult, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx, `SELECT result FROM backtest_results WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	res := &models.BacktestResult{}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *PostgresStore) SaveAllocations(ctx context.Context, allocs []models.PortfolioAllocation) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM allocations`); err != nil {
		return err
	}
	for _, a := range allocs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO allocations (strategy_id, allocation_percent, max_positions)
			VALUES ($1, $2, $3)`, a.StrategyID, a.AllocationPercent, a.MaxPositions); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) Allocations(ctx context.Context) ([]models.PortfolioAllocation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT strategy_id, allocation_percent, max_positions FROM allocations ORDER BY strategy_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PortfolioAllocation
	for rows.Next() {
		var a models.PortfolioAllocation
		if err := rows.Scan(&a.StrategyID, &a.AllocationPercent, &a.MaxPositions); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func nullFloat(v float64, valid bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: valid}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
