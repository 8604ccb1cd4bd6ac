// Package storage persists candles, positions, trades, backtest results
// and allocation tables. The decision core performs no I/O itself; a
// Store is injected wherever persistence is needed, so tests can swap in
// the in-memory implementation.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"quantcore/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: record not found")

// Store is the persistence boundary of the decision core.
type Store interface {
	SaveCandles(ctx context.Context, candles []models.Candle) error
	Candles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.Candle, error)

	SavePosition(ctx context.Context, pos *models.Position) error
	Position(ctx context.Context, id uuid.UUID) (*models.Position, error)
	SaveTrade(ctx context.Context, trade models.Trade) error

	SaveBacktestResult(ctx context.Context, id uuid.UUID, req models.BacktestRequest, res *models.BacktestResult) error
	BacktestResult(ctx context.Context, id uuid.UUID) (*models.BacktestResult, error)

	SaveAllocations(ctx context.Context, allocs []models.PortfolioAllocation) error
	Allocations(ctx context.Context) ([]models.PortfolioAllocation, error)

	Close() error
}
