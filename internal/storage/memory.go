package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantcore/internal/models"
)

// MemoryStore keeps everything in process memory. Used by tests and by
// backtest-only runs that need no database.
type MemoryStore struct {
	mu          sync.RWMutex
	candles     map[string][]models.Candle // keyed by symbol|timeframe
	positions   map[uuid.UUID]models.Position
	trades      []models.Trade
	results     map[uuid.UUID]models.BacktestResult
	allocations []models.PortfolioAllocation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candles:   make(map[string][]models.Candle),
		positions: make(map[uuid.UUID]models.Position),
		results:   make(map[uuid.UUID]models.BacktestResult),
	}
}

func candleKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

func (m *MemoryStore) SaveCandles(_ context.Context, candles []models.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candles {
		key := candleKey(c.Symbol, c.Timeframe)
		m.candles[key] = append(m.candles[key], c)
	}
	for key := range m.candles {
		sort.Slice(m.candles[key], func(i, j int) bool {
			return m.candles[key][i].OpenTime.Before(m.candles[key][j].OpenTime)
		})
	}
	return nil
}

func (m *MemoryStore) Candles(_ context.Context, symbol, timeframe string, start, end time.Time) ([]models.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Candle
	for _, c := range m.candles[candleKey(symbol, timeframe)] {
		if c.OpenTime.Before(start) || !c.OpenTime.Before(end) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) SavePosition(_ context.Context, pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.ID] = *pos
	return nil
}

func (m *MemoryStore) Position(_ context.Context, id uuid.UUID) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &pos, nil
}

func (m *MemoryStore) SaveTrade(_ context.Context, trade models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return nil
}

// Trades returns a copy of the trade log, oldest first.
func (m *MemoryStore) Trades() []models.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

func (m *MemoryStore) SaveBacktestResult(_ context.Context, id uuid.UUID, _ models.BacktestRequest, res *models.BacktestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[id] = *res
	return nil
}

func (m *MemoryStore) BacktestResult(_ context.Context, id uuid.UUID) (*models.BacktestResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &res, nil
}

func (m *MemoryStore) SaveAllocations(_ context.Context, allocs []models.PortfolioAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations = make([]models.PortfolioAllocation, len(allocs))
	copy(m.allocations, allocs)
	return nil
}

func (m *MemoryStore) Allocations(_ context.Context) ([]models.PortfolioAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.PortfolioAllocation, len(m.allocations))
	copy(out, m.allocations)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
