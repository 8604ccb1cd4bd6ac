package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/models"
)

func TestMemoryStoreCandles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	candles := []models.Candle{
		{Symbol: "BTCUSDT", Timeframe: "1h", OpenTime: start.Add(2 * time.Hour), Close: 3},
		{Symbol: "BTCUSDT", Timeframe: "1h", OpenTime: start, Close: 1},
		{Symbol: "BTCUSDT", Timeframe: "1h", OpenTime: start.Add(time.Hour), Close: 2},
		{Symbol: "ETHUSDT", Timeframe: "1h", OpenTime: start, Close: 10},
	}
	require.NoError(t, store.SaveCandles(ctx, candles))

	t.Run("sorted by open time", func(t *testing.T) {
		got, err := store.Candles(ctx, "BTCUSDT", "1h", start, start.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []float64{1, 2, 3}, models.Closes(got))
	})

	t.Run("end bound is exclusive", func(t *testing.T) {
		got, err := store.Candles(ctx, "BTCUSDT", "1h", start, start.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("keyed by symbol and timeframe", func(t *testing.T) {
		got, err := store.Candles(ctx, "ETHUSDT", "1h", start, start.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.InDelta(t, 10, got[0].Close, 1e-9)

		got, err = store.Candles(ctx, "BTCUSDT", "15m", start, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestMemoryStorePositions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	pos := models.NewPosition(
		models.Signal{Symbol: "BTCUSDT", StrategyID: "trend-1", Direction: models.BUY},
		models.RiskDecision{EntryPrice: 45000, Quantity: 0.02, StopLoss: 44000, TakeProfit: 46500},
	)
	require.NoError(t, store.SavePosition(ctx, pos))

	got, err := store.Position(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionOpen, got.Status)

	// Saving again after close overwrites the stored record.
	pos.Close(46500, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.SavePosition(ctx, pos))
	got, err = store.Position(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionClosed, got.Status)
	assert.InDelta(t, 30, got.Pnl, 1e-9)

	_, err = store.Position(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreBacktestResults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := uuid.New()

	res := &models.BacktestResult{FinalCapital: 10500, TotalTrades: 3}
	require.NoError(t, store.SaveBacktestResult(ctx, id, models.BacktestRequest{Symbol: "BTCUSDT"}, res))

	got, err := store.BacktestResult(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 10500, got.FinalCapital, 1e-9)

	_, err = store.BacktestResult(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAllocations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	allocs := []models.PortfolioAllocation{
		{StrategyID: "trend-1", AllocationPercent: 60, MaxPositions: 2},
		{StrategyID: "rev-1", AllocationPercent: 40, MaxPositions: 1},
	}
	require.NoError(t, store.SaveAllocations(ctx, allocs))

	got, err := store.Allocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, allocs, got)

	// Save replaces, never merges.
	require.NoError(t, store.SaveAllocations(ctx, allocs[:1]))
	got, err = store.Allocations(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCandleCopySource(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cs := &candleCopySource{
		candles: []models.Candle{
			{Symbol: "BTCUSDT", Timeframe: "1h", OpenTime: start, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
			{Symbol: "BTCUSDT", Timeframe: "1h", OpenTime: start.Add(time.Hour), Open: 1.5, High: 3, Low: 1, Close: 2, Volume: 12},
		},
		idx: -1,
	}

	rows := 0
	for cs.Next() {
		values, err := cs.Values()
		require.NoError(t, err)
		assert.Len(t, values, 11)
		rows++
	}
	assert.Equal(t, 2, rows)
	assert.NoError(t, cs.Err())

	_, err := (&candleCopySource{idx: -1}).Values()
	assert.Error(t, err)
}
