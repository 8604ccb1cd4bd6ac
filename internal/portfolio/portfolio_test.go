package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/models"
)

func twoStrategyManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(10000, []models.PortfolioAllocation{
		{StrategyID: "trend-1", AllocationPercent: 60, MaxPositions: 2},
		{StrategyID: "rev-1", AllocationPercent: 40, MaxPositions: 1},
	})
	require.NoError(t, err)
	return m
}

func TestAuthorize(t *testing.T) {
	t.Run("within allocation reserves a slot", func(t *testing.T) {
		m := twoStrategyManager(t)
		require.NoError(t, m.Authorize("trend-1", 5000))
		assert.Equal(t, 1, m.OpenPositions("trend-1"))
	})

	t.Run("rejects notional above the allocation", func(t *testing.T) {
		m := twoStrategyManager(t)
		var rej *models.RiskRejected
		// 40% of 10000 caps rev-1 at 4000.
		assert.ErrorAs(t, m.Authorize("rev-1", 4500), &rej)
		assert.Zero(t, m.OpenPositions("rev-1"))
	})

	t.Run("rejects when the position cap is reached", func(t *testing.T) {
		m := twoStrategyManager(t)
		require.NoError(t, m.Authorize("rev-1", 1000))
		var rej *models.RiskRejected
		assert.ErrorAs(t, m.Authorize("rev-1", 1000), &rej)
	})

	t.Run("rejects unknown strategies", func(t *testing.T) {
		m := twoStrategyManager(t)
		var rej *models.RiskRejected
		assert.ErrorAs(t, m.Authorize("grid-1", 100), &rej)
	})

	t.Run("release frees the slot and applies pnl", func(t *testing.T) {
		m := twoStrategyManager(t)
		require.NoError(t, m.Authorize("rev-1", 1000))
		m.Release("rev-1", 150)

		assert.Zero(t, m.OpenPositions("rev-1"))
		assert.InDelta(t, 10150, m.Equity(), 1e-9)
		require.NoError(t, m.Authorize("rev-1", 1000))
	})
}

func TestNewManagerValidation(t *testing.T) {
	tests := []struct {
		name   string
		allocs []models.PortfolioAllocation
	}{
		{"sum above 100", []models.PortfolioAllocation{
			{StrategyID: "a", AllocationPercent: 70, MaxPositions: 1},
			{StrategyID: "b", AllocationPercent: 40, MaxPositions: 1},
		}},
		{"duplicate strategy", []models.PortfolioAllocation{
			{StrategyID: "a", AllocationPercent: 30, MaxPositions: 1},
			{StrategyID: "a", AllocationPercent: 30, MaxPositions: 1},
		}},
		{"non-positive percent", []models.PortfolioAllocation{
			{StrategyID: "a", AllocationPercent: 0, MaxPositions: 1},
		}},
		{"non-positive cap", []models.PortfolioAllocation{
			{StrategyID: "a", AllocationPercent: 30, MaxPositions: 0},
		}},
		{"missing id", []models.PortfolioAllocation{
			{AllocationPercent: 30, MaxPositions: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(10000, tt.allocs)
			var cerr *models.ConfigurationError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestRebalance(t *testing.T) {
	next := []models.PortfolioAllocation{
		{StrategyID: "trend-1", AllocationPercent: 30, MaxPositions: 2},
		{StrategyID: "rev-1", AllocationPercent: 70, MaxPositions: 1},
	}

	t.Run("deferred while an affected strategy is open", func(t *testing.T) {
		m := twoStrategyManager(t)
		require.NoError(t, m.Authorize("trend-1", 1000))

		var rej *models.RiskRejected
		assert.ErrorAs(t, m.Rebalance(next), &rej)
		// Table unchanged after the rejection.
		assert.InDelta(t, 60, m.Allocations()[1].AllocationPercent, 1e-9)
	})

	t.Run("applies when every affected strategy is flat", func(t *testing.T) {
		m := twoStrategyManager(t)
		require.NoError(t, m.Rebalance(next))

		allocs := m.Allocations()
		require.Len(t, allocs, 2)
		assert.Equal(t, "rev-1", allocs[0].StrategyID)
		assert.InDelta(t, 70, allocs[0].AllocationPercent, 1e-9)
	})

	t.Run("unchanged strategies may stay open", func(t *testing.T) {
		m := twoStrategyManager(t)
		require.NoError(t, m.Authorize("rev-1", 1000))

		// Only trend-1 changes; rev-1 keeps its allocation.
		assert.NoError(t, m.Rebalance([]models.PortfolioAllocation{
			{StrategyID: "trend-1", AllocationPercent: 50, MaxPositions: 2},
			{StrategyID: "rev-1", AllocationPercent: 40, MaxPositions: 1},
		}))
	})

	t.Run("rejects invalid tables", func(t *testing.T) {
		m := twoStrategyManager(t)
		var cerr *models.ConfigurationError
		assert.ErrorAs(t, m.Rebalance([]models.PortfolioAllocation{
			{StrategyID: "a", AllocationPercent: 120, MaxPositions: 1},
		}), &cerr)
	})
}

func TestRebalanceFromRealized(t *testing.T) {
	m := twoStrategyManager(t)

	// trend-1 realizes +2000 on its 6000 share, rev-1 stays flat on 4000.
	require.NoError(t, m.Authorize("trend-1", 5000))
	m.Release("trend-1", 2000)

	require.NoError(t, m.RebalanceFromRealized())

	allocs := m.Allocations()
	require.Len(t, allocs, 2)
	// Shares become 8000:4000, rescaled onto the original 100%.
	assert.Equal(t, "rev-1", allocs[0].StrategyID)
	assert.InDelta(t, 100.0/3, allocs[0].AllocationPercent, 1e-9)
	assert.InDelta(t, 200.0/3, allocs[1].AllocationPercent, 1e-9)

	t.Run("deferred while positions are open", func(t *testing.T) {
		require.NoError(t, m.Authorize("rev-1", 1000))
		var rej *models.RiskRejected
		assert.ErrorAs(t, m.RebalanceFromRealized(), &rej)
	})
}
