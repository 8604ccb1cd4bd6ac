// Package portfolio tracks per-strategy capital allocations and open
// position caps. The allocation table is shared by every evaluation
// task; authorization and slot accounting happen as one atomic step so
// two tasks cannot double-spend the same allocation.
package portfolio

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"quantcore/internal/models"
)

// Manager owns the allocation table. Entries are authorized or rejected,
// never silently downsized.
type Manager struct {
	mu     sync.Mutex
	equity float64
	// baseEquity is the equity at the last rebalance; realized pnl since
	// then drives performance-based reweighting.
	baseEquity  float64
	allocations map[string]models.PortfolioAllocation
	open        map[string]int
	realized    map[string]float64
}

// NewManager validates the allocation table and builds a Manager. The
// percents must each be positive and sum to at most 100.
func NewManager(equity float64, allocs []models.PortfolioAllocation) (*Manager, error) {
	if equity <= 0 {
		return nil, &models.ConfigurationError{Field: "portfolio.equity", Reason: "must be positive"}
	}
	table, err := buildTable(allocs)
	if err != nil {
		return nil, err
	}
	return &Manager{
		equity:      equity,
		baseEquity:  equity,
		allocations: table,
		open:        make(map[string]int),
		realized:    make(map[string]float64),
	}, nil
}

func buildTable(allocs []models.PortfolioAllocation) (map[string]models.PortfolioAllocation, error) {
	table := make(map[string]models.PortfolioAllocation, len(allocs))
	total := 0.0
	for _, a := range allocs {
		if a.StrategyID == "" {
			return nil, &models.ConfigurationError{Field: "portfolio.strategy_id", Reason: "required"}
		}
		if _, dup := table[a.StrategyID]; dup {
			return nil, &models.ConfigurationError{Field: "portfolio.strategy_id", Reason: fmt.Sprintf("duplicate entry %q", a.StrategyID)}
		}
		if a.AllocationPercent <= 0 {
			return nil, &models.ConfigurationError{Field: "portfolio.allocation_percent", Reason: "must be positive"}
		}
		if a.MaxPositions <= 0 {
			return nil, &models.ConfigurationError{Field: "portfolio.max_positions", Reason: "must be positive"}
		}
		total += a.AllocationPercent
		table[a.StrategyID] = a
	}
	if total > 100 {
		return nil, &models.ConfigurationError{Field: "portfolio.allocation_percent", Reason: fmt.Sprintf("allocations sum to %.2f, above 100", total)}
	}
	return table, nil
}

// Authorize checks a prospective entry against the strategy's allocation
// and position cap, and reserves a position slot on success. Callers must
// pair every successful Authorize with a Release.
func (m *Manager) Authorize(strategyID string, notional float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, ok := m.allocations[strategyID]
	if !ok {
		return &models.RiskRejected{Reason: fmt.Sprintf("no allocation for strategy %q", strategyID)}
	}
	if limit := alloc.AllocationPercent / 100 * m.equity; notional > limit {
		return &models.RiskRejected{
			Reason: fmt.Sprintf("notional %.2f exceeds allocation %.2f for strategy %q", notional, limit, strategyID),
		}
	}
	if m.open[strategyID] >= alloc.MaxPositions {
		return &models.RiskRejected{
			Reason: fmt.Sprintf("strategy %q already holds %d open positions", strategyID, m.open[strategyID]),
		}
	}

	m.open[strategyID]++
	return nil
}

// Release frees the position slot and records the realized pnl against
// the strategy and total equity.
func (m *Manager) Release(strategyID string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open[strategyID] > 0 {
		m.open[strategyID]--
	}
	m.realized[strategyID] += pnl
	m.equity += pnl
}

// OpenPositions reports the reserved slots for one strategy.
func (m *Manager) OpenPositions(strategyID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open[strategyID]
}

// Equity returns the manager's view of total equity.
func (m *Manager) Equity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equity
}

// Allocations returns a copy of the table sorted by strategy id.
func (m *Manager) Allocations() []models.PortfolioAllocation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.PortfolioAllocation, 0, len(m.allocations))
	for _, a := range m.allocations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

// Rebalance replaces the allocation table. A strategy whose allocation
// would change must have no open positions; rebalancing happens between
// trading cycles, never mid-position.
func (m *Manager) Rebalance(allocs []models.PortfolioAllocation) error {
	table, err := buildTable(allocs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, cur := range m.allocations {
		next, kept := table[id]
		if (!kept || next != cur) && m.open[id] > 0 {
			return &models.RiskRejected{
				Reason: fmt.Sprintf("strategy %q has %d open positions, rebalance deferred", id, m.open[id]),
			}
		}
	}

	m.allocations = table
	log.WithField("strategies", len(table)).Info("portfolio: allocations rebalanced")
	return nil
}

// RebalanceFromRealized rescales every allocation in proportion to the
// strategy's equity share grown by its realized pnl, keeping the same
// total allocation. Requires every strategy to be flat.
func (m *Manager) RebalanceFromRealized() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0.0
	for id, a := range m.allocations {
		if m.open[id] > 0 {
			return &models.RiskRejected{
				Reason: fmt.Sprintf("strategy %q has open positions, rebalance deferred", id),
			}
		}
		total += a.AllocationPercent
	}
	if total == 0 {
		return nil
	}

	shares := make(map[string]float64, len(m.allocations))
	sum := 0.0
	for id, a := range m.allocations {
		share := a.AllocationPercent/100*m.baseEquity + m.realized[id]
		if share < 0 {
			share = 0
		}
		shares[id] = share
		sum += share
	}
	if sum == 0 {
		return nil
	}

	for id, a := range m.allocations {
		a.AllocationPercent = shares[id] / sum * total
		m.allocations[id] = a
	}
	m.baseEquity = m.equity
	m.realized = make(map[string]float64)
	return nil
}
