package models

// RiskDecision sizes a prospective entry. Quantity and prices are always
// non-negative; a rejected entry carries a reason instead.
type RiskDecision struct {
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// Notional is the cash value of the sized entry.
func (rd RiskDecision) Notional() float64 {
	return rd.EntryPrice * rd.Quantity
}

// PortfolioAllocation is the per-strategy capital share. Allocation
// percents across strategies sum to at most 100. Written only by the
// portfolio manager's rebalance operations.
type PortfolioAllocation struct {
	StrategyID        string  `json:"strategy_id"`
	AllocationPercent float64 `json:"allocation_percent"`
	MaxPositions      int     `json:"max_positions"`
}
