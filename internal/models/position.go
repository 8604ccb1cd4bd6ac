package models

import (
	"time"

	"github.com/google/uuid"
)

// PositionStatus tracks the lifecycle of a position.
type PositionStatus string

const (
	PositionOpen            PositionStatus = "OPEN"
	PositionClosed          PositionStatus = "CLOSED"
	PositionPartiallyClosed PositionStatus = "PARTIALLY_CLOSED"
)

// Exit reasons recorded on closed trades, checked in this priority order
// by the backtest engine.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitSignal     = "signal"
	ExitEndOfData  = "end_of_data"
)

// Position is created by an accepted entry signal plus risk decision and
// mutated only by an exit event. Exactly one open position per
// (symbol, strategy) unless multi-position mode is configured.
type Position struct {
	ID            uuid.UUID      `json:"id"`
	Symbol        string         `json:"symbol"`
	StrategyID    string         `json:"strategy_id"`
	Side          Direction      `json:"side"`
	EntryPrice    float64        `json:"entry_price"`
	EntryQuantity float64        `json:"entry_quantity"`
	EntryTime     time.Time      `json:"entry_time"`
	StopLoss      float64        `json:"stop_loss"`
	TakeProfit    float64        `json:"take_profit"`
	Status        PositionStatus `json:"status"`
	ExitPrice     float64        `json:"exit_price,omitempty"`
	ExitTime      time.Time      `json:"exit_time,omitempty"`
	Pnl           float64        `json:"pnl"`
	PnlPercent    float64        `json:"pnl_percent"`
}

// NewPosition opens a position from an accepted risk decision.
func NewPosition(sig Signal, rd RiskDecision) *Position {
	return &Position{
		ID:            uuid.New(),
		Symbol:        sig.Symbol,
		StrategyID:    sig.StrategyID,
		Side:          sig.Direction,
		EntryPrice:    rd.EntryPrice,
		EntryQuantity: rd.Quantity,
		EntryTime:     sig.GeneratedAt,
		StopLoss:      rd.StopLoss,
		TakeProfit:    rd.TakeProfit,
		Status:        PositionOpen,
	}
}

// Close marks the position closed at the given price and realizes pnl.
func (p *Position) Close(exitPrice float64, exitTime time.Time) {
	p.ExitPrice = exitPrice
	p.ExitTime = exitTime
	p.Status = PositionClosed

	if p.Side == BUY {
		p.Pnl = (exitPrice - p.EntryPrice) * p.EntryQuantity
	} else {
		p.Pnl = (p.EntryPrice - exitPrice) * p.EntryQuantity
	}
	notional := p.EntryPrice * p.EntryQuantity
	if notional != 0 {
		p.PnlPercent = p.Pnl / notional * 100
	}
}

// Trade is one completed round trip in the trade log. Pnl is gross of
// commission; commission is tracked separately so that
// final_capital == initial_capital + sum(pnl) - sum(commission) holds
// exactly.
type Trade struct {
	ID         uuid.UUID `json:"id"`
	Symbol     string    `json:"symbol"`
	StrategyID string    `json:"strategy_id"`
	Side       Direction `json:"side"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	Commission float64   `json:"commission"`
	Pnl        float64   `json:"pnl"`
	PnlPercent float64   `json:"pnl_percent"`
	ExitReason string    `json:"exit_reason"`
}

// OrderIntent is what the core hands to the execution collaborator. The
// collaborator owns placement and fills; executed fields reported back are
// authoritative.
type OrderIntent struct {
	Symbol     string    `json:"symbol"`
	StrategyID string    `json:"strategy_id"`
	Side       Direction `json:"side"`
	Quantity   float64   `json:"quantity"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
}
