package models

import (
	"fmt"
	"time"
)

// Direction of a trading signal or position side.
type Direction string

const (
	BUY  Direction = "BUY"
	SELL Direction = "SELL"
	HOLD Direction = "HOLD"
)

func (d Direction) Validate() error {
	switch d {
	case BUY, SELL, HOLD:
		return nil
	}
	return fmt.Errorf("invalid direction %q", d)
}

// Opposite returns the opposing entry direction. HOLD has no opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case BUY:
		return SELL
	case SELL:
		return BUY
	}
	return HOLD
}

// StrategyType is the closed set of signal generators. Adding a strategy
// means adding a variant here and registering its evaluator, not branching
// in callers.
type StrategyType string

const (
	TrendCrossover     StrategyType = "trend_crossover"
	MeanReversion      StrategyType = "mean_reversion"
	VolatilityBreakout StrategyType = "volatility_breakout"
)

func (s StrategyType) Validate() error {
	switch s {
	case TrendCrossover, MeanReversion, VolatilityBreakout:
		return nil
	}
	return fmt.Errorf("unknown strategy type %q", s)
}

// Signal is produced once per candle close per strategy. Strength is a
// bounded score in [0,1].
type Signal struct {
	Symbol      string       `json:"symbol"`
	StrategyID  string       `json:"strategy_id"`
	Direction   Direction    `json:"direction"`
	Strength    float64      `json:"strength"`
	GeneratedAt time.Time    `json:"generated_at"`
	Strategy    StrategyType `json:"strategy_type,omitempty"`
}

// Hold is the no-action signal for a candle.
func Hold(symbol, strategyID string, at time.Time) Signal {
	return Signal{Symbol: symbol, StrategyID: strategyID, Direction: HOLD, GeneratedAt: at}
}
