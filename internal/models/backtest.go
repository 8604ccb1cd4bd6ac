package models

import (
	"encoding/json"
	"math"
	"time"
)

// BacktestConfig is immutable for the duration of one run.
type BacktestConfig struct {
	Symbol           string    `json:"symbol" yaml:"symbol"`
	Timeframe        string    `json:"timeframe" yaml:"timeframe"`
	StartDate        time.Time `json:"start_date" yaml:"start_date"`
	EndDate          time.Time `json:"end_date" yaml:"end_date"`
	InitialCapital   float64   `json:"initial_capital" yaml:"initial_capital"`
	CommissionRate   float64   `json:"commission_rate" yaml:"commission_rate"`
	SlippageRate     float64   `json:"slippage_rate" yaml:"slippage_rate"`
	StopMultiplier   float64   `json:"stop_multiplier" yaml:"stop_multiplier"`
	TargetMultiplier float64   `json:"target_multiplier" yaml:"target_multiplier"`
	ATRPeriod        int       `json:"atr_period" yaml:"atr_period"`
}

// Validate rejects malformed configs before any computation starts.
func (c BacktestConfig) Validate() error {
	if c.Symbol == "" {
		return &ConfigurationError{Field: "symbol", Reason: "required"}
	}
	if c.InitialCapital <= 0 {
		return &ConfigurationError{Field: "initial_capital", Reason: "must be positive"}
	}
	if c.CommissionRate < 0 {
		return &ConfigurationError{Field: "commission_rate", Reason: "must not be negative"}
	}
	if !c.StartDate.Before(c.EndDate) {
		return &ConfigurationError{Field: "start_date", Reason: "must be before end_date"}
	}
	if c.ATRPeriod <= 0 {
		return &ConfigurationError{Field: "atr_period", Reason: "must be positive"}
	}
	if c.StopMultiplier <= 0 || c.TargetMultiplier <= 0 {
		return &ConfigurationError{Field: "stop_multiplier", Reason: "multipliers must be positive"}
	}
	return nil
}

// BacktestResult is produced exactly once at the end of a run, never
// partially. ProfitFactor is +Inf when there are losing trades absent and
// at least one winner; Sharpe/Sortino are nil when undefined. JSON output
// maps both cases to null so callers never need coercion helpers.
type BacktestResult struct {
	FinalCapital  float64   `json:"final_capital"`
	TotalReturn   float64   `json:"total_return"`
	AnnualReturn  float64   `json:"annual_return"`
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	WinRate       float64   `json:"win_rate"`
	ProfitFactor  float64   `json:"profit_factor"`
	SharpeRatio   *float64  `json:"sharpe_ratio"`
	SortinoRatio  *float64  `json:"sortino_ratio"`
	MaxDrawdown   float64   `json:"max_drawdown"`
	AvgWin        float64   `json:"avg_win"`
	AvgLoss       float64   `json:"avg_loss"`
	BestTrade     float64   `json:"best_trade"`
	WorstTrade    float64   `json:"worst_trade"`
	TradeLog      []Trade   `json:"trade_log"`
	EquityCurve   []float64 `json:"equity_curve,omitempty"`
}

// MarshalJSON emits profit_factor as null when it is the infinite
// sentinel, keeping every numeric field a well-typed number or null.
func (r BacktestResult) MarshalJSON() ([]byte, error) {
	type alias BacktestResult
	out := struct {
		alias
		ProfitFactor *float64 `json:"profit_factor"`
	}{alias: alias(r)}
	if !math.IsInf(r.ProfitFactor, 1) {
		pf := r.ProfitFactor
		out.ProfitFactor = &pf
	}
	return json.Marshal(out)
}

// BacktestRequest is the service entry point payload.
type BacktestRequest struct {
	StrategyID     string       `json:"strategy_id"`
	StrategyType   StrategyType `json:"strategy_type"`
	Symbol         string       `json:"symbol"`
	Timeframe      string       `json:"timeframe"`
	StartDate      time.Time    `json:"start_date"`
	EndDate        time.Time    `json:"end_date"`
	InitialCapital float64      `json:"initial_capital"`
}

// BacktestResponse is the strict service response schema.
type BacktestResponse struct {
	Success bool            `json:"success"`
	Results *BacktestResult `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
}
