package strategy

import (
	"errors"

	"quantcore/internal/indicator"
	"quantcore/internal/models"
)

// TrendParams configures the SMA crossover generator.
type TrendParams struct {
	FastPeriod   int     `yaml:"fast_period" json:"fast_period"`
	SlowPeriod   int     `yaml:"slow_period" json:"slow_period"`
	ADXPeriod    int     `yaml:"adx_period" json:"adx_period"`
	ADXThreshold float64 `yaml:"adx_threshold" json:"adx_threshold"`
}

func (p TrendParams) Validate() error {
	if p.FastPeriod <= 0 || p.SlowPeriod <= 0 || p.ADXPeriod <= 0 {
		return &models.ConfigurationError{Field: "trend", Reason: "periods must be positive"}
	}
	if p.FastPeriod >= p.SlowPeriod {
		return &models.ConfigurationError{Field: "trend", Reason: "fast_period must be below slow_period"}
	}
	if p.ADXThreshold < 0 || p.ADXThreshold >= 100 {
		return &models.ConfigurationError{Field: "trend", Reason: "adx_threshold must be in [0,100)"}
	}
	return nil
}

// Trend emits BUY when the fast SMA crosses above the slow SMA on the
// current candle while ADX confirms trend strength, SELL on the opposite
// cross, HOLD otherwise.
type Trend struct {
	ID     string
	Params TrendParams
}

func (s *Trend) Type() models.StrategyType { return models.TrendCrossover }

func (s *Trend) Evaluate(candles []models.Candle) (models.Signal, error) {
	last := candles[len(candles)-1]
	hold := models.Hold(last.Symbol, s.ID, last.OpenTime)
	hold.Strategy = models.TrendCrossover

	closes := models.Closes(candles)
	fast, err := indicator.SMA(closes, s.Params.FastPeriod)
	if errors.Is(err, models.ErrInsufficientData) {
		return hold, nil
	} else if err != nil {
		return hold, err
	}
	slow, err := indicator.SMA(closes, s.Params.SlowPeriod)
	if errors.Is(err, models.ErrInsufficientData) {
		return hold, nil
	} else if err != nil {
		return hold, err
	}
	adx, err := indicator.ADX(candles, s.Params.ADXPeriod)
	if errors.Is(err, models.ErrInsufficientData) {
		return hold, nil
	} else if err != nil {
		return hold, err
	}

	if adx.Last() <= s.Params.ADXThreshold {
		return hold, nil
	}

	sig := hold
	switch {
	case indicator.Crossover(fast, slow):
		sig.Direction = models.BUY
	case indicator.Crossunder(fast, slow):
		sig.Direction = models.SELL
	default:
		return hold, nil
	}
	sig.Strength = clamp01((adx.Last() - s.Params.ADXThreshold) / (100 - s.Params.ADXThreshold))
	return sig, nil
}
