package strategy

import (
	"errors"

	"quantcore/internal/indicator"
	"quantcore/internal/models"
)

// BreakoutParams configures the Bollinger squeeze breakout generator.
type BreakoutParams struct {
	Period           int     `yaml:"period" json:"period"`
	StdDev           float64 `yaml:"std_dev" json:"std_dev"`
	SqueezeThreshold float64 `yaml:"squeeze_threshold" json:"squeeze_threshold"`
	SqueezeLookback  int     `yaml:"squeeze_lookback" json:"squeeze_lookback"`
}

func (p BreakoutParams) Validate() error {
	if p.Period <= 0 || p.SqueezeLookback <= 0 {
		return &models.ConfigurationError{Field: "breakout", Reason: "periods must be positive"}
	}
	if p.StdDev <= 0 {
		return &models.ConfigurationError{Field: "breakout", Reason: "std_dev must be positive"}
	}
	if p.SqueezeThreshold <= 0 {
		return &models.ConfigurationError{Field: "breakout", Reason: "squeeze_threshold must be positive"}
	}
	return nil
}

// Breakout emits BUY when the close breaks above the upper Bollinger band
// within SqueezeLookback candles of a band-width squeeze, SELL on a break
// below the lower band under the same condition. The squeeze is derived
// from the supplied window, not tracked between calls.
type Breakout struct {
	ID     string
	Params BreakoutParams
}

func (s *Breakout) Type() models.StrategyType { return models.VolatilityBreakout }

func (s *Breakout) Evaluate(candles []models.Candle) (models.Signal, error) {
	last := candles[len(candles)-1]
	hold := models.Hold(last.Symbol, s.ID, last.OpenTime)
	hold.Strategy = models.VolatilityBreakout

	upper, _, lower, width, err := indicator.BollingerBands(models.Closes(candles), s.Params.Period, s.Params.StdDev)
	if errors.Is(err, models.ErrInsufficientData) {
		return hold, nil
	} else if err != nil {
		return hold, err
	}

	squeezed, minWidth := s.recentSqueeze(width)
	if !squeezed {
		return hold, nil
	}

	sig := hold
	switch {
	case last.Close > upper.Last():
		sig.Direction = models.BUY
	case last.Close < lower.Last():
		sig.Direction = models.SELL
	default:
		return hold, nil
	}
	sig.Strength = clamp01((s.Params.SqueezeThreshold - minWidth) / s.Params.SqueezeThreshold)
	return sig, nil
}

// recentSqueeze scans the candles before the current one for a band width
// below the squeeze threshold, returning the tightest width found.
func (s *Breakout) recentSqueeze(width indicator.Series) (bool, float64) {
	last := width.LastIndex()
	found := false
	min := 0.0
	for i := last - s.Params.SqueezeLookback; i < last; i++ {
		w, ok := width.At(i)
		if !ok || w >= s.Params.SqueezeThreshold {
			continue
		}
		if !found || w < min {
			found = true
			min = w
		}
	}
	return found, min
}
