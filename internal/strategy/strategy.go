// Package strategy holds the signal generators. Each generator is a pure
// function from a candle history window to a signal; any state such as a
// prior squeeze is derived by scanning the supplied window, never kept
// between invocations.
package strategy

import (
	"fmt"

	"quantcore/internal/models"
)

// Evaluator produces one signal per candle close from a history window.
// An evaluator holding insufficient history answers HOLD, never an error.
type Evaluator interface {
	Type() models.StrategyType
	Evaluate(candles []models.Candle) (models.Signal, error)
}

// Config carries the named parameters for every strategy type.
type Config struct {
	Trend     TrendParams     `yaml:"trend" json:"trend"`
	Reversion ReversionParams `yaml:"reversion" json:"reversion"`
	Breakout  BreakoutParams  `yaml:"breakout" json:"breakout"`
}

// DefaultConfig returns the product-default parameters. They are
// configuration defaults, not invariants.
func DefaultConfig() Config {
	return Config{
		Trend: TrendParams{
			FastPeriod:   20,
			SlowPeriod:   50,
			ADXPeriod:    14,
			ADXThreshold: 20,
		},
		Reversion: ReversionParams{
			RSIPeriod:        14,
			Oversold:         30,
			Overbought:       70,
			VolumePeriod:     20,
			VolumeMultiplier: 1.5,
		},
		Breakout: BreakoutParams{
			Period:           20,
			StdDev:           2.0,
			SqueezeThreshold: 0.06,
			SqueezeLookback:  5,
		},
	}
}

// Validate checks every parameter set.
func (c Config) Validate() error {
	if err := c.Trend.Validate(); err != nil {
		return err
	}
	if err := c.Reversion.Validate(); err != nil {
		return err
	}
	return c.Breakout.Validate()
}

type constructor func(id string, cfg Config) Evaluator

// registry is the closed dispatch table: a stable identifier mapped to a
// pure evaluation function. Adding a strategy means adding a variant and
// one entry here.
var registry = map[models.StrategyType]constructor{
	models.TrendCrossover: func(id string, cfg Config) Evaluator {
		return &Trend{ID: id, Params: cfg.Trend}
	},
	models.MeanReversion: func(id string, cfg Config) Evaluator {
		return &Reversion{ID: id, Params: cfg.Reversion}
	},
	models.VolatilityBreakout: func(id string, cfg Config) Evaluator {
		return &Breakout{ID: id, Params: cfg.Breakout}
	},
}

// New builds the evaluator for a strategy type.
func New(t models.StrategyType, id string, cfg Config) (Evaluator, error) {
	if err := t.Validate(); err != nil {
		return nil, &models.ConfigurationError{Field: "strategy_type", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	build, ok := registry[t]
	if !ok {
		return nil, &models.ConfigurationError{Field: "strategy_type", Reason: fmt.Sprintf("no evaluator registered for %q", t)}
	}
	return build(id, cfg), nil
}

// Types lists the registered strategy types.
func Types() []models.StrategyType {
	return []models.StrategyType{models.TrendCrossover, models.MeanReversion, models.VolatilityBreakout}
}

// clamp01 bounds a strength score to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
