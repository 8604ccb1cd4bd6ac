package strategy

import (
	"errors"

	"quantcore/internal/indicator"
	"quantcore/internal/models"
)

// ReversionParams configures the RSI mean-reversion generator.
type ReversionParams struct {
	RSIPeriod        int     `yaml:"rsi_period" json:"rsi_period"`
	Oversold         float64 `yaml:"oversold" json:"oversold"`
	Overbought       float64 `yaml:"overbought" json:"overbought"`
	VolumePeriod     int     `yaml:"volume_period" json:"volume_period"`
	VolumeMultiplier float64 `yaml:"volume_multiplier" json:"volume_multiplier"`
}

func (p ReversionParams) Validate() error {
	if p.RSIPeriod <= 0 || p.VolumePeriod <= 0 {
		return &models.ConfigurationError{Field: "reversion", Reason: "periods must be positive"}
	}
	if p.Oversold <= 0 || p.Overbought >= 100 || p.Oversold >= p.Overbought {
		return &models.ConfigurationError{Field: "reversion", Reason: "thresholds must satisfy 0 < oversold < overbought < 100"}
	}
	if p.VolumeMultiplier <= 0 {
		return &models.ConfigurationError{Field: "reversion", Reason: "volume_multiplier must be positive"}
	}
	return nil
}

// Reversion emits BUY on an oversold RSI and SELL on an overbought RSI,
// both gated by a volume surge against the rolling average volume.
type Reversion struct {
	ID     string
	Params ReversionParams
}

func (s *Reversion) Type() models.StrategyType { return models.MeanReversion }

func (s *Reversion) Evaluate(candles []models.Candle) (models.Signal, error) {
	last := candles[len(candles)-1]
	hold := models.Hold(last.Symbol, s.ID, last.OpenTime)
	hold.Strategy = models.MeanReversion

	rsi, err := indicator.RSI(models.Closes(candles), s.Params.RSIPeriod)
	if errors.Is(err, models.ErrInsufficientData) {
		return hold, nil
	} else if err != nil {
		return hold, err
	}
	volAvg, err := indicator.SMA(models.Volumes(candles), s.Params.VolumePeriod)
	if errors.Is(err, models.ErrInsufficientData) {
		return hold, nil
	} else if err != nil {
		return hold, err
	}

	if last.Volume <= volAvg.Last()*s.Params.VolumeMultiplier {
		return hold, nil
	}

	sig := hold
	switch r := rsi.Last(); {
	case r < s.Params.Oversold:
		sig.Direction = models.BUY
		sig.Strength = clamp01((s.Params.Oversold - r) / s.Params.Oversold)
	case r > s.Params.Overbought:
		sig.Direction = models.SELL
		sig.Strength = clamp01((r - s.Params.Overbought) / (100 - s.Params.Overbought))
	default:
		return hold, nil
	}
	return sig, nil
}
