package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/models"
)

func candlesFrom(closes, volumes []float64) []models.Candle {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		vol := 100.0
		if volumes != nil {
			vol = volumes[i]
		}
		out[i] = models.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: "15m",
			OpenTime:  start.Add(time.Duration(i) * 15 * time.Minute),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    vol,
		}
	}
	return out
}

func TestTrendCrossover(t *testing.T) {
	params := TrendParams{FastPeriod: 2, SlowPeriod: 3, ADXPeriod: 2, ADXThreshold: 20}
	require.NoError(t, params.Validate())
	eval := &Trend{ID: "trend-1", Params: params}

	t.Run("buy on upward cross with trend strength", func(t *testing.T) {
		// fast SMA moves from below the slow SMA to above it on the last
		// candle; the sharp reversal keeps ADX well above threshold.
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 9, 8, 7, 12}, nil))
		require.NoError(t, err)
		assert.Equal(t, models.BUY, sig.Direction)
		assert.InDelta(t, (83.33-20)/80, sig.Strength, 1e-2)
		assert.Equal(t, "trend-1", sig.StrategyID)
	})

	t.Run("sell on downward cross", func(t *testing.T) {
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 11, 12, 13, 8}, nil))
		require.NoError(t, err)
		assert.Equal(t, models.SELL, sig.Direction)
	})

	t.Run("hold when adx below threshold", func(t *testing.T) {
		weak := &Trend{ID: "trend-1", Params: TrendParams{FastPeriod: 2, SlowPeriod: 3, ADXPeriod: 2, ADXThreshold: 99}}
		sig, err := weak.Evaluate(candlesFrom([]float64{10, 9, 8, 7, 12}, nil))
		require.NoError(t, err)
		assert.Equal(t, models.HOLD, sig.Direction)
	})

	t.Run("hold without a cross", func(t *testing.T) {
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 11, 12, 13, 14}, nil))
		require.NoError(t, err)
		assert.Equal(t, models.HOLD, sig.Direction)
	})

	t.Run("hold on insufficient history", func(t *testing.T) {
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 11}, nil))
		require.NoError(t, err)
		assert.Equal(t, models.HOLD, sig.Direction)
		assert.Zero(t, sig.Strength)
	})
}

func TestMeanReversion(t *testing.T) {
	params := ReversionParams{RSIPeriod: 2, Oversold: 30, Overbought: 70, VolumePeriod: 2, VolumeMultiplier: 1.5}
	require.NoError(t, params.Validate())
	eval := &Reversion{ID: "rev-1", Params: params}

	t.Run("buy on oversold rsi with volume surge", func(t *testing.T) {
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 9, 8}, []float64{10, 10, 40}))
		require.NoError(t, err)
		assert.Equal(t, models.BUY, sig.Direction)
		assert.InDelta(t, 1.0, sig.Strength, 1e-9)
	})

	t.Run("sell on overbought rsi with volume surge", func(t *testing.T) {
		sig, err := eval.Evaluate(candlesFrom([]float64{8, 9, 10}, []float64{10, 10, 40}))
		require.NoError(t, err)
		assert.Equal(t, models.SELL, sig.Direction)
	})

	t.Run("volume filter blocks the signal", func(t *testing.T) {
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 9, 8}, []float64{10, 10, 10}))
		require.NoError(t, err)
		assert.Equal(t, models.HOLD, sig.Direction)
	})

	t.Run("hold in the neutral band", func(t *testing.T) {
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 9, 10, 9, 10}, []float64{10, 10, 10, 10, 40}))
		require.NoError(t, err)
		assert.Equal(t, models.HOLD, sig.Direction)
	})

	t.Run("hold on insufficient history", func(t *testing.T) {
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 9}, []float64{10, 40}))
		require.NoError(t, err)
		assert.Equal(t, models.HOLD, sig.Direction)
	})
}

func TestVolatilityBreakout(t *testing.T) {
	params := BreakoutParams{Period: 3, StdDev: 1.0, SqueezeThreshold: 0.01, SqueezeLookback: 3}
	require.NoError(t, params.Validate())
	eval := &Breakout{ID: "brk-1", Params: params}

	t.Run("buy on break above upper band after squeeze", func(t *testing.T) {
		// flat closes collapse the band width to zero, then the final
		// candle breaks above the upper band.
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 10, 10, 10, 15}, nil))
		require.NoError(t, err)
		assert.Equal(t, models.BUY, sig.Direction)
		assert.InDelta(t, 1.0, sig.Strength, 1e-9)
	})

	t.Run("sell on break below lower band after squeeze", func(t *testing.T) {
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 10, 10, 10, 5}, nil))
		require.NoError(t, err)
		assert.Equal(t, models.SELL, sig.Direction)
	})

	t.Run("hold without a recent squeeze", func(t *testing.T) {
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 12, 8, 11, 20}, nil))
		require.NoError(t, err)
		assert.Equal(t, models.HOLD, sig.Direction)
	})

	t.Run("hold when price stays inside the bands", func(t *testing.T) {
		sig, err := eval.Evaluate(candlesFrom([]float64{10, 10, 10, 10, 10}, nil))
		require.NoError(t, err)
		assert.Equal(t, models.HOLD, sig.Direction)
	})
}

func TestRegistry(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("builds every registered type", func(t *testing.T) {
		for _, typ := range Types() {
			eval, err := New(typ, "id-"+string(typ), cfg)
			require.NoError(t, err)
			assert.Equal(t, typ, eval.Type())
		}
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		_, err := New(models.StrategyType("martingale"), "id", cfg)
		var cerr *models.ConfigurationError
		assert.ErrorAs(t, err, &cerr)
	})

	t.Run("rejects invalid parameters", func(t *testing.T) {
		bad := cfg
		bad.Trend.FastPeriod = 0
		_, err := New(models.TrendCrossover, "id", bad)
		assert.Error(t, err)
	})
}

func TestSignalsAreDeterministic(t *testing.T) {
	candles := candlesFrom([]float64{10, 9, 8, 7, 12}, nil)
	eval := &Trend{ID: "trend-1", Params: TrendParams{FastPeriod: 2, SlowPeriod: 3, ADXPeriod: 2, ADXThreshold: 20}}

	first, err := eval.Evaluate(candles)
	require.NoError(t, err)
	second, err := eval.Evaluate(candles)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
