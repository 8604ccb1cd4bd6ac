package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/models"
)

func TestProfitFactor(t *testing.T) {
	tests := []struct {
		name         string
		total        int
		profit, loss float64
		want         float64
	}{
		{"no trades", 0, 0, 0, 0},
		{"winners and losers", 4, 300, 100, 3},
		{"losers only", 2, 0, 150, 0},
		{"breakeven trades only", 2, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, profitFactor(tt.total, tt.profit, tt.loss), 1e-9)
		})
	}

	t.Run("winners without losers is the infinite sentinel", func(t *testing.T) {
		assert.True(t, math.IsInf(profitFactor(2, 300, 0), 1))
	})
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name  string
		curve []float64
		want  float64
	}{
		{"monotonic growth", []float64{10000, 10100, 10200}, 0},
		{"single dip", []float64{10000, 12000, 9000, 11000}, 0.25},
		{"drawdown from initial capital", []float64{9000, 9500}, 0.10},
		{"empty curve", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, maxDrawdown(10000, tt.curve), 1e-9)
		})
	}
}

func TestDailyReturns(t *testing.T) {
	day := 24 * time.Hour
	points := []equityPoint{
		{at: replayStart, value: 10100},
		{at: replayStart.Add(6 * time.Hour), value: 10200},
		{at: replayStart.Add(day), value: 10400},
		{at: replayStart.Add(day + 6*time.Hour), value: 10404},
		{at: replayStart.Add(2 * day), value: 10000},
	}

	// Day closes are 10200, 10404 and 10000, anchored at the initial
	// capital of 10000.
	got := dailyReturns(10000, points)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.02, got[0], 1e-9)
	assert.InDelta(t, 0.02, got[1], 1e-9)
	assert.InDelta(t, 10000.0/10404-1, got[2], 1e-9)
}

func TestSharpeAndSortino(t *testing.T) {
	t.Run("nil on constant returns", func(t *testing.T) {
		assert.Nil(t, sharpe([]float64{0.01, 0.01, 0.01}))
	})

	t.Run("nil on a single observation", func(t *testing.T) {
		assert.Nil(t, sharpe([]float64{0.01}))
		assert.Nil(t, sortino([]float64{0.01}))
	})

	t.Run("sortino nil without downside", func(t *testing.T) {
		assert.Nil(t, sortino([]float64{0.01, 0.02, 0.03}))
	})

	t.Run("scaled by sqrt of 252", func(t *testing.T) {
		// Returns +1% and -1%: mean 0, so Sharpe is exactly 0.
		got := sharpe([]float64{0.01, -0.01})
		require.NotNil(t, got)
		assert.InDelta(t, 0, *got, 1e-9)

		// Mean 0.005, downside deviation 0 over a single loss class is
		// undefined only when there are no negatives; here the single
		// -0.01 gives population deviation 0, so sortino stays nil.
		assert.Nil(t, sortino([]float64{0.02, -0.01}))
	})

	t.Run("sortino uses downside deviation", func(t *testing.T) {
		daily := []float64{0.02, -0.01, -0.03}
		got := sortino(daily)
		require.NotNil(t, got)

		mean := (0.02 - 0.01 - 0.03) / 3
		downsideSD := 0.01 // population stddev of {-0.01, -0.03}
		assert.InDelta(t, mean/downsideSD*math.Sqrt(252), *got, 1e-9)
	})
}

func TestAnnualize(t *testing.T) {
	start := replayStart
	t.Run("compounds over the date range", func(t *testing.T) {
		// 10% over 365 days annualizes to itself.
		got := annualize(0.10, start, start.Add(365*24*time.Hour))
		assert.InDelta(t, 0.10, got, 1e-9)
	})

	t.Run("shorter ranges compound up", func(t *testing.T) {
		got := annualize(0.10, start, start.Add(36*24*time.Hour+12*time.Hour))
		assert.InDelta(t, math.Pow(1.10, 10)-1, got, 1e-9)
	})

	t.Run("zero range is zero", func(t *testing.T) {
		assert.Zero(t, annualize(0.10, start, start))
	})
}

func TestComputeMetricsTradeStats(t *testing.T) {
	trades := []models.Trade{
		{Pnl: 100}, {Pnl: 50}, {Pnl: -30}, {Pnl: 0},
	}
	res := computeMetrics(testConfig(), trades, nil)

	assert.Equal(t, 4, res.TotalTrades)
	assert.Equal(t, 2, res.WinningTrades)
	assert.Equal(t, 1, res.LosingTrades)
	assert.InDelta(t, 0.5, res.WinRate, 1e-9)
	assert.InDelta(t, 75, res.AvgWin, 1e-9)
	assert.InDelta(t, -30, res.AvgLoss, 1e-9)
	assert.InDelta(t, 100, res.BestTrade, 1e-9)
	assert.InDelta(t, -30, res.WorstTrade, 1e-9)
	assert.InDelta(t, 5, res.ProfitFactor, 1e-9)
}

func TestBacktestResultJSON(t *testing.T) {
	res := models.BacktestResult{ProfitFactor: math.Inf(1), TradeLog: []models.Trade{}}
	data, err := res.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"profit_factor":null`)
	assert.Contains(t, string(data), `"sharpe_ratio":null`)
}
