package backtest

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"quantcore/internal/models"
)

// tradingDaysPerYear annualizes the Sharpe and Sortino denominators.
const tradingDaysPerYear = 252

// computeMetrics builds the result from the completed trade log and the
// per-candle equity curve. It runs exactly once, at termination; capital
// and return fields are filled in by the engine.
func computeMetrics(cfg models.BacktestConfig, trades []models.Trade, equity []equityPoint) *models.BacktestResult {
	res := &models.BacktestResult{
		TotalTrades: len(trades),
		TradeLog:    trades,
	}
	if res.TradeLog == nil {
		res.TradeLog = []models.Trade{}
	}

	var grossProfit, grossLoss float64
	for _, t := range trades {
		switch {
		case t.Pnl > 0:
			res.WinningTrades++
			grossProfit += t.Pnl
		case t.Pnl < 0:
			res.LosingTrades++
			grossLoss += -t.Pnl
		}
		if t.Pnl > res.BestTrade {
			res.BestTrade = t.Pnl
		}
		if t.Pnl < res.WorstTrade {
			res.WorstTrade = t.Pnl
		}
	}

	if res.TotalTrades > 0 {
		res.WinRate = float64(res.WinningTrades) / float64(res.TotalTrades)
	}
	if res.WinningTrades > 0 {
		res.AvgWin = grossProfit / float64(res.WinningTrades)
	}
	if res.LosingTrades > 0 {
		res.AvgLoss = -grossLoss / float64(res.LosingTrades)
	}
	res.ProfitFactor = profitFactor(res.TotalTrades, grossProfit, grossLoss)

	curve := make([]float64, len(equity))
	for i, p := range equity {
		curve[i] = p.value
	}
	res.EquityCurve = curve
	res.MaxDrawdown = maxDrawdown(cfg.InitialCapital, curve)

	daily := dailyReturns(cfg.InitialCapital, equity)
	res.SharpeRatio = sharpe(daily)
	res.SortinoRatio = sortino(daily)
	return res
}

// profitFactor is gross profit over gross loss. With winners but no
// losers it is the +Inf sentinel; with no trades at all it is 0.
func profitFactor(total int, grossProfit, grossLoss float64) float64 {
	if total == 0 {
		return 0
	}
	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return grossProfit / grossLoss
}

func maxDrawdown(initial float64, curve []float64) float64 {
	peak := initial
	maxDD := 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// dailyReturns takes the last equity point of each UTC calendar day and
// computes the day-over-day percentage changes, anchored at the initial
// capital.
func dailyReturns(initial float64, equity []equityPoint) []float64 {
	if len(equity) == 0 {
		return nil
	}

	closes := make([]float64, 0)
	day := equity[0].at.UTC().Truncate(24 * time.Hour)
	last := equity[0].value
	for _, p := range equity[1:] {
		d := p.at.UTC().Truncate(24 * time.Hour)
		if d.After(day) {
			closes = append(closes, last)
			day = d
		}
		last = p.value
	}
	closes = append(closes, last)

	out := make([]float64, 0, len(closes))
	prev := initial
	for _, v := range closes {
		if prev != 0 {
			out = append(out, v/prev-1)
		}
		prev = v
	}
	return out
}

// sharpe is mean/stddev of daily returns scaled by sqrt(252), nil when
// the deviation is zero.
func sharpe(daily []float64) *float64 {
	if len(daily) < 2 {
		return nil
	}
	mean, err := stats.Mean(stats.Float64Data(daily))
	if err != nil {
		return nil
	}
	sd, err := stats.StandardDeviationPopulation(stats.Float64Data(daily))
	if err != nil || sd == 0 {
		return nil
	}
	v := mean / sd * math.Sqrt(tradingDaysPerYear)
	return &v
}

// sortino penalizes only downside volatility: the denominator is the
// deviation of negative daily returns.
func sortino(daily []float64) *float64 {
	if len(daily) < 2 {
		return nil
	}
	var downside []float64
	for _, r := range daily {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return nil
	}
	mean, err := stats.Mean(stats.Float64Data(daily))
	if err != nil {
		return nil
	}
	sd, err := stats.StandardDeviationPopulation(stats.Float64Data(downside))
	if err != nil || sd == 0 {
		return nil
	}
	v := mean / sd * math.Sqrt(tradingDaysPerYear)
	return &v
}

// annualize converts a total return over [start, end) to a yearly rate.
func annualize(totalReturn float64, start, end time.Time) float64 {
	days := end.Sub(start).Hours() / 24
	if days <= 0 {
		return 0
	}
	return math.Pow(1+totalReturn, 365/days) - 1
}
