package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quantcore/internal/backtest"
	"quantcore/internal/config"
	"quantcore/internal/models"
	"quantcore/internal/risk"
	"quantcore/internal/strategy"
)

var (
	csvPath      string
	symbol       string
	timeframe    string
	strategyType string
	startDate    string
	endDate      string
	capital      float64
	showTrades   bool
)

func main() {
	root := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a strategy over historical candles from a CSV file",
		RunE:  run,
	}

	root.Flags().StringVar(&csvPath, "csv", "", "candle CSV file (required)")
	root.Flags().StringVar(&symbol, "symbol", "BTCUSDT", "trading pair")
	root.Flags().StringVar(&timeframe, "timeframe", "1h", "candle timeframe")
	root.Flags().StringVar(&strategyType, "strategy", string(models.TrendCrossover), "strategy type")
	root.Flags().StringVar(&startDate, "start", "", "replay start date, RFC 3339 or YYYY-MM-DD (required)")
	root.Flags().StringVar(&endDate, "end", "", "replay end date, exclusive (required)")
	root.Flags().Float64Var(&capital, "capital", 10000, "initial capital")
	root.Flags().BoolVar(&showTrades, "trades", false, "print the trade log")

	root.MarkFlagRequired("csv")
	root.MarkFlagRequired("start")
	root.MarkFlagRequired("end")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	start, err := parseDate(startDate)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := parseDate(endDate)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	candles, err := loadCandles(csvPath)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"file": csvPath, "candles": len(candles)}).Info("candles loaded")

	cfg := config.Default()
	eval, err := strategy.New(models.StrategyType(strategyType), "backtest-"+strategyType, cfg.Strategy)
	if err != nil {
		return err
	}
	rm, err := risk.NewManager(cfg.Risk, capital)
	if err != nil {
		return err
	}

	btCfg := models.BacktestConfig{
		Symbol:           symbol,
		Timeframe:        timeframe,
		StartDate:        start,
		EndDate:          end,
		InitialCapital:   capital,
		CommissionRate:   cfg.CommissionRate,
		SlippageRate:     cfg.SlippageRate,
		StopMultiplier:   cfg.Risk.StopMultiplier,
		TargetMultiplier: cfg.Risk.TargetMultiplier,
		ATRPeriod:        cfg.Scanner.ATRPeriod,
	}
	eng, err := backtest.NewEngine(btCfg, eval, rm)
	if err != nil {
		return err
	}

	res, err := eng.Run(context.Background(), candles)
	if err != nil {
		return err
	}

	renderSummary(res)
	if showTrades {
		renderTrades(res.TradeLog)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func loadCandles(path string) ([]models.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var candles []models.Candle
	if err := gocsv.UnmarshalFile(f, &candles); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return candles, nil
}

func renderSummary(res *models.BacktestResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	rows := [][]string{
		{"Final capital", fmt.Sprintf("%.2f", res.FinalCapital)},
		{"Total return", fmt.Sprintf("%.2f%%", res.TotalReturn*100)},
		{"Annual return", fmt.Sprintf("%.2f%%", res.AnnualReturn*100)},
		{"Total trades", fmt.Sprintf("%d", res.TotalTrades)},
		{"Winning trades", fmt.Sprintf("%d", res.WinningTrades)},
		{"Losing trades", fmt.Sprintf("%d", res.LosingTrades)},
		{"Win rate", fmt.Sprintf("%.2f%%", res.WinRate*100)},
		{"Profit factor", formatProfitFactor(res.ProfitFactor)},
		{"Sharpe ratio", formatRatio(res.SharpeRatio)},
		{"Sortino ratio", formatRatio(res.SortinoRatio)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", res.MaxDrawdown*100)},
		{"Avg win", fmt.Sprintf("%.2f", res.AvgWin)},
		{"Avg loss", fmt.Sprintf("%.2f", res.AvgLoss)},
		{"Best trade", fmt.Sprintf("%.2f", res.BestTrade)},
		{"Worst trade", fmt.Sprintf("%.2f", res.WorstTrade)},
	}
	table.AppendBulk(rows)
	table.Render()
}

func renderTrades(trades []models.Trade) {
	if len(trades) == 0 {
		fmt.Println("no trades")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Entry", "Exit", "Side", "Qty", "Entry px", "Exit px", "PnL", "Reason"})
	for _, t := range trades {
		table.Append([]string{
			t.EntryTime.Format(time.DateTime),
			t.ExitTime.Format(time.DateTime),
			string(t.Side),
			fmt.Sprintf("%.4f", t.Quantity),
			fmt.Sprintf("%.2f", t.EntryPrice),
			fmt.Sprintf("%.2f", t.ExitPrice),
			fmt.Sprintf("%.2f", t.Pnl),
			t.ExitReason,
		})
	}
	table.Render()
}

func formatProfitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", pf)
}

func formatRatio(r *float64) string {
	if r == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *r)
}
