package models

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar for a (symbol, timeframe) pair. Candles are
// uniquely identified by their open time.
type Candle struct {
	Symbol      string    `json:"symbol" csv:"symbol"`
	Timeframe   string    `json:"timeframe" csv:"timeframe"`
	OpenTime    time.Time `json:"open_time" csv:"open_time"`
	Open        float64   `json:"open" csv:"open"`
	High        float64   `json:"high" csv:"high"`
	Low         float64   `json:"low" csv:"low"`
	Close       float64   `json:"close" csv:"close"`
	Volume      float64   `json:"volume" csv:"volume"`
	CloseTime   time.Time `json:"close_time,omitempty" csv:"close_time"`
	QuoteVolume float64   `json:"quote_volume,omitempty" csv:"quote_volume"`
	TradeCount  int       `json:"count,omitempty" csv:"count"`
}

// CandleSubscription describes a live kline stream request.
type CandleSubscription struct {
	Symbol    string
	Timeframe string
	Strategy  StrategyType
}

// ValidateCandles checks that a candle batch is sorted by strictly
// increasing open time. The feed is assumed gap-free; a non-monotonic
// sequence is a DataGapError for the affected symbol.
func ValidateCandles(candles []Candle) error {
	for i := 1; i < len(candles); i++ {
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			return &DataGapError{
				Symbol: candles[i].Symbol,
				At:     candles[i].OpenTime,
				Reason: fmt.Sprintf("open_time not increasing at index %d", i),
			}
		}
	}
	return nil
}

// Closes extracts the close series from a candle window.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volume series from a candle window.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
