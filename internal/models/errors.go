package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientData is returned when an indicator is requested before
// its lookback window is filled. Strategy evaluation treats it as HOLD,
// never as a crash.
var ErrInsufficientData = errors.New("insufficient data for lookback window")

// ConfigurationError reports invalid or missing parameters. Surfaced
// immediately; no computation is attempted.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// DataGapError reports missing or out-of-order candles. The affected
// symbol's evaluation is skipped for that cycle, not the whole scan.
type DataGapError struct {
	Symbol string
	At     time.Time
	Reason string
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap for %s at %s: %s", e.Symbol, e.At.Format(time.RFC3339), e.Reason)
}

// RiskRejected reports that an entry did not occur: sizing below the
// minimum trade size, allocation exceeded, or a circuit breaker active.
type RiskRejected struct {
	Reason string
}

func (e *RiskRejected) Error() string {
	return "risk rejected: " + e.Reason
}

// ReplayError is fatal to a single backtest run; no partial result is
// returned.
type ReplayError struct {
	Reason string
	Err    error
}

func (e *ReplayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("replay error: %s: %v", e.Reason, e.Err)
	}
	return "replay error: " + e.Reason
}

func (e *ReplayError) Unwrap() error { return e.Err }
