// Package risk sizes prospective entries and enforces portfolio-wide
// circuit breakers. One Manager is shared by every evaluation task; all
// checks and state updates happen under a single lock so two tasks can
// never double-spend the same capital.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"quantcore/internal/models"
)

// Config holds sizing parameters and circuit-breaker limits.
type Config struct {
	StopMultiplier      float64 `yaml:"stop_multiplier" json:"stop_multiplier"`
	TargetMultiplier    float64 `yaml:"target_multiplier" json:"target_multiplier"`
	MaxPositionFraction float64 `yaml:"max_position_fraction" json:"max_position_fraction"`
	KellyFraction       float64 `yaml:"kelly_fraction" json:"kelly_fraction"`
	QuantityStep        float64 `yaml:"quantity_step" json:"quantity_step"`
	MinNotional         float64 `yaml:"min_notional" json:"min_notional"`

	// DailyLossPercent is the fraction of start-of-day equity that may be
	// lost before new entries are halted for the rest of the day.
	DailyLossPercent float64 `yaml:"daily_loss_percent" json:"daily_loss_percent"`
	// MaxConsecutiveLosses halts new entries after this many losing exits
	// in a row. Zero disables the breaker.
	MaxConsecutiveLosses int `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
}

// DefaultConfig returns the product-default risk configuration.
func DefaultConfig() Config {
	return Config{
		StopMultiplier:       2.0,
		TargetMultiplier:     3.0,
		MaxPositionFraction:  0.10,
		KellyFraction:        0.25,
		QuantityStep:         0.0001,
		MinNotional:          10,
		DailyLossPercent:     0.05,
		MaxConsecutiveLosses: 3,
	}
}

func (c Config) Validate() error {
	if c.StopMultiplier <= 0 || c.TargetMultiplier <= 0 {
		return &models.ConfigurationError{Field: "risk", Reason: "multipliers must be positive"}
	}
	if c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1 {
		return &models.ConfigurationError{Field: "risk.max_position_fraction", Reason: "must be in (0,1]"}
	}
	if c.KellyFraction <= 0 || c.KellyFraction > 1 {
		return &models.ConfigurationError{Field: "risk.kelly_fraction", Reason: "must be in (0,1]"}
	}
	if c.QuantityStep <= 0 {
		return &models.ConfigurationError{Field: "risk.quantity_step", Reason: "must be positive"}
	}
	if c.MinNotional < 0 {
		return &models.ConfigurationError{Field: "risk.min_notional", Reason: "must not be negative"}
	}
	if c.DailyLossPercent < 0 || c.DailyLossPercent >= 1 {
		return &models.ConfigurationError{Field: "risk.daily_loss_percent", Reason: "must be in [0,1)"}
	}
	if c.MaxConsecutiveLosses < 0 {
		return &models.ConfigurationError{Field: "risk.max_consecutive_losses", Reason: "must not be negative"}
	}
	return nil
}

// Manager computes RiskDecisions and tracks breaker state across the
// current trading day. All methods are safe for concurrent use.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	equity         float64
	day            time.Time
	dayStartEquity float64
	dailyPnl       float64
	consecLosses   int
	tripped        bool
	trippedReason  string
	feedHealthy    bool
}

// NewManager builds a Manager seeded with the account's current equity.
func NewManager(cfg Config, equity float64) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if equity <= 0 {
		return nil, &models.ConfigurationError{Field: "risk.equity", Reason: "must be positive"}
	}
	return &Manager{
		cfg:            cfg,
		equity:         equity,
		dayStartEquity: equity,
		feedHealthy:    true,
	}, nil
}

// Evaluate turns an accepted signal into a RiskDecision, or rejects it.
// entryPrice is the intended fill price and atr the current average true
// range for the symbol. now drives the daily breaker reset; in a backtest
// it is the candle time, never the wall clock.
func (m *Manager) Evaluate(sig models.Signal, entryPrice, atr float64, now time.Time) (models.RiskDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.roll(now)

	if sig.Direction != models.BUY && sig.Direction != models.SELL {
		return models.RiskDecision{}, fmt.Errorf("risk: cannot size a %s signal", sig.Direction)
	}
	if entryPrice <= 0 || atr <= 0 {
		return models.RiskDecision{}, &models.RiskRejected{Reason: "entry price and atr must be positive"}
	}
	if reason, halted := m.breakerState(); halted {
		return models.RiskDecision{}, &models.RiskRejected{Reason: reason}
	}

	notionalCap := math.Min(m.cfg.MaxPositionFraction*m.equity, m.cfg.KellyFraction*m.equity*sig.Strength)
	qty := math.Floor(notionalCap/entryPrice/m.cfg.QuantityStep) * m.cfg.QuantityStep
	if qty <= 0 || qty*entryPrice < m.cfg.MinNotional {
		return models.RiskDecision{}, &models.RiskRejected{
			Reason: fmt.Sprintf("notional %.4f below minimum %.4f", qty*entryPrice, m.cfg.MinNotional),
		}
	}

	rd := models.RiskDecision{EntryPrice: entryPrice, Quantity: qty}
	stop := atr * m.cfg.StopMultiplier
	target := atr * m.cfg.TargetMultiplier
	if sig.Direction == models.BUY {
		rd.StopLoss = entryPrice - stop
		rd.TakeProfit = entryPrice + target
	} else {
		rd.StopLoss = entryPrice + stop
		rd.TakeProfit = entryPrice - target
	}
	if rd.StopLoss < 0 {
		rd.StopLoss = 0
	}
	return rd, nil
}

// RecordExit applies a realized pnl to the breaker state. at drives the
// daily reset and must not move backwards within one run.
func (m *Manager) RecordExit(pnl float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.roll(at)
	m.equity += pnl
	m.dailyPnl += pnl
	if pnl < 0 {
		m.consecLosses++
	} else {
		m.consecLosses = 0
	}

	if m.tripped {
		return
	}
	if m.cfg.DailyLossPercent > 0 && -m.dailyPnl > m.cfg.DailyLossPercent*m.dayStartEquity {
		m.trip(fmt.Sprintf("daily loss %.2f exceeds %.1f%% of day-start equity", -m.dailyPnl, m.cfg.DailyLossPercent*100))
	} else if m.cfg.MaxConsecutiveLosses > 0 && m.consecLosses >= m.cfg.MaxConsecutiveLosses {
		m.trip(fmt.Sprintf("%d consecutive losing exits", m.consecLosses))
	}
}

// SetFeedHealthy records the execution collaborator's connectivity
// verdict. While unhealthy, every entry is rejected; this gate is
// independent of the daily breaker and never resets on a day boundary.
func (m *Manager) SetFeedHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedHealthy = healthy
}

// Halted reports whether new entries are currently rejected.
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, halted := m.breakerState()
	return halted
}

// Equity returns the manager's view of account equity.
func (m *Manager) Equity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equity
}

func (m *Manager) breakerState() (string, bool) {
	if !m.feedHealthy {
		return "feed unhealthy", true
	}
	if m.tripped {
		return m.trippedReason, true
	}
	return "", false
}

func (m *Manager) trip(reason string) {
	m.tripped = true
	m.trippedReason = reason
	log.WithField("reason", reason).Warn("risk: circuit breaker tripped")
}

// roll resets the daily breaker state when at crosses into a new UTC
// calendar day. Mid-day the trip is monotonic: a winning trade never
// clears it.
func (m *Manager) roll(at time.Time) {
	day := at.UTC().Truncate(24 * time.Hour)
	if m.day.IsZero() {
		m.day = day
		return
	}
	if day.After(m.day) {
		m.day = day
		m.dayStartEquity = m.equity
		m.dailyPnl = 0
		m.consecLosses = 0
		m.tripped = false
		m.trippedReason = ""
	}
}
