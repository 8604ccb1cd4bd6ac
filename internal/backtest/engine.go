// Package backtest replays a strategy and risk manager over historical
// candles. Replay is fully deterministic: identical (candles, config)
// input always yields an identical trade log and metrics. One Engine owns
// a private copy of cash and position state, so independent replays can
// run in parallel with no shared mutable data.
package backtest

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"quantcore/internal/indicator"
	"quantcore/internal/models"
	"quantcore/internal/risk"
	"quantcore/internal/strategy"
)

// Engine steps candle-by-candle through a FLAT/OPEN state machine.
type Engine struct {
	cfg  models.BacktestConfig
	eval strategy.Evaluator
	rm   *risk.Manager

	cash     float64
	position *models.Position
	// commission debited at entry, settled into the Trade at exit.
	entryCommission float64
	trades          []models.Trade
	equity          []equityPoint
}

type equityPoint struct {
	at    time.Time
	value float64
}

// NewEngine validates the config and builds a replay engine. The risk
// manager must be private to this run; sharing one across replays would
// leak breaker state between them.
func NewEngine(cfg models.BacktestConfig, eval strategy.Evaluator, rm *risk.Manager) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, eval: eval, rm: rm, cash: cfg.InitialCapital}, nil
}

// Run replays the candles inside [start_date, end_date) and computes the
// result metrics once at termination. Cancellation is cooperative and
// checked once per candle; a cancelled run returns an error and no
// partial result.
func (e *Engine) Run(ctx context.Context, candles []models.Candle) (*models.BacktestResult, error) {
	window := e.filter(candles)
	if len(window) == 0 {
		return nil, &models.ReplayError{Reason: "no candles in the configured date range"}
	}
	if err := models.ValidateCandles(window); err != nil {
		return nil, &models.ReplayError{Reason: "invalid candle history", Err: err}
	}

	log.WithFields(log.Fields{
		"symbol":  e.cfg.Symbol,
		"candles": len(window),
		"capital": e.cfg.InitialCapital,
	}).Info("backtest: starting replay")

	for i := range window {
		if err := ctx.Err(); err != nil {
			return nil, &models.ReplayError{Reason: "replay cancelled", Err: err}
		}
		if err := e.step(window[:i+1]); err != nil {
			return nil, err
		}
		e.mark(window[i])
	}

	// Any still-open position is force-closed at the last close so the
	// run terminates with a fully realized equity figure.
	last := window[len(window)-1]
	if e.position != nil {
		e.exit(last.Close, last.OpenTime, models.ExitEndOfData)
		e.equity[len(e.equity)-1].value = e.cash
	}

	return e.result(), nil
}

// filter narrows the history to the configured date range; end_date is
// exclusive.
func (e *Engine) filter(candles []models.Candle) []models.Candle {
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		if c.OpenTime.Before(e.cfg.StartDate) || !c.OpenTime.Before(e.cfg.EndDate) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// step advances the state machine by one candle. window always ends at
// the current candle.
func (e *Engine) step(window []models.Candle) error {
	if e.position == nil {
		return e.tryEnter(window)
	}
	return e.tryExit(window)
}

func (e *Engine) tryEnter(window []models.Candle) error {
	sig, err := e.eval.Evaluate(window)
	if err != nil {
		return &models.ReplayError{Reason: "strategy evaluation failed", Err: err}
	}
	if sig.Direction == models.HOLD {
		return nil
	}

	atr, err := indicator.ATR(window, e.cfg.ATRPeriod)
	if errors.Is(err, models.ErrInsufficientData) {
		return nil
	} else if err != nil {
		return err
	}

	cur := window[len(window)-1]
	entry := e.fillPrice(cur.Close, sig.Direction)

	rd, err := e.rm.Evaluate(sig, entry, atr.Last(), cur.OpenTime)
	var rejected *models.RiskRejected
	if errors.As(err, &rejected) {
		log.WithFields(log.Fields{"symbol": sig.Symbol, "reason": rejected.Reason}).
			Debug("backtest: entry rejected")
		return nil
	} else if err != nil {
		return err
	}

	notional := rd.Notional()
	commission := e.cfg.CommissionRate * notional
	if notional+commission > e.cash {
		return nil
	}

	e.cash -= notional + commission
	e.entryCommission = commission
	e.position = models.NewPosition(sig, rd)
	e.position.EntryTime = cur.OpenTime
	return nil
}

// tryExit checks exit conditions in fixed priority order: stop loss, then
// take profit, then an opposing signal. Stops and targets fill at their
// trigger price; the opposing-signal exit fills at the candle close.
func (e *Engine) tryExit(window []models.Candle) error {
	cur := window[len(window)-1]
	pos := e.position

	if pos.Side == models.BUY {
		if cur.Low <= pos.StopLoss {
			e.exit(pos.StopLoss, cur.OpenTime, models.ExitStopLoss)
			return nil
		}
		if cur.High >= pos.TakeProfit {
			e.exit(pos.TakeProfit, cur.OpenTime, models.ExitTakeProfit)
			return nil
		}
	} else {
		if cur.High >= pos.StopLoss {
			e.exit(pos.StopLoss, cur.OpenTime, models.ExitStopLoss)
			return nil
		}
		if cur.Low <= pos.TakeProfit {
			e.exit(pos.TakeProfit, cur.OpenTime, models.ExitTakeProfit)
			return nil
		}
	}

	sig, err := e.eval.Evaluate(window)
	if err != nil {
		return &models.ReplayError{Reason: "strategy evaluation failed", Err: err}
	}
	if sig.Direction == pos.Side.Opposite() {
		e.exit(cur.Close, cur.OpenTime, models.ExitSignal)
	}
	return nil
}

// exit realizes the position at price, credits proceeds minus the exit
// commission and appends the round trip to the trade log.
func (e *Engine) exit(price float64, at time.Time, reason string) {
	pos := e.position
	pos.Close(price, at)

	proceeds := pos.EntryPrice*pos.EntryQuantity + pos.Pnl
	exitCommission := e.cfg.CommissionRate * price * pos.EntryQuantity
	e.cash += proceeds - exitCommission

	commission := e.entryCommission + exitCommission
	e.trades = append(e.trades, models.Trade{
		ID:         pos.ID,
		Symbol:     pos.Symbol,
		StrategyID: pos.StrategyID,
		Side:       pos.Side,
		EntryTime:  pos.EntryTime,
		ExitTime:   at,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Quantity:   pos.EntryQuantity,
		Commission: commission,
		Pnl:        pos.Pnl,
		PnlPercent: pos.PnlPercent,
		ExitReason: reason,
	})

	e.rm.RecordExit(pos.Pnl-commission, at)
	e.position = nil
	e.entryCommission = 0
}

// fillPrice applies slippage against the taker on market fills.
func (e *Engine) fillPrice(close float64, side models.Direction) float64 {
	if side == models.BUY {
		return close * (1 + e.cfg.SlippageRate)
	}
	return close * (1 - e.cfg.SlippageRate)
}

// mark appends one equity point per candle: cash plus the open position
// marked at the candle close.
func (e *Engine) mark(cur models.Candle) {
	value := e.cash
	if pos := e.position; pos != nil {
		if pos.Side == models.BUY {
			value += pos.EntryPrice*pos.EntryQuantity + (cur.Close-pos.EntryPrice)*pos.EntryQuantity
		} else {
			value += pos.EntryPrice*pos.EntryQuantity + (pos.EntryPrice-cur.Close)*pos.EntryQuantity
		}
	}
	e.equity = append(e.equity, equityPoint{at: cur.OpenTime, value: value})
}

func (e *Engine) result() *models.BacktestResult {
	res := computeMetrics(e.cfg, e.trades, e.equity)
	res.FinalCapital = e.cash
	res.TotalReturn = e.cash/e.cfg.InitialCapital - 1
	res.AnnualReturn = annualize(res.TotalReturn, e.cfg.StartDate, e.cfg.EndDate)
	return res
}
