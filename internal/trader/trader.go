// Package trader runs the live evaluation loop: one task per monitored
// symbol, each consuming closed candles from a Feed and owning its
// position state exclusively. Order placement and fills belong to the
// Executor collaborator; the core only decides.
package trader

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"quantcore/internal/events"
	"quantcore/internal/indicator"
	"quantcore/internal/models"
	"quantcore/internal/portfolio"
	"quantcore/internal/risk"
	"quantcore/internal/storage"
	"quantcore/internal/strategy"
)

// Feed delivers closed candles for a subscription. The channel closes
// when the feed ends or its retry budget is exhausted.
type Feed interface {
	Subscribe(ctx context.Context, sub models.CandleSubscription) (<-chan models.Candle, error)
}

// Executor places orders with the exchange. Fills it reports are
// authoritative; the core never assumes placement succeeded.
type Executor interface {
	Submit(ctx context.Context, intent models.OrderIntent) error
}

// Config bounds the per-symbol candle window.
type Config struct {
	History   int `yaml:"history" json:"history"`
	ATRPeriod int `yaml:"atr_period" json:"atr_period"`
}

func (c Config) Validate() error {
	if c.History <= 0 {
		return &models.ConfigurationError{Field: "trader.history", Reason: "must be positive"}
	}
	if c.ATRPeriod <= 0 {
		return &models.ConfigurationError{Field: "trader.atr_period", Reason: "must be positive"}
	}
	return nil
}

// Trader fans one evaluation task out per subscription. Risk and
// portfolio state are shared; entry acceptance is serialized so two
// tasks cannot double-spend the same capital.
type Trader struct {
	cfg   Config
	feed  Feed
	exec  Executor
	rm    *risk.Manager
	pm    *portfolio.Manager
	bus   *events.Bus
	store storage.Store

	// entryMu is the single serialization point for entry acceptance:
	// sizing, allocation check and order submission happen as one step.
	entryMu sync.Mutex
}

func New(cfg Config, feed Feed, exec Executor, rm *risk.Manager, pm *portfolio.Manager, bus *events.Bus, store storage.Store) (*Trader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Trader{cfg: cfg, feed: feed, exec: exec, rm: rm, pm: pm, bus: bus, store: store}, nil
}

// Run starts one task per subscription and blocks until every task has
// stopped. Tasks stop between candle boundaries only: a candle being
// processed is always finished before the task observes cancellation.
// A failed subscription stops the tasks already started before the
// error is returned; Run never leaks a running task.
func (t *Trader) Run(ctx context.Context, subs []models.CandleSubscription, build func(models.CandleSubscription) (strategy.Evaluator, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, sub := range subs {
		eval, err := build(sub)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		candles, err := t.feed.Subscribe(ctx, sub)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}

		wg.Add(1)
		go func(sub models.CandleSubscription, eval strategy.Evaluator, candles <-chan models.Candle) {
			defer wg.Done()
			t.runTask(ctx, sub, eval, candles)
		}(sub, eval, candles)
	}
	wg.Wait()
	return nil
}

// task state is owned by exactly one goroutine.
type task struct {
	sub      models.CandleSubscription
	eval     strategy.Evaluator
	window   []models.Candle
	position *models.Position
}

func (t *Trader) runTask(ctx context.Context, sub models.CandleSubscription, eval strategy.Evaluator, candles <-chan models.Candle) {
	tk := &task{sub: sub, eval: eval}
	log.WithFields(log.Fields{"symbol": sub.Symbol, "timeframe": sub.Timeframe}).
		Info("trader: task started")

	for {
		select {
		case <-ctx.Done():
			log.WithField("symbol", sub.Symbol).Info("trader: task stopped")
			return
		case candle, ok := <-candles:
			if !ok {
				log.WithField("symbol", sub.Symbol).Warn("trader: feed closed")
				return
			}
			t.onCandle(ctx, tk, candle)
		}
	}
}

// onCandle advances one task by one closed candle. It always runs to
// completion; cancellation is only observed at the candle boundary.
// Out-of-order candles never enter the window: a reconnect can replay a
// closed kline and duplicates would corrupt every indicator downstream.
func (t *Trader) onCandle(ctx context.Context, tk *task, candle models.Candle) {
	if n := len(tk.window); n > 0 && !candle.OpenTime.After(tk.window[n-1].OpenTime) {
		gap := &models.DataGapError{
			Symbol: tk.sub.Symbol,
			At:     candle.OpenTime,
			Reason: "open_time not increasing",
		}
		log.WithFields(log.Fields{"symbol": tk.sub.Symbol, "err": gap}).
			Warn("trader: dropping out-of-order candle")
		return
	}

	tk.window = append(tk.window, candle)
	if len(tk.window) > t.cfg.History {
		tk.window = tk.window[len(tk.window)-t.cfg.History:]
	}

	if tk.position != nil {
		t.checkExit(ctx, tk, candle)
		return
	}
	t.tryEnter(ctx, tk, candle)
}

func (t *Trader) tryEnter(ctx context.Context, tk *task, candle models.Candle) {
	sig, err := tk.eval.Evaluate(tk.window)
	if err != nil {
		log.WithFields(log.Fields{"symbol": tk.sub.Symbol, "err": err}).
			Error("trader: evaluation failed")
		return
	}
	if sig.Direction == models.HOLD {
		return
	}
	t.bus.Publish(events.TopicSignal, sig)

	atr, err := indicator.ATR(tk.window, t.cfg.ATRPeriod)
	if errors.Is(err, models.ErrInsufficientData) {
		return
	} else if err != nil {
		log.WithFields(log.Fields{"symbol": tk.sub.Symbol, "err": err}).
			Error("trader: atr failed")
		return
	}

	t.entryMu.Lock()
	defer t.entryMu.Unlock()

	rd, err := t.rm.Evaluate(sig, candle.Close, atr.Last(), candle.OpenTime)
	var rejected *models.RiskRejected
	if errors.As(err, &rejected) {
		log.WithFields(log.Fields{"symbol": sig.Symbol, "reason": rejected.Reason}).
			Info("trader: entry rejected by risk")
		if t.rm.Halted() {
			t.bus.Publish(events.TopicCircuitBreaker, rejected.Reason)
		}
		return
	} else if err != nil {
		log.WithFields(log.Fields{"symbol": sig.Symbol, "err": err}).
			Error("trader: risk evaluation failed")
		return
	}

	if err := t.pm.Authorize(sig.StrategyID, rd.Notional()); err != nil {
		log.WithFields(log.Fields{"symbol": sig.Symbol, "err": err}).
			Info("trader: entry rejected by portfolio")
		return
	}

	intent := models.OrderIntent{
		Symbol:     sig.Symbol,
		StrategyID: sig.StrategyID,
		Side:       sig.Direction,
		Quantity:   rd.Quantity,
		StopLoss:   rd.StopLoss,
		TakeProfit: rd.TakeProfit,
	}
	if err := t.exec.Submit(ctx, intent); err != nil {
		// The slot was reserved above; free it, no position exists.
		t.pm.Release(sig.StrategyID, 0)
		log.WithFields(log.Fields{"symbol": sig.Symbol, "err": err}).
			Error("trader: order submission failed")
		return
	}

	pos := models.NewPosition(sig, rd)
	pos.EntryTime = candle.OpenTime
	tk.position = pos
	if err := t.store.SavePosition(ctx, pos); err != nil {
		log.WithFields(log.Fields{"symbol": sig.Symbol, "err": err}).
			Error("trader: position persist failed")
	}
	t.bus.Publish(events.TopicPositionOpened, *pos)
}

// checkExit applies the same priority order as the replay engine: stop,
// target, opposing signal.
func (t *Trader) checkExit(ctx context.Context, tk *task, candle models.Candle) {
	pos := tk.position

	exitPrice := 0.0
	reason := ""
	if pos.Side == models.BUY {
		switch {
		case candle.Low <= pos.StopLoss:
			exitPrice, reason = pos.StopLoss, models.ExitStopLoss
		case candle.High >= pos.TakeProfit:
			exitPrice, reason = pos.TakeProfit, models.ExitTakeProfit
		}
	} else {
		switch {
		case candle.High >= pos.StopLoss:
			exitPrice, reason = pos.StopLoss, models.ExitStopLoss
		case candle.Low <= pos.TakeProfit:
			exitPrice, reason = pos.TakeProfit, models.ExitTakeProfit
		}
	}

	if reason == "" {
		sig, err := tk.eval.Evaluate(tk.window)
		if err != nil {
			log.WithFields(log.Fields{"symbol": tk.sub.Symbol, "err": err}).
				Error("trader: evaluation failed")
			return
		}
		if sig.Direction != pos.Side.Opposite() {
			return
		}
		exitPrice, reason = candle.Close, models.ExitSignal
	}

	intent := models.OrderIntent{
		Symbol:     pos.Symbol,
		StrategyID: pos.StrategyID,
		Side:       pos.Side.Opposite(),
		Quantity:   pos.EntryQuantity,
	}
	if err := t.exec.Submit(ctx, intent); err != nil {
		log.WithFields(log.Fields{"symbol": pos.Symbol, "err": err}).
			Error("trader: exit submission failed")
		return
	}

	pos.Close(exitPrice, candle.OpenTime)
	tk.position = nil

	trade := models.Trade{
		ID:         pos.ID,
		Symbol:     pos.Symbol,
		StrategyID: pos.StrategyID,
		Side:       pos.Side,
		EntryTime:  pos.EntryTime,
		ExitTime:   pos.ExitTime,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  pos.ExitPrice,
		Quantity:   pos.EntryQuantity,
		Pnl:        pos.Pnl,
		PnlPercent: pos.PnlPercent,
		ExitReason: reason,
	}

	t.rm.RecordExit(pos.Pnl, candle.OpenTime)
	t.pm.Release(pos.StrategyID, pos.Pnl)
	if err := t.store.SavePosition(ctx, pos); err != nil {
		log.WithFields(log.Fields{"symbol": pos.Symbol, "err": err}).
			Error("trader: position persist failed")
	}
	if err := t.store.SaveTrade(ctx, trade); err != nil {
		log.WithFields(log.Fields{"symbol": pos.Symbol, "err": err}).
			Error("trader: trade persist failed")
	}
	t.bus.Publish(events.TopicPositionClosed, trade)
	if t.rm.Halted() {
		t.bus.Publish(events.TopicCircuitBreaker, "circuit breaker active after exit")
	}
}
