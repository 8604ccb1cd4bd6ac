package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/events"
	"quantcore/internal/models"
	"quantcore/internal/portfolio"
	"quantcore/internal/risk"
	"quantcore/internal/storage"
	"quantcore/internal/strategy"
)

var liveStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type stubFeed struct {
	ch chan models.Candle
}

func (f *stubFeed) Subscribe(context.Context, models.CandleSubscription) (<-chan models.Candle, error) {
	return f.ch, nil
}

type stubExecutor struct {
	mu      sync.Mutex
	intents []models.OrderIntent
	err     error
}

func (e *stubExecutor) Submit(_ context.Context, intent models.OrderIntent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.intents = append(e.intents, intent)
	return nil
}

func (e *stubExecutor) submitted() []models.OrderIntent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.OrderIntent, len(e.intents))
	copy(out, e.intents)
	return out
}

type scriptedStrategy struct {
	signals map[int]models.Direction
}

func (s *scriptedStrategy) Type() models.StrategyType { return models.TrendCrossover }

func (s *scriptedStrategy) Evaluate(candles []models.Candle) (models.Signal, error) {
	last := candles[len(candles)-1]
	sig := models.Hold(last.Symbol, "trend-1", last.OpenTime)
	sig.Strategy = models.TrendCrossover
	if d, ok := s.signals[len(candles)]; ok {
		sig.Direction = d
		sig.Strength = 1.0
	}
	return sig, nil
}

// recordingStrategy keeps a copy of every window it is asked to
// evaluate and always holds.
type recordingStrategy struct {
	mu      sync.Mutex
	windows [][]models.Candle
}

func (s *recordingStrategy) Type() models.StrategyType { return models.TrendCrossover }

func (s *recordingStrategy) Evaluate(candles []models.Candle) (models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := make([]models.Candle, len(candles))
	copy(window, candles)
	s.windows = append(s.windows, window)
	last := candles[len(candles)-1]
	return models.Hold(last.Symbol, "trend-1", last.OpenTime), nil
}

func (s *recordingStrategy) evaluated() [][]models.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]models.Candle, len(s.windows))
	copy(out, s.windows)
	return out
}

func flatCandle(i int, close, spread float64) models.Candle {
	return models.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: "15m",
		OpenTime:  liveStart.Add(time.Duration(i) * 15 * time.Minute),
		Open:      close,
		High:      close + spread,
		Low:       close - spread,
		Close:     close,
		Volume:    100,
	}
}

type fixture struct {
	trader *Trader
	feed   *stubFeed
	exec   *stubExecutor
	store  *storage.MemoryStore
	bus    *events.Bus
	pm     *portfolio.Manager
}

func newFixture(t *testing.T, exec *stubExecutor, allocPercent float64) *fixture {
	t.Helper()

	rm, err := risk.NewManager(risk.DefaultConfig(), 10000)
	require.NoError(t, err)
	pm, err := portfolio.NewManager(10000, []models.PortfolioAllocation{
		{StrategyID: "trend-1", AllocationPercent: allocPercent, MaxPositions: 1},
	})
	require.NoError(t, err)

	feed := &stubFeed{ch: make(chan models.Candle, 16)}
	store := storage.NewMemoryStore()
	bus := events.NewBus()

	tr, err := New(Config{History: 100, ATRPeriod: 2}, feed, exec, rm, pm, bus, store)
	require.NoError(t, err)
	return &fixture{trader: tr, feed: feed, exec: exec, store: store, bus: bus, pm: pm}
}

// runCandles feeds the candles through a single live task and waits for
// the task to drain them.
func (f *fixture) runCandles(t *testing.T, eval strategy.Evaluator, candles []models.Candle) {
	t.Helper()

	for _, c := range candles {
		f.feed.ch <- c
	}
	close(f.feed.ch)

	done := make(chan error, 1)
	go func() {
		done <- f.trader.Run(context.Background(),
			[]models.CandleSubscription{{Symbol: "BTCUSDT", Timeframe: "15m", Strategy: models.TrendCrossover}},
			func(models.CandleSubscription) (strategy.Evaluator, error) { return eval, nil })
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("trader did not drain the feed")
	}
	f.bus.Wait()
}

func TestLiveRoundTrip(t *testing.T) {
	exec := &stubExecutor{}
	f := newFixture(t, exec, 100)

	var mu sync.Mutex
	var closedTrades []models.Trade
	require.NoError(t, f.bus.Subscribe(events.TopicPositionClosed, func(trade models.Trade) {
		mu.Lock()
		defer mu.Unlock()
		closedTrades = append(closedTrades, trade)
	}))

	// BUY on the third candle (entry 45000, stop 44000), stop breach on
	// the fourth.
	candles := []models.Candle{
		flatCandle(0, 45000, 250),
		flatCandle(1, 45000, 250),
		flatCandle(2, 45000, 250),
		{Symbol: "BTCUSDT", Timeframe: "15m", OpenTime: liveStart.Add(45 * time.Minute),
			Open: 45000, High: 45100, Low: 43900, Close: 44000, Volume: 100},
	}
	f.runCandles(t, &scriptedStrategy{signals: map[int]models.Direction{3: models.BUY}}, candles)

	intents := exec.submitted()
	require.Len(t, intents, 2)
	assert.Equal(t, models.BUY, intents[0].Side)
	assert.InDelta(t, 0.0222, intents[0].Quantity, 1e-9)
	assert.InDelta(t, 44000, intents[0].StopLoss, 1e-9)
	assert.Equal(t, models.SELL, intents[1].Side)

	trades := f.store.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, models.ExitStopLoss, trades[0].ExitReason)
	assert.InDelta(t, 44000, trades[0].ExitPrice, 1e-9)

	// Slot freed after the exit.
	assert.Zero(t, f.pm.OpenPositions("trend-1"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, closedTrades, 1)
	assert.InDelta(t, -22.2, closedTrades[0].Pnl, 1e-9)
}

func TestLiveEntryRejectedByAllocation(t *testing.T) {
	exec := &stubExecutor{}
	// 1% of 10000 caps the strategy at 100, below the ~999 notional.
	f := newFixture(t, exec, 1)

	candles := []models.Candle{
		flatCandle(0, 45000, 250),
		flatCandle(1, 45000, 250),
		flatCandle(2, 45000, 250),
	}
	f.runCandles(t, &scriptedStrategy{signals: map[int]models.Direction{3: models.BUY}}, candles)

	assert.Empty(t, exec.submitted())
	assert.Zero(t, f.pm.OpenPositions("trend-1"))
	assert.Empty(t, f.store.Trades())
}

func TestLiveSubmitFailureFreesSlot(t *testing.T) {
	exec := &stubExecutor{err: errors.New("exchange unavailable")}
	f := newFixture(t, exec, 100)

	candles := []models.Candle{
		flatCandle(0, 45000, 250),
		flatCandle(1, 45000, 250),
		flatCandle(2, 45000, 250),
	}
	f.runCandles(t, &scriptedStrategy{signals: map[int]models.Direction{3: models.BUY}}, candles)

	assert.Zero(t, f.pm.OpenPositions("trend-1"))
	assert.Empty(t, f.store.Trades())
}

func TestLiveCancellationBetweenCandles(t *testing.T) {
	exec := &stubExecutor{}
	f := newFixture(t, exec, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.trader.Run(ctx,
			[]models.CandleSubscription{{Symbol: "BTCUSDT", Timeframe: "15m"}},
			func(models.CandleSubscription) (strategy.Evaluator, error) {
				return &scriptedStrategy{}, nil
			})
	}()

	f.feed.ch <- flatCandle(0, 45000, 250)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("trader did not observe cancellation")
	}
}

func TestLiveDropsOutOfOrderCandles(t *testing.T) {
	exec := &stubExecutor{}
	f := newFixture(t, exec, 100)
	eval := &recordingStrategy{}

	// A reconnect can replay the last closed kline; older bars can arrive
	// late. Neither may enter the evaluation window.
	candles := []models.Candle{
		flatCandle(0, 45000, 250),
		flatCandle(1, 45000, 250),
		flatCandle(1, 45000, 250),
		flatCandle(0, 45000, 250),
		flatCandle(2, 45000, 250),
	}
	f.runCandles(t, eval, candles)

	windows := eval.evaluated()
	require.Len(t, windows, 3)
	for _, w := range windows {
		assert.NoError(t, models.ValidateCandles(w))
	}
	last := windows[len(windows)-1]
	require.Len(t, last, 3)
	assert.Equal(t, liveStart.Add(30*time.Minute), last[2].OpenTime)
}

// flakyFeed serves its channel once, then refuses further subscriptions.
type flakyFeed struct {
	mu    sync.Mutex
	calls int
	ch    chan models.Candle
}

func (f *flakyFeed) Subscribe(context.Context, models.CandleSubscription) (<-chan models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls > 1 {
		return nil, errors.New("stream unavailable")
	}
	return f.ch, nil
}

func TestRunStopsStartedTasksOnSubscribeFailure(t *testing.T) {
	rm, err := risk.NewManager(risk.DefaultConfig(), 10000)
	require.NoError(t, err)
	pm, err := portfolio.NewManager(10000, []models.PortfolioAllocation{
		{StrategyID: "trend-1", AllocationPercent: 100, MaxPositions: 1},
	})
	require.NoError(t, err)

	feed := &flakyFeed{ch: make(chan models.Candle, 1)}
	tr, err := New(Config{History: 100, ATRPeriod: 2}, feed, &stubExecutor{}, rm, pm, events.NewBus(), storage.NewMemoryStore())
	require.NoError(t, err)

	eval := &recordingStrategy{}
	subs := []models.CandleSubscription{
		{Symbol: "BTCUSDT", Timeframe: "15m"},
		{Symbol: "ETHUSDT", Timeframe: "15m"},
	}

	done := make(chan error, 1)
	go func() {
		done <- tr.Run(context.Background(), subs,
			func(models.CandleSubscription) (strategy.Evaluator, error) { return eval, nil })
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after subscribe failure")
	}

	// The first task must have stopped before Run returned; a candle
	// buffered afterwards is never consumed.
	feed.ch <- flatCandle(0, 45000, 250)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, eval.evaluated())
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{History: 0, ATRPeriod: 14}.Validate())
	assert.Error(t, Config{History: 100, ATRPeriod: 0}.Validate())
	assert.NoError(t, Config{History: 100, ATRPeriod: 14}.Validate())
}
