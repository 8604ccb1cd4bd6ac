package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"quantcore/api"
	"quantcore/internal/config"
	"quantcore/internal/events"
	"quantcore/internal/models"
	"quantcore/internal/portfolio"
	"quantcore/internal/risk"
	"quantcore/internal/storage"
	"quantcore/internal/strategy"
	"quantcore/internal/trader"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG"), "path to YAML config file")
	live := flag.Bool("live", false, "run the live evaluation loop alongside the API")
	flag.Parse()

	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	log.SetLevel(cfg.ParseLogLevel())
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	store, err := openStore(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	bus := events.NewBus()
	if *live {
		go func() {
			if err := runLive(context.Background(), cfg, store, bus); err != nil {
				log.WithField("err", err).Error("live loop exited")
			}
		}()
	}

	server, err := api.NewServer(cfg, store, bus)
	if err != nil {
		log.Fatal(err)
	}
	log.Fatal(server.Run())
}

// runLive wires the live evaluation loop: websocket feed in, paper
// executor out. Real order routing replaces paperExecutor behind the
// same interface.
func runLive(ctx context.Context, cfg config.Config, store storage.Store, bus *events.Bus) error {
	rm, err := risk.NewManager(cfg.Risk, cfg.InitialCapital)
	if err != nil {
		return err
	}
	pm, err := portfolio.NewManager(cfg.InitialCapital, cfg.Allocations)
	if err != nil {
		return err
	}

	tr, err := trader.New(
		trader.Config{History: cfg.Universe.History, ATRPeriod: cfg.Scanner.ATRPeriod},
		api.NewStreamFeed(cfg.Feed),
		paperExecutor{},
		rm, pm, bus, store,
	)
	if err != nil {
		return err
	}

	subs := make([]models.CandleSubscription, 0, len(cfg.Universe.Symbols))
	for _, symbol := range cfg.Universe.Symbols {
		subs = append(subs, models.CandleSubscription{
			Symbol:    symbol,
			Timeframe: cfg.Universe.Timeframe,
			Strategy:  cfg.Scanner.DefaultStrategy,
		})
	}
	return tr.Run(ctx, subs, func(sub models.CandleSubscription) (strategy.Evaluator, error) {
		id := string(sub.Strategy) + "-" + sub.Symbol
		return strategy.New(sub.Strategy, id, cfg.Strategy)
	})
}

// paperExecutor accepts every intent and only logs it.
type paperExecutor struct{}

func (paperExecutor) Submit(_ context.Context, intent models.OrderIntent) error {
	log.WithFields(log.Fields{
		"symbol":   intent.Symbol,
		"strategy": intent.StrategyID,
		"side":     intent.Side,
		"quantity": intent.Quantity,
	}).Info("paper: order accepted")
	return nil
}

// openStore picks the persistence backend from the configured DSNs:
// Timescale when available, plain Postgres otherwise, and an in-memory
// store as the zero-setup fallback.
func openStore(cfg config.Config) (storage.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case cfg.Database.TimescaleDSN != "":
		ts, err := storage.NewTimescaleDB(cfg.Database.TimescaleDSN)
		if err != nil {
			return nil, err
		}
		if err := ts.Init(ctx); err != nil {
			return nil, err
		}
		log.Info("storage: timescale backend")
		return ts, nil
	case cfg.Database.PostgresDSN != "":
		pg, err := storage.NewPostgresStore(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Init(ctx); err != nil {
			return nil, err
		}
		log.Info("storage: postgres backend")
		return pg, nil
	default:
		log.Warn("storage: no DSN configured, falling back to in-memory store")
		return storage.NewMemoryStore(), nil
	}
}
