// Package config loads the service configuration from YAML with
// environment overrides. Validation runs before any computation starts;
// a malformed config never reaches the decision core.
package config

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"quantcore/internal/models"
	"quantcore/internal/risk"
	"quantcore/internal/scanner"
	"quantcore/internal/strategy"
)

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Feed     FeedConfig     `yaml:"feed"`
	Universe UniverseConfig `yaml:"universe"`

	InitialCapital float64 `yaml:"initial_capital"`
	CommissionRate float64 `yaml:"commission_rate"`
	SlippageRate   float64 `yaml:"slippage_rate"`

	Scanner     scanner.Config               `yaml:"scanner"`
	Risk        risk.Config                  `yaml:"risk"`
	Strategy    strategy.Config              `yaml:"strategy"`
	Allocations []models.PortfolioAllocation `yaml:"allocations"`

	LogLevel string `yaml:"log_level"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type DatabaseConfig struct {
	PostgresDSN  string `yaml:"postgres_dsn"`
	TimescaleDSN string `yaml:"timescale_dsn"`
}

// FeedConfig bounds the websocket reconnect policy; the retry budget is
// explicit configuration, never an unbounded loop.
type FeedConfig struct {
	URL            string        `yaml:"url"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	ReadLimitBytes int64         `yaml:"read_limit_bytes"`
}

type UniverseConfig struct {
	Symbols   []string `yaml:"symbols"`
	Timeframe string   `yaml:"timeframe"`
	// History is the candle window kept per symbol for evaluation.
	History int `yaml:"history"`
}

// Default returns a fully valid configuration with product defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{ListenAddr: ":4000"},
		Feed: FeedConfig{
			URL:            "wss://stream.binance.com:9443/stream?streams=",
			MaxReconnects:  10,
			BackoffBase:    time.Second,
			ReadLimitBytes: 65536,
		},
		Universe: UniverseConfig{
			Symbols:   []string{"BTCUSDT", "ETHUSDT"},
			Timeframe: "15m",
			History:   500,
		},
		InitialCapital: 10000,
		CommissionRate: 0.001,
		Scanner:        scanner.DefaultConfig(),
		Risk:           risk.DefaultConfig(),
		Strategy:       strategy.DefaultConfig(),
		LogLevel:       "info",
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.PostgresDSN = dsn
	}
	if dsn := os.Getenv("TIMESCALE_URL"); dsn != "" {
		cfg.Database.TimescaleDSN = dsn
	}
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects malformed configuration before any component starts.
func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return &models.ConfigurationError{Field: "server.listen_addr", Reason: "required"}
	}
	if c.InitialCapital <= 0 {
		return &models.ConfigurationError{Field: "initial_capital", Reason: "must be positive"}
	}
	if c.CommissionRate < 0 {
		return &models.ConfigurationError{Field: "commission_rate", Reason: "must not be negative"}
	}
	if c.SlippageRate < 0 {
		return &models.ConfigurationError{Field: "slippage_rate", Reason: "must not be negative"}
	}
	if len(c.Universe.Symbols) == 0 {
		return &models.ConfigurationError{Field: "universe.symbols", Reason: "at least one symbol required"}
	}
	if c.Universe.Timeframe == "" {
		return &models.ConfigurationError{Field: "universe.timeframe", Reason: "required"}
	}
	if c.Universe.History <= 0 {
		return &models.ConfigurationError{Field: "universe.history", Reason: "must be positive"}
	}
	if c.Feed.MaxReconnects <= 0 {
		return &models.ConfigurationError{Field: "feed.max_reconnects", Reason: "must be positive"}
	}
	if c.Feed.BackoffBase <= 0 {
		return &models.ConfigurationError{Field: "feed.backoff_base", Reason: "must be positive"}
	}
	if err := c.Scanner.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	total := 0.0
	for _, a := range c.Allocations {
		total += a.AllocationPercent
	}
	if total > 100 {
		return &models.ConfigurationError{Field: "allocations", Reason: fmt.Sprintf("sum %.2f above 100", total)}
	}
	return nil
}

// ParseLogLevel maps the configured level onto logrus, defaulting to
// info on unknown values.
func (c Config) ParseLogLevel() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
