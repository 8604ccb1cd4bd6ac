// Package scanner ranks a universe of symbols by a composite indicator
// score and recommends a strategy per candidate. Scanning only reads
// candle history; it never touches position state.
package scanner

import (
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"quantcore/internal/indicator"
	"quantcore/internal/models"
)

// Config holds the scoring weights, normalization scales and
// recommendation thresholds. All values are configuration defaults, not
// hardcoded invariants.
type Config struct {
	TopN int `yaml:"top_n" json:"top_n"`

	TrendWeight      float64 `yaml:"trend_weight" json:"trend_weight"`
	VolatilityWeight float64 `yaml:"volatility_weight" json:"volatility_weight"`
	MomentumWeight   float64 `yaml:"momentum_weight" json:"momentum_weight"`
	VolumeWeight     float64 `yaml:"volume_weight" json:"volume_weight"`

	ADXPeriod    int `yaml:"adx_period" json:"adx_period"`
	ATRPeriod    int `yaml:"atr_period" json:"atr_period"`
	RSIPeriod    int `yaml:"rsi_period" json:"rsi_period"`
	VolumePeriod int `yaml:"volume_period" json:"volume_period"`

	// Normalization scales mapping raw indicator readings onto [0,1].
	ADXScale         float64 `yaml:"adx_scale" json:"adx_scale"`
	ATRPctScale      float64 `yaml:"atr_pct_scale" json:"atr_pct_scale"`
	VolumeRatioScale float64 `yaml:"volume_ratio_scale" json:"volume_ratio_scale"`

	// Recommendation thresholds.
	TrendThreshold  float64             `yaml:"trend_threshold" json:"trend_threshold"`
	VolatilityFloor float64             `yaml:"volatility_floor" json:"volatility_floor"`
	RSIExtremeLow   float64             `yaml:"rsi_extreme_low" json:"rsi_extreme_low"`
	RSIExtremeHigh  float64             `yaml:"rsi_extreme_high" json:"rsi_extreme_high"`
	DefaultStrategy models.StrategyType `yaml:"default_strategy" json:"default_strategy"`
}

// DefaultConfig returns the product-default scanner configuration.
func DefaultConfig() Config {
	return Config{
		TopN:             10,
		TrendWeight:      0.30,
		VolatilityWeight: 0.20,
		MomentumWeight:   0.25,
		VolumeWeight:     0.25,
		ADXPeriod:        14,
		ATRPeriod:        14,
		RSIPeriod:        14,
		VolumePeriod:     20,
		ADXScale:         50,
		ATRPctScale:      0.05,
		VolumeRatioScale: 2.0,
		TrendThreshold:   0.7,
		VolatilityFloor:  0.3,
		RSIExtremeLow:    35,
		RSIExtremeHigh:   65,
		DefaultStrategy:  models.TrendCrossover,
	}
}

func (c Config) Validate() error {
	if c.TopN <= 0 {
		return &models.ConfigurationError{Field: "scanner.top_n", Reason: "must be positive"}
	}
	if c.ADXPeriod <= 0 || c.ATRPeriod <= 0 || c.RSIPeriod <= 0 || c.VolumePeriod <= 0 {
		return &models.ConfigurationError{Field: "scanner", Reason: "periods must be positive"}
	}
	if c.ADXScale <= 0 || c.ATRPctScale <= 0 || c.VolumeRatioScale <= 0 {
		return &models.ConfigurationError{Field: "scanner", Reason: "normalization scales must be positive"}
	}
	if err := c.DefaultStrategy.Validate(); err != nil {
		return &models.ConfigurationError{Field: "scanner.default_strategy", Reason: err.Error()}
	}
	return nil
}

// Entry is one symbol of the scan universe with its recent history.
type Entry struct {
	Symbol  string
	Candles []models.Candle
}

// Result is one ranked candidate.
type Result struct {
	Symbol          string              `json:"symbol"`
	Score           float64             `json:"score"`
	TrendScore      float64             `json:"trend_score"`
	VolatilityScore float64             `json:"volatility_score"`
	MomentumScore   float64             `json:"momentum_score"`
	VolumeScore     float64             `json:"volume_score"`
	Volume24h       float64             `json:"volume_24h"`
	Recommended     models.StrategyType `json:"recommended_strategy"`
	Snapshot        indicator.Snapshot  `json:"snapshot"`
}

// Skip records a symbol excluded from one scan cycle.
type Skip struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// Scanner scores symbols from candle history alone.
type Scanner struct {
	cfg Config
}

func New(cfg Config) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scanner{cfg: cfg}, nil
}

// Scan scores every entry, ranks descending by score with ties broken by
// higher 24h volume, and returns the top-N candidates. Per-symbol errors
// (data gaps, short history) skip that symbol only; they never halt the
// scan.
func (s *Scanner) Scan(universe []Entry) ([]Result, []Skip) {
	results := make([]Result, 0, len(universe))
	var skipped []Skip

	for _, entry := range universe {
		res, err := s.evaluate(entry)
		if err != nil {
			log.WithFields(log.Fields{"symbol": entry.Symbol, "reason": err.Error()}).
				Warn("scanner: symbol skipped")
			skipped = append(skipped, Skip{Symbol: entry.Symbol, Reason: err.Error()})
			continue
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Volume24h != results[j].Volume24h {
			return results[i].Volume24h > results[j].Volume24h
		}
		return results[i].Symbol < results[j].Symbol
	})

	if len(results) > s.cfg.TopN {
		results = results[:s.cfg.TopN]
	}
	return results, skipped
}

func (s *Scanner) evaluate(entry Entry) (Result, error) {
	if err := models.ValidateCandles(entry.Candles); err != nil {
		return Result{}, err
	}

	adx, err := indicator.ADX(entry.Candles, s.cfg.ADXPeriod)
	if err != nil {
		return Result{}, err
	}
	atr, err := indicator.ATR(entry.Candles, s.cfg.ATRPeriod)
	if err != nil {
		return Result{}, err
	}
	rsi, err := indicator.RSI(models.Closes(entry.Candles), s.cfg.RSIPeriod)
	if err != nil {
		return Result{}, err
	}
	volAvg, err := indicator.SMA(models.Volumes(entry.Candles), s.cfg.VolumePeriod)
	if err != nil {
		return Result{}, err
	}

	last := entry.Candles[len(entry.Candles)-1]

	trendScore := clamp01(adx.Last() / s.cfg.ADXScale)

	atrPct := 0.0
	if last.Close > 0 {
		atrPct = atr.Last() / last.Close
	}
	volatilityScore := clamp01(atrPct / s.cfg.ATRPctScale)

	momentumScore := clamp01(abs(rsi.Last()-50) / 50)

	volumeRatio := 0.0
	if volAvg.Last() > 0 {
		volumeRatio = last.Volume / volAvg.Last()
	}
	volumeScore := clamp01(volumeRatio / s.cfg.VolumeRatioScale)

	score := s.cfg.TrendWeight*trendScore +
		s.cfg.VolatilityWeight*volatilityScore +
		s.cfg.MomentumWeight*momentumScore +
		s.cfg.VolumeWeight*volumeScore

	return Result{
		Symbol:          entry.Symbol,
		Score:           score,
		TrendScore:      trendScore,
		VolatilityScore: volatilityScore,
		MomentumScore:   momentumScore,
		VolumeScore:     volumeScore,
		Volume24h:       volume24h(entry.Candles),
		Recommended:     s.recommend(trendScore, volatilityScore, rsi.Last()),
		Snapshot: indicator.Snapshot{
			"adx":          adx.Last(),
			"atr":          atr.Last(),
			"rsi":          rsi.Last(),
			"volume_ratio": volumeRatio,
		},
	}, nil
}

// recommend maps sub-scores onto a strategy with deterministic threshold
// rules, falling back to the configured default.
func (s *Scanner) recommend(trendScore, volatilityScore, rsi float64) models.StrategyType {
	switch {
	case trendScore > s.cfg.TrendThreshold:
		return models.TrendCrossover
	case volatilityScore < s.cfg.VolatilityFloor:
		return models.VolatilityBreakout
	case rsi < s.cfg.RSIExtremeLow || rsi > s.cfg.RSIExtremeHigh:
		return models.MeanReversion
	}
	return s.cfg.DefaultStrategy
}

// volume24h sums candle volume over the trailing 24 hours of the window.
func volume24h(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	cutoff := candles[len(candles)-1].OpenTime.Add(-24 * time.Hour)
	total := 0.0
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].OpenTime.Before(cutoff) {
			break
		}
		total += candles[i].Volume
	}
	return total
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
