package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"quantcore/internal/backtest"
	"quantcore/internal/events"
	"quantcore/internal/models"
	"quantcore/internal/risk"
	"quantcore/internal/scanner"
	"quantcore/internal/strategy"
)

func (s *Server) backtestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.clientError(w, http.StatusMethodNotAllowed)
		return
	}

	req := &models.BacktestRequest{}
	if err := readJSON(r, req); err != nil {
		s.backtestFailure(w, http.StatusBadRequest, err)
		return
	}
	if req.Timeframe == "" {
		req.Timeframe = s.cfg.Universe.Timeframe
	}
	if req.StrategyID == "" {
		req.StrategyID = "backtest-" + string(req.StrategyType)
	}

	eval, err := strategy.New(req.StrategyType, req.StrategyID, s.cfg.Strategy)
	if err != nil {
		s.backtestFailure(w, http.StatusBadRequest, err)
		return
	}

	btCfg := models.BacktestConfig{
		Symbol:           req.Symbol,
		Timeframe:        req.Timeframe,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		InitialCapital:   req.InitialCapital,
		CommissionRate:   s.cfg.CommissionRate,
		SlippageRate:     s.cfg.SlippageRate,
		StopMultiplier:   s.cfg.Risk.StopMultiplier,
		TargetMultiplier: s.cfg.Risk.TargetMultiplier,
		ATRPeriod:        s.cfg.Scanner.ATRPeriod,
	}
	if err := btCfg.Validate(); err != nil {
		s.backtestFailure(w, http.StatusBadRequest, err)
		return
	}

	candles, err := s.store.Candles(r.Context(), req.Symbol, req.Timeframe, req.StartDate, req.EndDate)
	if err != nil {
		s.serverError(w, err)
		return
	}

	rm, err := risk.NewManager(s.cfg.Risk, req.InitialCapital)
	if err != nil {
		s.backtestFailure(w, http.StatusBadRequest, err)
		return
	}
	eng, err := backtest.NewEngine(btCfg, eval, rm)
	if err != nil {
		s.backtestFailure(w, http.StatusBadRequest, err)
		return
	}

	res, err := eng.Run(r.Context(), candles)
	if err != nil {
		var rerr *models.ReplayError
		if errors.As(err, &rerr) {
			s.backtestFailure(w, http.StatusBadRequest, err)
			return
		}
		s.serverError(w, err)
		return
	}

	if err := s.store.SaveBacktestResult(r.Context(), uuid.New(), *req, res); err != nil {
		log.WithField("err", err).Error("api: backtest result persist failed")
	}
	s.bus.Publish(events.TopicBacktestComplete, *res)

	if err := WriteJSON(w, http.StatusOK, models.BacktestResponse{Success: true, Results: res}); err != nil {
		s.serverError(w, err)
	}
}

func (s *Server) backtestFailure(w http.ResponseWriter, status int, err error) {
	if werr := WriteJSON(w, status, models.BacktestResponse{Success: false, Error: err.Error()}); werr != nil {
		s.serverError(w, werr)
	}
}

// scanResponse pairs the ranked candidates with the skipped symbols so
// callers can tell "filtered out" from "errored".
type scanResponse struct {
	Results []scanner.Result `json:"results"`
	Skipped []scanner.Skip   `json:"skipped,omitempty"`
}

func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.clientError(w, http.StatusMethodNotAllowed)
		return
	}

	end := time.Now().UTC().Add(time.Hour)
	universe := make([]scanner.Entry, 0, len(s.cfg.Universe.Symbols))
	for _, symbol := range s.cfg.Universe.Symbols {
		candles, err := s.store.Candles(r.Context(), symbol, s.cfg.Universe.Timeframe, time.Time{}, end)
		if err != nil {
			s.serverError(w, err)
			return
		}
		if n := s.cfg.Universe.History; len(candles) > n {
			candles = candles[len(candles)-n:]
		}
		universe = append(universe, scanner.Entry{Symbol: symbol, Candles: candles})
	}

	results, skipped := s.scan.Scan(universe)
	if results == nil {
		results = []scanner.Result{}
	}
	s.bus.Publish(events.TopicScanComplete, results)
	if err := WriteJSON(w, http.StatusOK, scanResponse{Results: results, Skipped: skipped}); err != nil {
		s.serverError(w, err)
	}
}

func (s *Server) strategiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.clientError(w, http.StatusMethodNotAllowed)
		return
	}

	resp := struct {
		Types    []models.StrategyType `json:"types"`
		Defaults strategy.Config       `json:"defaults"`
	}{
		Types:    strategy.Types(),
		Defaults: s.cfg.Strategy,
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		s.serverError(w, err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.clientError(w, http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		s.serverError(w, err)
	}
}

// configHandler reports the running configuration with credentials
// stripped.
func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.clientError(w, http.StatusMethodNotAllowed)
		return
	}
	sanitized := s.cfg
	sanitized.Database.PostgresDSN = ""
	sanitized.Database.TimescaleDSN = ""
	if err := WriteJSON(w, http.StatusOK, sanitized); err != nil {
		s.serverError(w, err)
	}
}
