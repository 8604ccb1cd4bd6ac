// Package api exposes the decision core over HTTP and hosts the
// websocket candle-feed client. The core itself performs no I/O; this
// package is the boundary.
package api

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"quantcore/internal/config"
	"quantcore/internal/events"
	"quantcore/internal/scanner"
	"quantcore/internal/storage"
)

type Server struct {
	listenAddr string
	cfg        config.Config
	store      storage.Store
	scan       *scanner.Scanner
	bus        *events.Bus
	router     *http.ServeMux
}

func NewServer(cfg config.Config, store storage.Store, bus *events.Bus) (*Server, error) {
	scan, err := scanner.New(cfg.Scanner)
	if err != nil {
		return nil, err
	}
	return &Server{
		listenAddr: cfg.Server.ListenAddr,
		cfg:        cfg,
		store:      store,
		scan:       scan,
		bus:        bus,
	}, nil
}

func (s *Server) Run() error {
	log.Infof("server listening on %s", s.listenAddr)
	return http.ListenAndServe(s.listenAddr, s.routes())
}

func (s *Server) routes() http.Handler {
	s.router = http.NewServeMux()

	s.router.HandleFunc("/api/backtest", s.backtestHandler)
	s.router.HandleFunc("/api/scan", s.scanHandler)
	s.router.HandleFunc("/api/strategies", s.strategiesHandler)
	s.router.HandleFunc("/api/health", s.healthHandler)
	s.router.HandleFunc("/api/config", s.configHandler)

	// Chain middlewares here
	return s.recoverPanic(s.logRequest(s.secureHeader(s.router)))
}
