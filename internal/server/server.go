// Package server exposes the analytics core over HTTP: market queries,
// sector boards, the hot list, the model-K funnel, predictions and the
// operational surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the HTTP front of the analytics core.
type Server struct {
	router *chi.Mux
	server *http.Server
	deps   Deps
	log    zerolog.Logger
}

// New builds the server and its routing table.
func New(deps Deps, port int, log zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		log:    log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute, // backtests run long
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router exposes the mux, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/tickers/search", s.handleTickerSearch)
		r.Get("/tickers/{code}/daily", s.handleTickerDaily)
		r.Get("/tickers/{code}/capital-flow", s.handleTickerCapitalFlow)

		r.Get("/sectors/{name}/daily", s.handleSectorDaily)
		r.Get("/sectors/{name}/sheep", s.handleSectorSheep)
		r.Get("/sectors/{name}/stocks-by-change", s.handleSectorStocksByChange)

		r.Get("/hot-sheep", s.handleHotSheep)
		r.Get("/hot-sectors", s.handleHotSectors)
		r.Post("/refresh-hot-sheep", s.handleRefreshHotSheep)

		r.Get("/capital-inflow/recommend", s.handleCapitalInflowRecommend)
		r.Get("/sector-money-flow/recommend", s.handleSectorMoneyFlowRecommend)

		r.Get("/model-k/default-params", s.handleDefaultParams)
		r.Post("/model-k/backtest", s.handleBacktest)
		r.Post("/model-k/recommend", s.handleRecommend)
		r.Get("/model-k/history", s.handleHistory)
		r.Delete("/model-k/history", s.handleClearHistory)

		r.Post("/sheep/{code}/deep-analysis", s.handleDeepAnalysis)
		r.Get("/next-day-prediction", s.handlePrediction)
		r.Post("/next-day-prediction/refresh", s.handlePredictionRefresh)

		r.Get("/system/status", s.handleSystemStatus)
		r.Get("/system/database/stats", s.handleDatabaseStats)
		r.Get("/system/jobs", s.handleJobList)
		r.Post("/system/jobs/{name}", s.handleJobTrigger)

		r.Get("/events/ws", s.handleEventsWS)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// websocket upgrades hold the connection open, skip the access line
		if r.URL.Path == "/api/events/ws" {
			return
		}
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request")
	})
}

// userID scopes recommendation history per caller. The system is
// single-tenant by default; a reverse proxy can inject the header.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "default"
}
