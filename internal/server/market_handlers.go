package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/marketpulse/internal/domain"
	"github.com/aristath/marketpulse/internal/scheduler"
	"github.com/aristath/marketpulse/internal/work"
)

const dailyBarWindow = 90

// handleTickerSearch serves GET /api/tickers/search?q=. The keyword may
// be a code prefix, a Chinese name substring or pinyin initials.
func (s *Server) handleTickerSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, []domain.Ticker{})
		return
	}

	tickers, err := s.deps.Tickers.Search(q, 20)
	if err != nil {
		s.log.Warn().Err(err).Str("q", q).Msg("Ticker search failed")
		writeJSON(w, http.StatusOK, []domain.Ticker{})
		return
	}
	if tickers == nil {
		tickers = []domain.Ticker{}
	}
	writeJSON(w, http.StatusOK, tickers)
}

// handleTickerDaily serves the last 90 bars, oldest first.
func (s *Server) handleTickerDaily(w http.ResponseWriter, r *http.Request) {
	code := domain.CanonicalCode(chi.URLParam(r, "code"))

	bars, err := s.deps.Bars.GetRecent(code, dailyBarWindow)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load daily bars")
		return
	}
	if bars == nil {
		bars = []domain.DailyBar{}
	}
	writeJSON(w, http.StatusOK, bars)
}

// handleTickerCapitalFlow serves trailing money-flow rows ascending.
// Vendor or store trouble degrades to an empty array, never a 5xx.
func (s *Server) handleTickerCapitalFlow(w http.ResponseWriter, r *http.Request) {
	code := domain.CanonicalCode(chi.URLParam(r, "code"))
	days, err := queryAllowed(r, "days", 30, 30, 60)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flows, err := s.deps.Flows.GetRecent(code, days)
	if err != nil {
		s.log.Warn().Err(err).Str("code", code).Msg("Capital flow read failed")
		flows = nil
	}
	if flows == nil {
		flows = []domain.MoneyFlow{}
	}
	writeJSON(w, http.StatusOK, flows)
}

// handleHotSheep serves the enriched top-100 popularity list.
func (s *Server) handleHotSheep(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = domain.HotSourceDongcai
	}
	if source != domain.HotSourceDongcai && source != domain.HotSourceXueqiu {
		writeError(w, http.StatusBadRequest, "unknown hot list source")
		return
	}

	stocks, err := s.deps.Hot.TopEnriched(source, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load hot list")
		return
	}
	writeJSON(w, http.StatusOK, stocks)
}

// handleRefreshHotSheep offloads a hot-rank refresh and acknowledges.
func (s *Server) handleRefreshHotSheep(w http.ResponseWriter, r *http.Request) {
	accepted := s.deps.Worker.Submit(work.Task{
		Name: scheduler.JobHotRank,
		Run: func(ctx context.Context) error {
			return s.deps.Jobs.RunByName(ctx, scheduler.JobHotRank)
		},
	})
	if !accepted {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "already_running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

// handleCapitalInflowRecommend lists tickers with positive main inflow on
// each of the last N trading days.
func (s *Server) handleCapitalInflowRecommend(w http.ResponseWriter, r *http.Request) {
	days, err := queryAllowed(r, "days", 5, 5, 10, 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	codes, err := s.deps.Flows.CodesWithPositiveMainNet(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not rank capital inflow")
		return
	}

	type pick struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	out := make([]pick, 0, len(codes))
	for _, code := range codes {
		name := ""
		if t, err := s.deps.Tickers.GetByCode(code); err == nil && t != nil {
			name = t.Name
		}
		out = append(out, pick{Code: code, Name: name})
	}
	writeJSON(w, http.StatusOK, out)
}
