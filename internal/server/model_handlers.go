package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/marketpulse/internal/domain"
	"github.com/aristath/marketpulse/internal/modules/alpha"
)

// Request-scoped budgets for the heavy model routes, widening with span.
const (
	shortRunTimeout  = 5 * time.Minute
	mediumRunTimeout = 7*time.Minute + 30*time.Second
	longRunTimeout   = 10 * time.Minute
)

// handleDefaultParams serves GET /api/model-k/default-params.
func (s *Server) handleDefaultParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, alpha.DefaultParams())
}

type backtestRequest struct {
	StartDate string       `json:"start_date"`
	EndDate   string       `json:"end_date"`
	Params    alpha.Params `json:"params"`
	TopN      int          `json:"top_n"`
}

// handleBacktest serves POST /api/model-k/backtest. Spans over six months
// are rejected with a 400 before any work starts.
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), spanTimeout(req.StartDate, req.EndDate))
	defer cancel()

	result, err := s.deps.Backtester.Run(ctx, req.StartDate, req.EndDate, req.Params, req.TopN)
	if err != nil {
		if errors.Is(err, alpha.ErrSpanTooLong) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "backtest timed out")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type recommendRequest struct {
	TradeDate string       `json:"trade_date"`
	Params    alpha.Params `json:"params"`
	TopN      int          `json:"top_n"`
}

// handleRecommend serves POST /api/model-k/recommend: one funnel run,
// persisted into the caller's history.
func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tradeDate := req.TradeDate
	if tradeDate == "" {
		latest, err := s.deps.Bars.LatestDate()
		if err != nil || latest == "" {
			writeError(w, http.StatusServiceUnavailable, "no market data available")
			return
		}
		tradeDate = latest
	}

	ctx, cancel := context.WithTimeout(r.Context(), shortRunTimeout)
	defer cancel()

	result, err := s.deps.Pipeline.Run(ctx, tradeDate, req.Params, req.TopN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "recommendation pipeline failed")
		return
	}

	if len(result.Recommendations) > 0 {
		params := req.Params.Normalize()
		if err := s.deps.Recommendations.Record(userID(r), tradeDate, params, result.Recommendations); err != nil {
			// history is best-effort; the caller still gets the picks
			s.log.Warn().Err(err).Msg("Could not persist recommendations")
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// handleHistory serves GET /api/model-k/history with optional run_date
// and model_version filters. Reading triggers verification of closed
// five-day windows.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	recs, err := s.deps.Recommendations.History(
		userID(r), q.Get("run_date"), q.Get("model_version"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	if recs == nil {
		recs = []domain.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleClearHistory serves DELETE /api/model-k/history?failed_only=.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	failedOnly := r.URL.Query().Get("failed_only") == "true"

	removed, err := s.deps.Recommendations.Clear(userID(r), failedOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not clear history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// spanTimeout widens the request budget with the requested span.
func spanTimeout(startDate, endDate string) time.Duration {
	start, err1 := time.Parse("2006-01-02", startDate)
	end, err2 := time.Parse("2006-01-02", endDate)
	if err1 != nil || err2 != nil {
		return shortRunTimeout
	}
	days := int(end.Sub(start).Hours() / 24)
	switch {
	case days <= 30:
		return shortRunTimeout
	case days <= 90:
		return mediumRunTimeout
	default:
		return longRunTimeout
	}
}
