package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/marketpulse/internal/work"
)

// handlePrediction serves GET /api/next-day-prediction. The service layer
// decides between cache and regeneration.
func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	pred, err := s.deps.Predictor.Predict(false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not build prediction")
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// handlePredictionRefresh offloads a forced regeneration.
func (s *Server) handlePredictionRefresh(w http.ResponseWriter, r *http.Request) {
	accepted := s.deps.Worker.Submit(work.Task{
		Name: "next_day_prediction",
		Run: func(ctx context.Context) error {
			_, err := s.deps.Predictor.Predict(true)
			return err
		},
	})
	if !accepted {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "already_running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

type deepAnalysisRequest struct {
	TradeDate string `json:"trade_date"`
}

// handleDeepAnalysis serves POST /api/sheep/{code}/deep-analysis.
func (s *Server) handleDeepAnalysis(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req deepAnalysisRequest
	if r.Body != nil {
		// an empty body means "latest trading day"
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errIsEOF(err) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	report, err := s.deps.Analyzer.Analyze(code, req.TradeDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func errIsEOF(err error) bool {
	return err != nil && strings.Contains(err.Error(), "EOF")
}
