package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/marketpulse/internal/domain"
	"github.com/aristath/marketpulse/internal/modules/sectors"
)

const hotSectorCacheKey = "hot_sectors"

const hotSectorCacheTTL = 10 * time.Minute

// handleSectorDaily serves a board's aggregate rows, oldest first. The
// board name resolves through the virtual-board mapping.
func (s *Server) handleSectorDaily(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := queryInt(r, "limit", 60)

	rows, err := s.deps.Sectors.Daily(name, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load sector history")
		return
	}
	if rows == nil {
		rows = []domain.SectorFlow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleSectorSheep serves a board's member stocks on the latest trading
// day, strongest change first.
func (s *Server) handleSectorSheep(w http.ResponseWriter, r *http.Request) {
	s.sectorStocks(w, r, 0)
}

// handleSectorStocksByChange is the limited variant of the member list.
func (s *Server) handleSectorStocksByChange(w http.ResponseWriter, r *http.Request) {
	s.sectorStocks(w, r, queryInt(r, "limit", 20))
}

func (s *Server) sectorStocks(w http.ResponseWriter, r *http.Request, limit int) {
	name := chi.URLParam(r, "name")

	tradeDate, err := s.deps.Bars.LatestDate()
	if err != nil || tradeDate == "" {
		writeJSON(w, http.StatusOK, []domain.DailyBar{})
		return
	}

	bars, err := s.deps.Sectors.StocksByChange(name, tradeDate, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load sector members")
		return
	}
	if bars == nil {
		bars = []domain.DailyBar{}
	}
	writeJSON(w, http.StatusOK, bars)
}

// handleHotSectors serves the clustered latest-day sector ranking, with a
// short-lived cache in front of the clusterer.
func (s *Server) handleHotSectors(w http.ResponseWriter, r *http.Request) {
	var cached []sectors.ClusteredSector
	if ok, err := s.deps.Cache.GetFresh(hotSectorCacheKey, hotSectorCacheTTL, &cached); err == nil && ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	ranked, err := s.deps.Sectors.HotSectors(10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not rank hot sectors")
		return
	}
	if ranked == nil {
		ranked = []sectors.ClusteredSector{}
	}
	if err := s.deps.Cache.Put(hotSectorCacheKey, ranked); err != nil {
		s.log.Warn().Err(err).Msg("Hot sector cache write failed")
	}
	writeJSON(w, http.StatusOK, ranked)
}

// handleSectorMoneyFlowRecommend serves the cumulative-inflow sector
// ranking, clustered. days ∈ {1,3,5}, limit capped at 30.
func (s *Server) handleSectorMoneyFlowRecommend(w http.ResponseWriter, r *http.Request) {
	days, err := queryAllowed(r, "days", 3, 1, 3, 5)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := queryInt(r, "limit", 10)
	if limit < 1 || limit > 30 {
		limit = 30
	}

	ranked, err := s.deps.Sectors.RecommendByMoneyFlow(days, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not rank sector money flow")
		return
	}
	if ranked == nil {
		ranked = []sectors.ClusteredSector{}
	}
	writeJSON(w, http.StatusOK, ranked)
}
