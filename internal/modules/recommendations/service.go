package recommendations

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/domain"
	"github.com/aristath/marketpulse/internal/modules/alpha"
)

// A pick counts as a success when it closes the five-day holding window
// more than this many percent above entry.
const successReturnPct = 5.0

// verificationWindow is the holding period in trading days.
const verificationWindow = 5

// stopLossATRMultiple places the initial stop under entry by a volatility
// multiple.
const stopLossATRMultiple = 2.0

// BarReader supplies realised bars after the run date.
type BarReader interface {
	GetAfter(code, tradeDate string, limit int) ([]domain.DailyBar, error)
}

// Store is the persistence slice the service drives.
type Store interface {
	SaveBatch(recs []domain.Recommendation) error
	ListByUser(userID, runDate, modelVersion string, limit, offset int) ([]domain.Recommendation, error)
	PendingByUser(userID string) ([]domain.Recommendation, error)
	SetVerification(id int64, status string, maxReturn, finalReturn float64) error
	DeleteByUser(userID string, failedOnly bool) (int64, error)
}

// Service records pipeline picks and lazily verifies them on read.
type Service struct {
	store Store
	bars  BarReader
	log   zerolog.Logger
}

// NewService creates the recommendation service.
func NewService(store Store, bars BarReader, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		bars:  bars,
		log:   log.With().Str("component", "recommendations").Logger(),
	}
}

// Record persists one pipeline run for a user: one row per pick with the
// full parameter snapshot and the strategy version.
func (s *Service) Record(userID, runDate string, params alpha.Params, picks []alpha.ScoredTicker) error {
	if len(picks) == 0 {
		return nil
	}

	snapshot, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params snapshot: %w", err)
	}

	recs := make([]domain.Recommendation, 0, len(picks))
	for _, pick := range picks {
		tags, err := json.Marshal(reasonTags(pick))
		if err != nil {
			return fmt.Errorf("marshal reason tags: %w", err)
		}
		recs = append(recs, domain.Recommendation{
			UserID:         userID,
			RunDate:        runDate,
			Code:           pick.Code,
			Name:           pick.Name,
			ParamsSnapshot: string(snapshot),
			EntryPrice:     pick.Close,
			StopLossPrice:  stopLoss(pick),
			AIScore:        pick.TotalScore,
			WinProbability: float64(pick.WinProbability),
			ReasonTags:     string(tags),
			Version:        params.ModelVersion,
			Verification:   domain.VerificationPending,
		})
	}
	return s.store.SaveBatch(recs)
}

// History lists a user's recommendations after verifying any pending rows
// whose holding window has since closed.
func (s *Service) History(userID, runDate, modelVersion string, limit, offset int) ([]domain.Recommendation, error) {
	if err := s.verifyPending(userID); err != nil {
		// history remains readable even when verification cannot run
		s.log.Warn().Err(err).Str("user", userID).Msg("Recommendation verification failed")
	}
	return s.store.ListByUser(userID, runDate, modelVersion, limit, offset)
}

// Clear removes a user's history, optionally only the failed picks.
func (s *Service) Clear(userID string, failedOnly bool) (int64, error) {
	return s.store.DeleteByUser(userID, failedOnly)
}

// verifyPending settles every pending row with a closed holding window:
// five realised bars after the run date decide success or failure.
func (s *Service) verifyPending(userID string) error {
	pending, err := s.store.PendingByUser(userID)
	if err != nil {
		return err
	}

	verified := 0
	for _, rec := range pending {
		future, err := s.bars.GetAfter(rec.Code, rec.RunDate, verificationWindow)
		if err != nil {
			return fmt.Errorf("load outcome bars for %s: %w", rec.Code, err)
		}
		if len(future) < verificationWindow || rec.EntryPrice <= 0 {
			continue // window still open
		}

		maxHigh := future[0].High
		for _, bar := range future {
			if bar.High > maxHigh {
				maxHigh = bar.High
			}
		}
		finalClose := future[len(future)-1].Close

		maxReturn := (maxHigh - rec.EntryPrice) / rec.EntryPrice * 100
		finalReturn := (finalClose - rec.EntryPrice) / rec.EntryPrice * 100

		status := domain.VerificationFail
		if finalReturn > successReturnPct {
			status = domain.VerificationSuccess
		}
		if err := s.store.SetVerification(rec.ID, status, maxReturn, finalReturn); err != nil {
			return err
		}
		verified++
	}

	if verified > 0 {
		s.log.Info().Str("user", userID).Int("rows", verified).Msg("Verified recommendations")
	}
	return nil
}

// stopLoss places the initial stop two ATRs under entry, floored at zero.
func stopLoss(pick alpha.ScoredTicker) float64 {
	stop := pick.Close - stopLossATRMultiple*pick.ATR
	if stop < 0 {
		stop = 0
	}
	return stop
}

// reasonTags names the sub-scores that drove the pick.
func reasonTags(pick alpha.ScoredTicker) []string {
	var tags []string
	if pick.ExplosionScore > 0 {
		tags = append(tags, "volume_burst")
	}
	if pick.StructureScore > 0 {
		tags = append(tags, "trend_structure")
	}
	if pick.SectorScore > 0 {
		tags = append(tags, "sector_resonance")
	}
	if pick.WinProbability >= 70 {
		tags = append(tags, "high_win_probability")
	}
	if len(tags) == 0 {
		tags = append(tags, "composite")
	}
	return tags
}
