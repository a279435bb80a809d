package alpha

import (
	"strings"
	"time"

	"github.com/aristath/marketpulse/internal/domain"
)

// FilterStats counts pass/fail per rule for the diagnostics payload.
type FilterStats map[string]int

// applyFilters runs the Level-2 hard-constraint funnel. Rules run in
// order; a feature must clear every rule to survive.
func applyFilters(features []Feature, params Params, regime RegimeInfo, tradeDate string) ([]Feature, FilterStats) {
	stats := make(FilterStats)
	out := make([]Feature, 0, len(features))

	for _, f := range features {
		if rule := rejectReason(f, params, regime, tradeDate); rule != "" {
			stats[rule]++
			continue
		}
		stats["passed"]++
		out = append(out, f)
	}
	return out, stats
}

func rejectReason(f Feature, params Params, regime RegimeInfo, tradeDate string) string {
	regimeAware := params.regimeAware()

	// Momentum gate, swapped per regime for T6/T7.
	switch {
	case regimeAware && regime.Regime == RegimeAttack:
		if f.ChangePct < 3.0 || f.ChangePct > 9.0 {
			return "change_pct"
		}
		if f.ResonanceScore <= 0 && !rpsAbove(f, 85.0) {
			return "attack_preselect"
		}
	case regimeAware && regime.Regime == RegimeDefense:
		if f.ChangePct > 4.0 {
			return "change_pct"
		}
		if !(f.Bias20 < -8.0 || f.RSI6 < 25.0) {
			return "defense_oversold"
		}
		if f.Close > 0 && f.ATR/f.Close > 0.05 {
			return "defense_volatility"
		}
	default:
		if f.ChangePct < params.MinChangePct {
			return "change_pct"
		}
	}

	if f.VolRatioMA20 <= params.VolRatioMA20Threshold {
		return "vol_ratio"
	}
	if f.UpperShadowRatio > params.MaxUpperShadowRatio {
		return "upper_shadow"
	}

	support := f.MA20
	if params.SupportMA == 60 {
		support = f.MA60
	}
	if f.Close < support {
		return "below_support_ma"
	}

	if !listingOldEnough(f.ListDate, tradeDate, params.MinListingAgeDays) {
		return "listing_age"
	}
	if strings.Contains(f.Name, "ST") {
		return "st_risk"
	}
	if f.ChangePct >= domain.LimitUpThreshold(f.Code) {
		return "limit_up"
	}

	// VWAP veto for regime-aware models: a close under the session VWAP
	// implies afternoon distribution.
	if regimeAware && f.Close < f.VWAP {
		return "vwap_veto"
	}

	return ""
}

func rpsAbove(f Feature, threshold float64) bool {
	return f.RPS250 != nil && *f.RPS250 > threshold
}

// listingOldEnough checks the calendar age of a listing. NULL list dates
// pass: unknown age is not a reason to reject.
func listingOldEnough(listDate *string, tradeDate string, minDays int) bool {
	if listDate == nil || *listDate == "" {
		return true
	}
	listed, err := time.Parse("2006-01-02", *listDate)
	if err != nil {
		return true
	}
	day, err := time.Parse("2006-01-02", tradeDate)
	if err != nil {
		return true
	}
	return day.Sub(listed) >= time.Duration(minDays)*24*time.Hour
}
