package alpha

import (
	"sort"
)

// ScoredTicker is one surviving feature with its composite score and
// refinement verdict.
type ScoredTicker struct {
	Feature
	ExplosionScore float64 `json:"explosion_score"`
	StructureScore float64 `json:"structure_score"`
	SectorScore    float64 `json:"sector_score"`
	TotalScore     float64 `json:"total_score"`
	WinProbability int     `json:"win_probability"`
}

// scoreFeatures runs Level 3: three additive sub-scores weighted into a
// composite, then the model-specific multiplicative adjustments. Output is
// sorted by total descending.
func scoreFeatures(features []Feature, params Params, regime RegimeInfo) []ScoredTicker {
	medianVCP := medianOf(features, func(f Feature) float64 { return f.VCPFactor })

	out := make([]ScoredTicker, 0, len(features))
	for _, f := range features {
		s := ScoredTicker{Feature: f}

		// Explosion: volume burst, all or nothing.
		if f.VolRatioMA20 >= params.VolScoreThreshold {
			s.ExplosionScore = 50
		}

		// Structure: trend strength plus basing tightness against the
		// day's median contraction.
		if rpsAbove(f, params.RPSScoreThreshold) {
			s.StructureScore = 30
		}
		if medianVCP > 0 && f.VCPFactor < medianVCP {
			s.StructureScore += 20 * (medianVCP - f.VCPFactor) / medianVCP
		}

		if params.SectorBoost {
			s.SectorScore = f.ResonanceScore
		}

		total := params.WeightTech*s.ExplosionScore +
			params.WeightTrend*s.StructureScore +
			params.WeightHot*s.SectorScore

		boarded := f.IsSTARMarket || f.IsGEM
		switch params.ModelVersion {
		case ModelT4:
			if boarded {
				total *= params.GemStarWeightBoost
			}
		case ModelT6, ModelT7:
			if boarded && f.Close > 0 {
				total *= 1 + regimeElasticity(regime.Regime)*(f.ATR/f.Close)
			}
			if f.TurnoverRate > 20 && f.ChangePct < limitGate(f) && f.UpperShadowRatio > 0.4 {
				total -= 50
			}
		}

		s.TotalScore = total
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalScore > out[j].TotalScore })
	return out
}

func regimeElasticity(regime string) float64 {
	switch regime {
	case RegimeAttack:
		return 0.15
	case RegimeDefense:
		return -0.15
	default:
		return 0
	}
}

func limitGate(f Feature) float64 {
	if f.IsSTARMarket || f.IsGEM {
		return 19.95
	}
	return 9.95
}

func medianOf(features []Feature, key func(Feature) float64) float64 {
	if len(features) == 0 {
		return 0
	}
	values := make([]float64, len(features))
	for i, f := range features {
		values[i] = key(f)
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}
