package alpha

// Win-probability buckets. The heuristic separates healthy accumulation
// (moderate turnover, confirmed volume, tight base) from everything else.
const (
	winProbHigh = 70
	winProbLow  = 40
)

// refine runs Level 4: assign the heuristic win probability and, when the
// ai_filter switch is on, keep only the high-probability bucket with a
// graceful fallback when that empties the set.
func refine(scored []ScoredTicker, params Params) []ScoredTicker {
	for i := range scored {
		scored[i].WinProbability = winProbability(scored[i].Feature)
	}
	if !params.AIFilter {
		return scored
	}

	kept := keepAbove(scored, 60)
	if len(kept) == 0 {
		kept = keepAbove(scored, 50)
	}
	return kept
}

func winProbability(f Feature) int {
	if f.TurnoverRate > 1 && f.TurnoverRate < 20 &&
		f.VolRatioMA20 >= 1.5 &&
		f.VCPFactor < 0.3 {
		return winProbHigh
	}
	return winProbLow
}

func keepAbove(scored []ScoredTicker, minProb int) []ScoredTicker {
	out := make([]ScoredTicker, 0, len(scored))
	for _, s := range scored {
		if s.WinProbability >= minProb {
			out = append(out, s)
		}
	}
	return out
}
