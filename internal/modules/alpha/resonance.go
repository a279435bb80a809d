package alpha

// Resonance adjustments. The bonus rewards tickers moving with a hot
// sector; the penalty suspects a solo rally in a dead one.
const (
	mainLineBonus       = 40.0
	peerValidationBonus = 30.0
	soloRallyPenalty    = 50.0
)

// applyResonance groups Level-1 rows by industry label and writes the
// sector aggregate columns plus the per-ticker resonance score in place.
func applyResonance(features []Feature) {
	type group struct {
		sum, max float64
		hot      int
		count    int
	}
	groups := make(map[string]*group)

	label := func(f Feature) string {
		if f.Industry == "" {
			return "unknown"
		}
		return f.Industry
	}

	for _, f := range features {
		g, ok := groups[label(f)]
		if !ok {
			g = &group{max: f.ChangePct}
			groups[label(f)] = g
		}
		g.sum += f.ChangePct
		if f.ChangePct > g.max {
			g.max = f.ChangePct
		}
		if f.ChangePct > 3.0 {
			g.hot++
		}
		g.count++
	}

	for i := range features {
		g := groups[label(features[i])]
		avg := g.sum / float64(g.count)
		breadth := float64(g.hot) / float64(g.count)

		features[i].SectorAvgChg = avg
		features[i].SectorBreadth = breadth
		features[i].SectorMaxChg = g.max

		score := 0.0
		if avg > 1.5 && breadth > 0.20 {
			score += mainLineBonus
		}
		if g.max > 9.8 && features[i].ChangePct < 9.8 {
			score += peerValidationBonus
		}
		if features[i].ChangePct > 6.0 && avg < 0.5 {
			score -= soloRallyPenalty
		}
		features[i].ResonanceScore = score
	}
}
