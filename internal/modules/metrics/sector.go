package metrics

import (
	"fmt"
	"sort"

	"github.com/aristath/marketpulse/internal/domain"
)

// Sector RPS horizons, in trading days.
const (
	sectorRPSShort = 20
	sectorRPSLong  = 50
)

// RecomputeSectorDay rewrites the per-sector derived columns for every
// sector with a row on the target day: reconstructed aggregates, the
// 20/50-day relative-strength percentiles and the MA trend status.
func (e *Engine) RecomputeSectorDay(tradeDate string) error {
	sectorRows, err := e.sectors.GetByDate(tradeDate)
	if err != nil {
		return fmt.Errorf("load sector rows on %s: %w", tradeDate, err)
	}
	if len(sectorRows) == 0 {
		e.log.Debug().Str("date", tradeDate).Msg("No sector rows on day, skipping sector metrics")
		return nil
	}

	for i := range sectorRows {
		if err := e.fillSectorAggregates(&sectorRows[i]); err != nil {
			return err
		}
	}

	returns20 := make(map[string]float64, len(sectorRows))
	returns50 := make(map[string]float64, len(sectorRows))
	maStatus := make(map[string]int, len(sectorRows))

	for _, row := range sectorRows {
		history, err := e.sectors.GetRecentBefore(row.SectorName, tradeDate, sectorRPSLong)
		if err != nil {
			return fmt.Errorf("load sector history %s: %w", row.SectorName, err)
		}
		changes := make([]float64, len(history))
		for i, h := range history {
			changes[i] = h.ChangePct
		}

		returns20[row.SectorName] = compoundedReturn(changes, sectorRPSShort)
		returns50[row.SectorName] = compoundedReturn(changes, sectorRPSLong)
		maStatus[row.SectorName] = maTrendStatus(changes)
	}

	rps20 := percentileRanks(returns20)
	rps50 := percentileRanks(returns50)

	for _, row := range sectorRows {
		r20 := rps20[row.SectorName]
		r50 := rps50[row.SectorName]
		if err := e.sectors.UpdateDerived(row.SectorName, tradeDate, &r20, &r50, maStatus[row.SectorName]); err != nil {
			return fmt.Errorf("write sector metrics %s: %w", row.SectorName, err)
		}
	}

	e.log.Info().Str("date", tradeDate).Int("sectors", len(sectorRows)).Msg("Recomputed sector metrics")
	return nil
}

// fillSectorAggregates reconstructs the columns derivable from member
// ticker bars: average turnover, limit-up count, the top-5 weight stocks
// by turnover amount, and change_pct when the vendor row lacked one.
// Sectors whose members cannot be resolved keep their vendor values.
func (e *Engine) fillSectorAggregates(row *domain.SectorFlow) error {
	codes, err := e.concepts.MemberCodesByName(row.SectorName)
	if err != nil {
		return fmt.Errorf("resolve members of %s: %w", row.SectorName, err)
	}
	if len(codes) == 0 {
		return nil
	}

	bars, err := e.bars.GetByCodesAndDate(codes, row.TradeDate)
	if err != nil {
		return fmt.Errorf("load member bars of %s: %w", row.SectorName, err)
	}
	if len(bars) == 0 {
		return nil
	}

	var turnoverSum, amountSum, weightedChange float64
	limitUps := 0
	for _, b := range bars {
		turnoverSum += b.TurnoverRate
		amountSum += b.Amount
		weightedChange += b.ChangePct * b.Amount
		if b.ChangePct >= domain.LimitUpThreshold(b.Code) {
			limitUps++
		}
	}

	changePct := row.ChangePct
	if changePct == 0 && amountSum > 0 {
		changePct = weightedChange / amountSum
	}
	avgTurnover := turnoverSum / float64(len(bars))

	sort.Slice(bars, func(i, j int) bool { return bars[i].Amount > bars[j].Amount })
	topN := 5
	if len(bars) < topN {
		topN = len(bars)
	}
	topWeights := make([]string, 0, topN)
	for _, b := range bars[:topN] {
		topWeights = append(topWeights, b.Code)
	}

	if err := e.sectors.UpdateAggregates(row.SectorName, row.TradeDate, changePct, avgTurnover, limitUps, topWeights); err != nil {
		return fmt.Errorf("write sector aggregates %s: %w", row.SectorName, err)
	}

	row.ChangePct = changePct
	row.AvgTurnover = avgTurnover
	row.LimitUpCount = limitUps
	row.TopWeightStocks = topWeights
	return nil
}

// compoundedReturn is the cumulative compounded return in percent over the
// last `span` entries of an ascending change_pct series. Shorter series
// compound what is there.
func compoundedReturn(changes []float64, span int) float64 {
	if len(changes) == 0 {
		return 0
	}
	if span > len(changes) {
		span = len(changes)
	}
	acc := 1.0
	for _, c := range changes[len(changes)-span:] {
		acc *= 1 + c/100
	}
	return (acc - 1) * 100
}

// maTrendStatus reconstructs a pseudo-price series (seeded at 100) from the
// change series and compares MA5/MA10/MA20: +1 bullish, -1 bearish, 0
// otherwise or when history is too short.
func maTrendStatus(changes []float64) int {
	if len(changes) < 20 {
		return 0
	}

	prices := make([]float64, len(changes))
	p := 100.0
	for i, c := range changes {
		p *= 1 + c/100
		prices[i] = p
	}

	ma5 := tailMean(prices, 5)
	ma10 := tailMean(prices, 10)
	ma20 := tailMean(prices, 20)

	switch {
	case ma5 > ma10 && ma10 > ma20:
		return 1
	case ma5 < ma10 && ma10 < ma20:
		return -1
	default:
		return 0
	}
}

// percentileRanks maps each key's value to its ascending percentile in
// [0, 100] across all keys. A universe of one gets 50.
func percentileRanks(values map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if len(values) == 1 {
		for k := range values {
			out[k] = 50.0
		}
		return out
	}

	type kv struct {
		k string
		v float64
	}
	sorted := make([]kv, 0, len(values))
	for k, v := range values {
		sorted = append(sorted, kv{k, v})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].v < sorted[j].v })

	n := len(sorted)
	for rank, e := range sorted {
		out[e.k] = float64(rank) / float64(n-1) * 100
	}
	return out
}
