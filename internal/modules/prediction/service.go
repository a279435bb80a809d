package prediction

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/marketpulse/internal/domain"
)

// Prediction shape: how much history feeds the flow trend, how wide the
// board and candidate cuts are, and how long a generated payload stays
// authoritative during trading hours.
const (
	flowLookbackDays   = 3
	topBoardCount      = 5
	candidatesPerBoard = 5
	finalPickCount     = 10
	hotListDepth       = 100
	cacheTTL           = 30 * time.Minute
)

// Composite weights over the normalised per-board inputs. Momentum has no
// independent source yet, so it proxies off popularity.
const (
	weightMoney     = 0.35
	weightHot       = 0.25
	weightMomentum  = 0.20
	weightResonance = 0.20
	momentumProxy   = 0.8
)

// FlowStore reads sector money-flow history.
type FlowStore interface {
	LatestDate() (string, error)
	SectorNamesOnDate(tradeDate string) ([]string, error)
	GetRecentBefore(sectorName, tradeDate string, limit int) ([]domain.SectorFlow, error)
}

// HotStore reads the latest popularity lists.
type HotStore interface {
	TopForLatestDate(source string, limit int) ([]domain.HotRankEntry, error)
}

// ConceptStore resolves concept tags for hot-list constituents.
type ConceptStore interface {
	MembershipsByCodes(codes []string) (map[string][]string, error)
}

// BoardStore supplies the source-concept to virtual-board projection.
type BoardStore interface {
	ProjectionMap() (map[string][]domain.VirtualBoard, error)
}

// BarStore joins candidate technicals from the feature store.
type BarStore interface {
	GetByCodesAndDate(codes []string, tradeDate string) ([]domain.DailyBar, error)
}

// NameResolver maps candidate codes to display names.
type NameResolver interface {
	GetByCode(code string) (*domain.Ticker, error)
}

// CacheStore persists one payload per target date.
type CacheStore interface {
	Get(targetDate string) (*CachedPrediction, error)
	Put(targetDate string, payload []byte, createdAt time.Time) error
}

// Clock is the trading-calendar slice the cache policy needs.
type Clock interface {
	Now() time.Time
	IsTradingDay(d time.Time) bool
	NextTradingDay(d time.Time) time.Time
}

// SectorSignal is the 3-day money-flow trend of one source sector.
type SectorSignal struct {
	Sector          string  `json:"sector"`
	FlowSum         float64 `json:"flow_sum"`
	FlowSlope       float64 `json:"flow_slope"`
	FlowAccel       float64 `json:"flow_accel"`
	LargeOrderRatio float64 `json:"large_order_ratio"`
}

// Candidate is one recommended ticker inside a board.
type Candidate struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Board    string  `json:"board"`
	Rank     int     `json:"rank"`
	HotScore float64 `json:"hot_score"`
	Score    float64 `json:"score"`
}

// BoardScore is one virtual board's composite outlook.
type BoardScore struct {
	Board          string      `json:"board"`
	Sources        []string    `json:"sources"`
	FlowSum        float64     `json:"flow_sum"`
	MoneyScore     float64     `json:"money_score"`
	HotScore       float64     `json:"hot_score"`
	MomentumScore  float64     `json:"momentum_score"`
	ResonanceScore float64     `json:"resonance_score"`
	CompositeScore float64     `json:"composite_score"`
	Candidates     []Candidate `json:"candidates"`
}

// Prediction is the full payload for one target trading day.
type Prediction struct {
	TargetDate  string       `json:"target_date"`
	DataDate    string       `json:"data_date"`
	GeneratedAt time.Time    `json:"generated_at"`
	Boards      []BoardScore `json:"boards"`
	Picks       []Candidate  `json:"picks"`
}

// Service generates and caches next-day predictions.
type Service struct {
	flows    FlowStore
	hot      HotStore
	concepts ConceptStore
	boards   BoardStore
	bars     BarStore
	tickers  NameResolver
	cache    CacheStore
	clock    Clock
	log      zerolog.Logger
}

// NewService wires the predictor over the feature store.
func NewService(flows FlowStore, hot HotStore, concepts ConceptStore, boards BoardStore,
	bars BarStore, tickers NameResolver, cache CacheStore, clock Clock, log zerolog.Logger) *Service {
	return &Service{
		flows:    flows,
		hot:      hot,
		concepts: concepts,
		boards:   boards,
		bars:     bars,
		tickers:  tickers,
		cache:    cache,
		clock:    clock,
		log:      log.With().Str("component", "prediction").Logger(),
	}
}

// Predict returns the outlook for the next trading day. A cached payload
// is served unchanged when today is not a trading day, after the 15:30
// close, or within the TTL; force bypasses the cache entirely.
func (s *Service) Predict(force bool) (*Prediction, error) {
	now := s.clock.Now()
	target := s.clock.NextTradingDay(now).Format("2006-01-02")

	if !force {
		cached, err := s.cache.Get(target)
		if err != nil {
			s.log.Warn().Err(err).Msg("Prediction cache read failed, regenerating")
		} else if cached != nil && s.cacheUsable(cached, now) {
			var p Prediction
			if err := json.Unmarshal(cached.Payload, &p); err == nil {
				return &p, nil
			}
			s.log.Warn().Err(err).Str("target", target).Msg("Corrupt prediction cache row, regenerating")
		}
	}

	p, err := s.generate(target, now)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal prediction payload: %w", err)
	}
	if err := s.cache.Put(target, payload, p.GeneratedAt); err != nil {
		s.log.Warn().Err(err).Str("target", target).Msg("Prediction cache write failed")
	}
	return p, nil
}

func (s *Service) cacheUsable(cached *CachedPrediction, now time.Time) bool {
	if !s.clock.IsTradingDay(now) {
		return true
	}
	if now.Hour()*60+now.Minute() >= 15*60+30 {
		return true
	}
	return now.Sub(cached.CreatedAt) < cacheTTL
}

func (s *Service) generate(target string, now time.Time) (*Prediction, error) {
	dataDate, err := s.flows.LatestDate()
	if err != nil {
		return nil, fmt.Errorf("resolve data date: %w", err)
	}
	if dataDate == "" {
		return nil, fmt.Errorf("no sector flow data available")
	}

	signals, err := s.flowSignals(dataDate)
	if err != nil {
		return nil, err
	}

	conceptHot, hotEntries, tags, err := s.hotByConcept()
	if err != nil {
		return nil, err
	}

	projection, err := s.boards.ProjectionMap()
	if err != nil {
		return nil, fmt.Errorf("load board projection: %w", err)
	}

	boards := composeBoards(signals, conceptHot, projection)
	if len(boards) > topBoardCount {
		boards = boards[:topBoardCount]
	}

	picks := s.selectCandidates(boards, hotEntries, tags, projection, dataDate)

	p := &Prediction{
		TargetDate:  target,
		DataDate:    dataDate,
		GeneratedAt: now,
		Boards:      boards,
		Picks:       picks,
	}
	s.log.Info().
		Str("target", target).
		Str("data_date", dataDate).
		Int("boards", len(boards)).
		Int("picks", len(picks)).
		Msg("Next-day prediction generated")
	return p, nil
}

// flowSignals computes the 3-day money-flow trend of every sector present
// on the data date.
func (s *Service) flowSignals(dataDate string) (map[string]SectorSignal, error) {
	names, err := s.flows.SectorNamesOnDate(dataDate)
	if err != nil {
		return nil, fmt.Errorf("list sectors on %s: %w", dataDate, err)
	}

	signals := make(map[string]SectorSignal, len(names))
	for _, name := range names {
		rows, err := s.flows.GetRecentBefore(name, dataDate, flowLookbackDays)
		if err != nil {
			return nil, fmt.Errorf("load flow history %s: %w", name, err)
		}
		if len(rows) == 0 {
			continue
		}
		signals[name] = flowSignal(name, rows)
	}
	return signals, nil
}

// flowSignal folds an ascending window of flow rows into sum, linear-trend
// slope, discrete acceleration, and the large-order share of total flow.
func flowSignal(name string, rows []domain.SectorFlow) SectorSignal {
	sig := SectorSignal{Sector: name}

	xs := make([]float64, len(rows))
	ys := make([]float64, len(rows))
	var largeAbs, totalAbs float64
	for i, row := range rows {
		xs[i] = float64(i)
		ys[i] = row.MainNet
		sig.FlowSum += row.MainNet
		largeAbs += abs(row.SuperLargeNet) + abs(row.LargeNet)
		totalAbs += abs(row.SuperLargeNet) + abs(row.LargeNet) + abs(row.MediumNet) + abs(row.SmallNet)
	}

	if len(rows) >= 2 {
		_, sig.FlowSlope = stat.LinearRegression(xs, ys, nil, false)
	}
	if len(rows) >= 3 {
		n := len(ys)
		sig.FlowAccel = (ys[n-1] - ys[n-2]) - (ys[n-2] - ys[n-3])
	}
	if totalAbs > 0 {
		sig.LargeOrderRatio = largeAbs / totalAbs
	}
	return sig
}

// hotByConcept aggregates the latest popularity lists per concept:
// 10*count + 0.5*(200 - mean_rank) + 0.1*mean_hot.
func (s *Service) hotByConcept() (map[string]float64, []domain.HotRankEntry, map[string][]string, error) {
	var entries []domain.HotRankEntry
	for _, source := range []string{domain.HotSourceXueqiu, domain.HotSourceDongcai} {
		rows, err := s.hot.TopForLatestDate(source, hotListDepth)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load hot list %s: %w", source, err)
		}
		entries = append(entries, rows...)
	}
	if len(entries) == 0 {
		return map[string]float64{}, nil, map[string][]string{}, nil
	}

	codes := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !seen[e.Code] {
			seen[e.Code] = true
			codes = append(codes, e.Code)
		}
	}

	tags, err := s.concepts.MembershipsByCodes(codes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve concept tags: %w", err)
	}

	type agg struct {
		count   int
		rankSum float64
		hotSum  float64
	}
	byConcept := make(map[string]*agg)
	for _, e := range entries {
		for _, concept := range tags[e.Code] {
			a, ok := byConcept[concept]
			if !ok {
				a = &agg{}
				byConcept[concept] = a
			}
			a.count++
			a.rankSum += float64(e.Rank)
			a.hotSum += e.HotScore
		}
	}

	scores := make(map[string]float64, len(byConcept))
	for concept, a := range byConcept {
		meanRank := a.rankSum / float64(a.count)
		meanHot := a.hotSum / float64(a.count)
		scores[concept] = 10*float64(a.count) + 0.5*(200-meanRank) + 0.1*meanHot
	}
	return scores, entries, tags, nil
}

// composeBoards projects sector signals and concept hotness onto virtual
// boards and scores each board's composite, sorted descending.
func composeBoards(signals map[string]SectorSignal, conceptHot map[string]float64,
	projection map[string][]domain.VirtualBoard) []BoardScore {

	type agg struct {
		flowSum  float64
		slopeSum float64
		accelSum float64
		hotSum   float64
		sources  []string
	}
	byBoard := make(map[string]*agg)
	get := func(board string) *agg {
		a, ok := byBoard[board]
		if !ok {
			a = &agg{}
			byBoard[board] = a
		}
		return a
	}

	for sector, sig := range signals {
		for _, t := range projectionTargets(sector, projection) {
			a := get(t.board)
			a.flowSum += sig.FlowSum * t.weight
			a.slopeSum += sig.FlowSlope * t.weight
			a.accelSum += sig.FlowAccel * t.weight
			a.sources = append(a.sources, sector)
		}
	}
	for concept, hot := range conceptHot {
		for _, t := range projectionTargets(concept, projection) {
			get(t.board).hotSum += hot * t.weight
		}
	}

	boards := make([]BoardScore, 0, len(byBoard))
	flowSums := make([]float64, 0, len(byBoard))
	hotSums := make([]float64, 0, len(byBoard))
	for name, a := range byBoard {
		sort.Strings(a.sources)
		resonance := 50.0
		if a.slopeSum > 0 {
			resonance += 25
		}
		if a.accelSum > 0 {
			resonance += 25
		}
		boards = append(boards, BoardScore{
			Board:          name,
			Sources:        a.sources,
			FlowSum:        a.flowSum,
			ResonanceScore: resonance,
		})
		flowSums = append(flowSums, a.flowSum)
		hotSums = append(hotSums, a.hotSum)
	}

	for i := range boards {
		boards[i].MoneyScore = rank100(flowSums[i], flowSums)
		boards[i].HotScore = rank100(hotSums[i], hotSums)
		boards[i].MomentumScore = momentumProxy * boards[i].HotScore
		boards[i].CompositeScore = weightMoney*boards[i].MoneyScore +
			weightHot*boards[i].HotScore +
			weightMomentum*boards[i].MomentumScore +
			weightResonance*boards[i].ResonanceScore
	}

	sort.SliceStable(boards, func(i, j int) bool {
		return boards[i].CompositeScore > boards[j].CompositeScore
	})
	return boards
}

type projectionTarget struct {
	board  string
	weight float64
}

// projectionTargets maps a source name through the virtual-board layer;
// unmapped names project onto themselves at full weight.
func projectionTargets(source string, projection map[string][]domain.VirtualBoard) []projectionTarget {
	mapped, ok := projection[source]
	if !ok || len(mapped) == 0 {
		return []projectionTarget{{board: source, weight: 1.0}}
	}
	out := make([]projectionTarget, 0, len(mapped))
	for _, vb := range mapped {
		out = append(out, projectionTarget{board: vb.BoardName, weight: vb.Weight})
	}
	return out
}

// selectCandidates picks up to five hot-list constituents per top board,
// re-scores them, and returns the globally deduplicated top picks.
func (s *Service) selectCandidates(boards []BoardScore, entries []domain.HotRankEntry,
	tags map[string][]string, projection map[string][]domain.VirtualBoard, dataDate string) []Candidate {

	boardIndex := make(map[string]int, len(boards))
	for i, b := range boards {
		boardIndex[b.Board] = i
	}

	// per board, constituents ordered by hot rank
	perBoard := make(map[string][]domain.HotRankEntry)
	placed := make(map[string]map[string]bool) // board -> code
	for _, e := range entries {
		for _, concept := range tags[e.Code] {
			for _, t := range projectionTargets(concept, projection) {
				if _, ok := boardIndex[t.board]; !ok {
					continue
				}
				if placed[t.board] == nil {
					placed[t.board] = make(map[string]bool)
				}
				if placed[t.board][e.Code] {
					continue
				}
				placed[t.board][e.Code] = true
				perBoard[t.board] = append(perBoard[t.board], e)
			}
		}
	}

	var all []Candidate
	var codes []string
	for board, list := range perBoard {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Rank < list[j].Rank })
		if len(list) > candidatesPerBoard {
			list = list[:candidatesPerBoard]
		}
		for _, e := range list {
			all = append(all, Candidate{
				Code:     e.Code,
				Board:    board,
				Rank:     e.Rank,
				HotScore: e.HotScore,
			})
			codes = append(codes, e.Code)
		}
	}
	if len(all) == 0 {
		return nil
	}

	tech := s.technicalScores(codes, dataDate)
	for i := range all {
		board := boards[boardIndex[all[i].Board]]
		rankScore := 100 - float64(all[i].Rank)
		if rankScore < 0 {
			rankScore = 0
		}
		all[i].Score = board.CompositeScore*0.4 + rankScore*0.2 + tech[all[i].Code]
		if t, err := s.tickers.GetByCode(all[i].Code); err == nil && t != nil {
			all[i].Name = t.Name
		}
	}
	for _, c := range all {
		i := boardIndex[c.Board]
		boards[i].Candidates = append(boards[i].Candidates, c)
	}

	// global dedupe: a ticker tagged into several boards keeps its best slot
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	picked := make([]Candidate, 0, finalPickCount)
	taken := make(map[string]bool)
	for _, c := range all {
		if taken[c.Code] {
			continue
		}
		taken[c.Code] = true
		picked = append(picked, c)
		if len(picked) == finalPickCount {
			break
		}
	}
	return picked
}

// technicalScores grades each candidate's latest bar: momentum capped at
// +-30 plus a bonus for holding above the 5-day mean.
func (s *Service) technicalScores(codes []string, dataDate string) map[string]float64 {
	scores := make(map[string]float64, len(codes))
	bars, err := s.bars.GetByCodesAndDate(codes, dataDate)
	if err != nil {
		s.log.Warn().Err(err).Msg("Candidate technicals unavailable")
		return scores
	}
	for _, b := range bars {
		score := clamp(b.ChangePct*3, -30, 30)
		if b.MA5 != nil && b.Close > *b.MA5 {
			score += 10
		}
		scores[b.Code] = score
	}
	return scores
}

// rank100 places v on a [0,100] ascending percentile scale over values.
func rank100(v float64, values []float64) float64 {
	if len(values) <= 1 {
		return 50.0
	}
	below := 0
	for _, other := range values {
		if other < v {
			below++
		}
	}
	return float64(below) / float64(len(values)-1) * 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
