package alpha

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/obs"
)

// Recommendation list bounds: top_n defaults to defaultTopN and is clamped
// to maxTopN regardless of what the caller asks for.
const (
	defaultTopN = 20
	maxTopN     = 20
)

// Diagnostic breadcrumbs. Every empty result is attributable to exactly
// one pipeline level.
const (
	diagInsufficientHistory = "insufficient_history"
	diagEmptyAfterLevel2    = "empty_after_level2"
	diagEmptyAfterRefine    = "empty_after_refine"
)

// Metadata travels alongside the ranked list so callers can explain the
// run: which regime drove the thresholds and how the funnel narrowed.
type Metadata struct {
	ModelVersion string         `json:"model_version"`
	MarketRegime string         `json:"market_regime"`
	RSRSZScore   float64        `json:"rsrs_z_score"`
	FunnelData   map[string]int `json:"funnel_data"`
	FilterStats  FilterStats    `json:"filter_stats"`
	ElapsedMS    int64          `json:"elapsed_ms"`
}

// Result is one pipeline run.
type Result struct {
	TradeDate       string         `json:"trade_date"`
	Recommendations []ScoredTicker `json:"recommendations"`
	DiagnosticInfo  string         `json:"diagnostic_info,omitempty"`
	Metadata        Metadata       `json:"metadata"`
}

// Pipeline is the four-level alpha funnel shared by the T4/T6/T7 models.
type Pipeline struct {
	bars    BarStore
	tickers TickerStore
	regime  *RegimeDetector
	log     zerolog.Logger
}

// NewPipeline creates the recommendation pipeline.
func NewPipeline(bars BarStore, tickers TickerStore, regime *RegimeDetector, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		bars:    bars,
		tickers: tickers,
		regime:  regime,
		log:     log.With().Str("component", "alpha_pipeline").Logger(),
	}
}

// Run executes the funnel for one trading day. An empty result is not an
// error: the diagnostic string names the level that emptied the set.
// The context deadline aborts between levels.
func (p *Pipeline) Run(ctx context.Context, tradeDate string, params Params, topN int) (*Result, error) {
	start := time.Now()
	params = params.Normalize()
	if topN <= 0 || topN > maxTopN {
		topN = defaultTopN
	}

	res := &Result{
		TradeDate: tradeDate,
		Metadata: Metadata{
			ModelVersion: params.ModelVersion,
			MarketRegime: RegimeBalance,
			FunnelData:   map[string]int{},
		},
	}

	regime := RegimeInfo{Regime: RegimeBalance}
	if params.regimeAware() {
		var err error
		regime, err = p.regime.Detect(tradeDate)
		if err != nil {
			// regime detection degrades to Balance, never blocks a run
			p.log.Warn().Err(err).Str("date", tradeDate).Msg("Regime detection failed, assuming balance")
			regime = RegimeInfo{Regime: RegimeBalance}
		}
		res.Metadata.MarketRegime = regime.Regime
		res.Metadata.RSRSZScore = regime.ZScore
	}

	// Level 1
	level1Start := time.Now()
	features, err := p.extractFeatures(ctx, tradeDate)
	if err != nil {
		return nil, fmt.Errorf("level 1: %w", err)
	}
	obs.PipelineDuration.WithLabelValues("level1").Observe(time.Since(level1Start).Seconds())
	res.Metadata.FunnelData["level1_features"] = len(features)
	if len(features) == 0 {
		res.DiagnosticInfo = diagInsufficientHistory
		return p.finish(res, start), nil
	}

	if params.regimeAware() {
		applyResonance(features)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Level 2
	level2Start := time.Now()
	filtered, stats := applyFilters(features, params, regime, tradeDate)
	obs.PipelineDuration.WithLabelValues("level2").Observe(time.Since(level2Start).Seconds())
	res.Metadata.FunnelData["level2_survivors"] = len(filtered)
	res.Metadata.FilterStats = stats
	if len(filtered) == 0 {
		res.DiagnosticInfo = diagEmptyAfterLevel2
		return p.finish(res, start), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Level 3
	level3Start := time.Now()
	scored := scoreFeatures(filtered, params, regime)
	obs.PipelineDuration.WithLabelValues("level3").Observe(time.Since(level3Start).Seconds())
	res.Metadata.FunnelData["level3_scored"] = len(scored)

	// Level 4
	refined := refine(scored, params)
	res.Metadata.FunnelData["level4_refined"] = len(refined)
	if len(refined) == 0 {
		res.DiagnosticInfo = diagEmptyAfterRefine
		return p.finish(res, start), nil
	}

	if len(refined) > topN {
		refined = refined[:topN]
	}
	res.Recommendations = refined
	return p.finish(res, start), nil
}

func (p *Pipeline) finish(res *Result, start time.Time) *Result {
	res.Metadata.ElapsedMS = time.Since(start).Milliseconds()
	p.log.Info().
		Str("date", res.TradeDate).
		Str("model", res.Metadata.ModelVersion).
		Str("regime", res.Metadata.MarketRegime).
		Int("recommendations", len(res.Recommendations)).
		Str("diagnostic", res.DiagnosticInfo).
		Msg("Pipeline run complete")
	return res
}
