package alpha

// Model generations. All share the four-level funnel; they differ in which
// adjustments run. T4 is the plain momentum screen, T6 adds regime
// adaptation and beta elasticity, T7 is T6 with the resonance preselector.
const (
	ModelT4 = "t4"
	ModelT6 = "t6"
	ModelT7 = "t7"
)

// Params is the caller-supplied pipeline configuration. Zero values are
// replaced by defaults through Normalize.
type Params struct {
	ModelVersion string `json:"model_version"`

	// Level 2 hard constraints.
	MinChangePct          float64 `json:"min_change_pct"`
	VolRatioMA20Threshold float64 `json:"vol_ratio_ma20_threshold"`
	MaxUpperShadowRatio   float64 `json:"max_upper_shadow_ratio"`
	SupportMA             int     `json:"support_ma"` // 20 or 60
	MinListingAgeDays     int     `json:"min_listing_age_days"`

	// Level 3 scoring.
	WeightTech         float64 `json:"w_tech"`
	WeightTrend        float64 `json:"w_trend"`
	WeightHot          float64 `json:"w_hot"`
	VolScoreThreshold  float64 `json:"vol_score_threshold"`
	RPSScoreThreshold  float64 `json:"rps_score_threshold"`
	GemStarWeightBoost float64 `json:"gem_star_weight_boost"`
	SectorBoost        bool    `json:"sector_boost"`

	// Level 4 refinement.
	AIFilter bool `json:"ai_filter"`
}

// DefaultParams returns the T7 defaults served by /model-k/default-params.
func DefaultParams() Params {
	return Params{
		ModelVersion:          ModelT7,
		MinChangePct:          7.0,
		VolRatioMA20Threshold: 2.5,
		MaxUpperShadowRatio:   0.10,
		SupportMA:             20,
		MinListingAgeDays:     60,
		WeightTech:            0.4,
		WeightTrend:           0.4,
		WeightHot:             0.2,
		VolScoreThreshold:     2.5,
		RPSScoreThreshold:     85.0,
		GemStarWeightBoost:    1.15,
		SectorBoost:           true,
		AIFilter:              true,
	}
}

// Normalize fills zero-valued fields with defaults and clamps the support
// MA to a known window.
func (p Params) Normalize() Params {
	def := DefaultParams()
	if p.ModelVersion == "" {
		p.ModelVersion = def.ModelVersion
	}
	if p.MinChangePct == 0 {
		p.MinChangePct = def.MinChangePct
	}
	if p.VolRatioMA20Threshold == 0 {
		p.VolRatioMA20Threshold = def.VolRatioMA20Threshold
	}
	if p.MaxUpperShadowRatio == 0 {
		p.MaxUpperShadowRatio = def.MaxUpperShadowRatio
	}
	if p.SupportMA != 20 && p.SupportMA != 60 {
		p.SupportMA = def.SupportMA
	}
	if p.MinListingAgeDays == 0 {
		p.MinListingAgeDays = def.MinListingAgeDays
	}
	if p.WeightTech == 0 && p.WeightTrend == 0 && p.WeightHot == 0 {
		p.WeightTech = def.WeightTech
		p.WeightTrend = def.WeightTrend
		p.WeightHot = def.WeightHot
	}
	if p.VolScoreThreshold == 0 {
		p.VolScoreThreshold = def.VolScoreThreshold
	}
	if p.RPSScoreThreshold == 0 {
		p.RPSScoreThreshold = def.RPSScoreThreshold
	}
	if p.GemStarWeightBoost == 0 {
		p.GemStarWeightBoost = def.GemStarWeightBoost
	}
	return p
}

// regimeAware reports whether this model generation adapts to the market
// regime (T6 and later).
func (p Params) regimeAware() bool {
	return p.ModelVersion == ModelT6 || p.ModelVersion == ModelT7
}
