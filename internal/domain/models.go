// Package domain holds the core data types shared across the application.
// The domain layer is pure: no database, HTTP, or vendor dependencies.
package domain

import "strings"

// Ticker is a listed security in the vendor universe.
type Ticker struct {
	Code     string  `json:"code"`      // six-digit numeric code, left-padded
	Name     string  `json:"name"`      // display name
	Market   string  `json:"market"`    // "SH" or "SZ", derived from the code
	Industry string  `json:"industry"`  // vendor industry label
	ListDate *string `json:"list_date"` // YYYY-MM-DD, nil when unknown
	Active   bool    `json:"active"`
}

// DailyBar is one OHLCV record for one ticker on one trading day.
// Derived columns (MAs, RPS, VCP, volume MA) are rewritten by the
// derived-metric engine after raw ingestion.
type DailyBar struct {
	Code           string   `json:"code"`
	TradeDate      string   `json:"trade_date"` // YYYY-MM-DD
	Open           float64  `json:"open"`
	Close          float64  `json:"close"`
	High           float64  `json:"high"`
	Low            float64  `json:"low"`
	Volume         float64  `json:"volume"`
	Amount         float64  `json:"amount"`        // turnover amount, ten-thousand units
	TurnoverRate   float64  `json:"turnover_rate"` // percent
	ChangePct      float64  `json:"change_pct"`    // percent
	MA5            *float64 `json:"ma5,omitempty"`
	MA10           *float64 `json:"ma10,omitempty"`
	MA20           *float64 `json:"ma20,omitempty"`
	MA30           *float64 `json:"ma30,omitempty"`
	MA60           *float64 `json:"ma60,omitempty"`
	RPS250         *float64 `json:"rps_250,omitempty"`
	VCPFactor      *float64 `json:"vcp_factor,omitempty"`
	VolMA5         *float64 `json:"vol_ma_5,omitempty"`
}

// MoneyFlow is the per-ticker daily net inflow, partitioned by order size.
// All values are in ten-thousand currency units.
type MoneyFlow struct {
	Code          string  `json:"code"`
	TradeDate     string  `json:"trade_date"`
	MainNet       float64 `json:"main_net"`
	SuperLargeNet float64 `json:"super_large_net"`
	LargeNet      float64 `json:"large_net"`
	MediumNet     float64 `json:"medium_net"`
	SmallNet      float64 `json:"small_net"`
}

// SectorFlow is the per-sector daily aggregate row.
type SectorFlow struct {
	SectorName      string   `json:"sector_name"`
	TradeDate       string   `json:"trade_date"`
	MainNet         float64  `json:"main_net"`
	SuperLargeNet   float64  `json:"super_large_net"`
	LargeNet        float64  `json:"large_net"`
	MediumNet       float64  `json:"medium_net"`
	SmallNet        float64  `json:"small_net"`
	ChangePct       float64  `json:"change_pct"`
	AvgTurnover     float64  `json:"avg_turnover"`
	LimitUpCount    int      `json:"limit_up_count"`
	SectorRPS20     *float64 `json:"sector_rps_20,omitempty"`
	SectorRPS50     *float64 `json:"sector_rps_50,omitempty"`
	SectorMAStatus  int      `json:"sector_ma_status"` // +1 bullish, -1 bearish, 0 neutral
	TopWeightStocks []string `json:"top_weight_stocks"`
}

// HotRankEntry is one row of a vendor popularity list.
type HotRankEntry struct {
	Code      string  `json:"code"`
	Source    string  `json:"source"` // "xueqiu" or "dongcai"
	TradeDate string  `json:"trade_date"`
	Rank      int     `json:"rank"`
	HotScore  float64 `json:"hot_score"`
	Volume    float64 `json:"volume"`
}

// Hot rank sources.
const (
	HotSourceXueqiu  = "xueqiu"
	HotSourceDongcai = "dongcai"
)

// Concept is a vendor concept/sector label.
type Concept struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Code   string `json:"code"`
	Source string `json:"source"`
	Active bool   `json:"active"`
}

// ConceptMember links a ticker into a concept with a weight in (0, 1].
type ConceptMember struct {
	Code      string  `json:"code"`
	ConceptID int64   `json:"concept_id"`
	Weight    float64 `json:"weight"`
}

// VirtualBoard projects one source concept name into a presentation board.
// A source concept may map into several boards.
type VirtualBoard struct {
	ID         int64   `json:"id"`
	BoardName  string  `json:"board_name"`
	SourceName string  `json:"source_name"`
	Weight     float64 `json:"weight"`
	Active     bool    `json:"active"`
}

// IndexDaily is one OHLCV record of a broad-market index.
type IndexDaily struct {
	IndexCode string  `json:"index_code"`
	TradeDate string  `json:"trade_date"`
	Open      float64 `json:"open"`
	Close     float64 `json:"close"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    float64 `json:"volume"`
	Amount    float64 `json:"amount"`
	ChangePct float64 `json:"change_pct"`
}

// Recommendation verification states.
const (
	VerificationPending = "pending"
	VerificationSuccess = "success"
	VerificationFail    = "fail"
)

// Recommendation is one persisted alpha-pipeline pick for one user and day.
type Recommendation struct {
	ID             int64    `json:"id"`
	UserID         string   `json:"user_id"`
	RunDate        string   `json:"run_date"`
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	ParamsSnapshot string   `json:"params_snapshot"` // JSON
	EntryPrice     float64  `json:"entry_price"`
	StopLossPrice  float64  `json:"stop_loss_price"`
	AIScore        float64  `json:"ai_score"`
	WinProbability float64  `json:"win_probability"`
	ReasonTags     string   `json:"reason_tags"`
	Version        string   `json:"strategy_version"`
	Verification   string   `json:"verification_status"`
	MaxReturn5D    *float64 `json:"max_return_5d,omitempty"`
	FinalReturn5D  *float64 `json:"final_return_5d,omitempty"`
}

// CanonicalCode left-pads a numeric ticker code to six digits and strips any
// vendor market prefix. The market is always re-derived, never consumed.
func CanonicalCode(raw string) string {
	code := strings.TrimSpace(raw)
	code = strings.TrimPrefix(code, "SH")
	code = strings.TrimPrefix(code, "SZ")
	code = strings.TrimPrefix(code, "sh")
	code = strings.TrimPrefix(code, "sz")
	code = strings.TrimPrefix(code, ".")
	if len(code) > 6 {
		code = code[len(code)-6:]
	}
	for len(code) < 6 {
		code = "0" + code
	}
	return code
}

// MarketForCode derives the listing market from a canonical code.
// Codes starting with 6 trade in Shanghai, everything else in Shenzhen.
func MarketForCode(code string) string {
	if strings.HasPrefix(code, "6") {
		return "SH"
	}
	return "SZ"
}

// IsSTARMarket reports whether the code is a STAR-market listing (688*).
func IsSTARMarket(code string) bool {
	return strings.HasPrefix(code, "688")
}

// IsGEM reports whether the code is a GEM listing (300*).
func IsGEM(code string) bool {
	return strings.HasPrefix(code, "300")
}

// LimitUpThreshold returns the close-at-limit change threshold for a code:
// STAR and GEM boards move within 20 percent, the main board within 10.
func LimitUpThreshold(code string) float64 {
	if IsSTARMarket(code) || IsGEM(code) {
		return 19.95
	}
	return 9.95
}
