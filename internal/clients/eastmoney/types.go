package eastmoney

import (
	"bytes"
	"strconv"
)

// flexFloat tolerates the vendor's habit of sending "-" or a quoted number
// for suspended tickers. It decodes to 0 for any non-numeric value.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "-" || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// klineEnvelope is the common shape of kline-style endpoints.
type klineEnvelope struct {
	RC   int `json:"rc"`
	Data *struct {
		Code   string   `json:"code"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// listEnvelope is the common shape of clist-style endpoints.
type listEnvelope struct {
	RC   int `json:"rc"`
	Data *struct {
		Total int        `json:"total"`
		Diff  []listItem `json:"diff"`
	} `json:"data"`
}

// listItem carries the superset of clist fields the adapters consume.
// The vendor addresses columns by fXX keys; unknown keys are ignored.
type listItem struct {
	Code         string    `json:"f12"`
	Name         string    `json:"f14"`
	Price        flexFloat `json:"f2"`  // latest price
	ChangePct    flexFloat `json:"f3"`  // percent
	Volume       flexFloat `json:"f5"`  // hands
	Amount       flexFloat `json:"f6"`  // yuan
	TurnoverRate flexFloat `json:"f8"`  // percent
	High         flexFloat `json:"f15"`
	Low          flexFloat `json:"f16"`
	Open         flexFloat `json:"f17"`
	MainNet      flexFloat `json:"f62"` // yuan
	SuperNet     flexFloat `json:"f66"`
	LargeNet     flexFloat `json:"f72"`
	MediumNet    flexFloat `json:"f78"`
	SmallNet     flexFloat `json:"f84"`
	HotRank      flexFloat `json:"f1020"`
	HotScore     flexFloat `json:"f1021"`
}

// yuan-to-ten-thousand conversion happens here, at ingest, never downstream.
const wan = 10000.0
