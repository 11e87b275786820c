// Package chart drives a single stock chart page: applies period, range and moving average settings,
// triggers the chart update and captures the rendered chart image.
package chart

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/umputun/chartreport/app/enums"
)

// MaxMovingAverages is the number of moving average slots the chart form has
const MaxMovingAverages = 5

// MovingAverage is one overlay line on the chart
type MovingAverage struct {
	Enabled bool   `json:"enabled"`
	Field   string `json:"field"`  // open, High, Low, Close
	Type    string `json:"type"`   // Simple, Exponential, Weighted, Triangular
	Period  int    `json:"period"` // number of bars
}

// Settings define how every chart of a job is rendered
type Settings struct {
	Period         string // label from Periods
	Range          string // label from Ranges
	MovingAverages []MovingAverage
	Capture        enums.Capture
}

// Option is a label shown to users and the code the chart form expects
type Option struct {
	Label string
	Code  string
}

// Periods lists the chart durations in display order
var Periods = []Option{
	{"1 day", "1"}, {"2 days", "2"}, {"3 days", "3"}, {"5 days", "5"}, {"10 days", "10"},
	{"1 month", "22"}, {"2 months", "44"}, {"3 months", "66"}, {"4 months", "91"}, {"6 months", "121"},
	{"9 months", "198"}, {"1 year", "252"}, {"2 years", "504"}, {"3 years", "756"}, {"5 years", "1008"},
	{"8 years", "1764"}, {"All Data", "5000"},
}

// Ranges lists the bar intervals in display order
var Ranges = []Option{
	{"Daily", "d"}, {"Weekly", "w"}, {"Monthly", "m"},
	{"1 Minute", "1_minute"}, {"2 Minute", "2_minute"}, {"3 Minute", "3_minute"}, {"5 Minute", "5_minute"},
	{"10 Minute", "10_minute"}, {"15 Minute", "15_minute"}, {"20 Minute", "20_minute"},
	{"25 Minute", "25_minute"}, {"30 Minute", "30_minute"}, {"45 Minute", "45_minute"},
	{"75 Minute", "75_minute"}, {"125 Minute", "125_minute"},
	{"1 hour", "60_minute"}, {"2 hour", "120_minute"}, {"3 hour", "180_minute"}, {"4 hour", "240_minute"},
}

// Fields lists the price fields a moving average can be built on
var Fields = []Option{{"open", "o"}, {"High", "h"}, {"Low", "l"}, {"Close", "c"}}

// Types lists the moving average kinds
var Types = []Option{{"Simple", "SMA"}, {"Exponential", "EMA"}, {"Weighted", "WMA"}, {"Triangular", "TMA"}}

// default codes for unknown labels
const (
	defaultPeriod = "252"
	defaultRange  = "w"
	defaultField  = "c"
	defaultType   = "SMA"
)

// PeriodCode maps a period label to the bar count, "252" (1 year) for unknown labels
func PeriodCode(label string) string { return lookup(Periods, label, defaultPeriod) }

// RangeCode maps a range label to the interval code, "w" (weekly) for unknown labels
func RangeCode(label string) string { return lookup(Ranges, label, defaultRange) }

// FieldCode maps a price field label to its code, "c" (close) for unknown labels
func FieldCode(label string) string { return lookup(Fields, label, defaultField) }

// TypeCode maps a moving average kind to its code, "SMA" for unknown labels
func TypeCode(label string) string { return lookup(Types, label, defaultType) }

func lookup(opts []Option, label, def string) string {
	for _, o := range opts {
		if o.Label == label {
			return o.Code
		}
	}
	return def
}

// FormField is a value injected into the chart form
type FormField struct {
	Type  string `json:"type"` // checkbox, select or text
	Value any    `json:"value"`
}

// FormData builds chart form values for moving averages. Slot i (1-based) sets checkbox a{i};
// enabled slots also set a{i}t (field), a{i}v (type) and a{i}l (period).
func FormData(mas []MovingAverage) map[string]FormField {
	res := make(map[string]FormField, len(mas)*4)
	for i, ma := range mas {
		if i >= MaxMovingAverages {
			break
		}
		idx := i + 1
		res[fmt.Sprintf("a%d", idx)] = FormField{Type: "checkbox", Value: ma.Enabled}
		if !ma.Enabled {
			continue
		}
		res[fmt.Sprintf("a%dt", idx)] = FormField{Type: "select", Value: FieldCode(ma.Field)}
		res[fmt.Sprintf("a%dv", idx)] = FormField{Type: "select", Value: TypeCode(ma.Type)}
		res[fmt.Sprintf("a%dl", idx)] = FormField{Type: "text", Value: strconv.Itoa(ma.Period)}
	}
	return res
}

// FromSlots converts the "ma_N" keyed form used by the web UI into a positional list.
// Missing slots up to the highest used one are disabled, so the chart form unchecks them.
func FromSlots(slots map[string]MovingAverage) ([]MovingAverage, error) {
	maxIdx := 0
	byIdx := map[int]MovingAverage{}
	for key, ma := range slots {
		idx, err := strconv.Atoi(strings.TrimPrefix(key, "ma_"))
		if err != nil || !strings.HasPrefix(key, "ma_") {
			return nil, fmt.Errorf("invalid moving average key %q", key)
		}
		if idx < 1 || idx > MaxMovingAverages {
			return nil, fmt.Errorf("moving average slot %d out of range 1..%d", idx, MaxMovingAverages)
		}
		byIdx[idx] = ma
		maxIdx = max(maxIdx, idx)
	}
	res := make([]MovingAverage, maxIdx)
	for idx, ma := range byIdx {
		res[idx-1] = ma
	}
	return res, nil
}

// ToSlots is the reverse of FromSlots, only enabled entries are kept
func ToSlots(mas []MovingAverage) map[string]MovingAverage {
	res := map[string]MovingAverage{}
	for i, ma := range mas {
		if ma.Enabled {
			res[fmt.Sprintf("ma_%d", i+1)] = ma
		}
	}
	return res
}

// Validate checks moving average values
func Validate(mas []MovingAverage) error {
	if len(mas) > MaxMovingAverages {
		return fmt.Errorf("too many moving averages, %d max", MaxMovingAverages)
	}
	for i, ma := range mas {
		if !ma.Enabled {
			continue
		}
		if ma.Period <= 0 {
			return fmt.Errorf("moving average %d: period must be positive", i+1)
		}
	}
	return nil
}

// Labels returns option labels, handy for select controls
func Labels(opts []Option) []string {
	res := make([]string, 0, len(opts))
	for _, o := range opts {
		res = append(res, o.Label)
	}
	return res
}
