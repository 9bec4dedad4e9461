// Package alert evaluates per-target alert rules against a change summary
// and dispatches notifications for the rules that fire.
package alert

import (
	"encoding/json"
	"math"

	"github.com/kairos-watch/capture/pkg/signal"
)

// Threshold names recognised in AlertRule.Thresholds.
const (
	ThresholdTitleChanged     = "titleChanged"
	ThresholdPriceDeltaPct    = "priceDeltaPct"
	ThresholdPriceDeltaAbs    = "priceDeltaAbs"
	ThresholdImagesChanged    = "imagesChanged"
	ThresholdMainImageChanged = "mainImageChanged"
)

// knownThresholds fixes the order in which fired names are reported.
var knownThresholds = []string{
	ThresholdTitleChanged,
	ThresholdPriceDeltaPct,
	ThresholdPriceDeltaAbs,
	ThresholdImagesChanged,
	ThresholdMainImageChanged,
}

// Known reports whether name is a recognised threshold.
func Known(name string) bool {
	for _, k := range knownThresholds {
		if k == name {
			return true
		}
	}
	return false
}

// Evaluate returns the names of the thresholds that fire for sum. Boolean
// thresholds fire when set to true and the matching signal is set. Numeric
// thresholds fire when the absolute delta reaches the configured value.
// Unknown names and values of the wrong type are ignored, so an empty or
// unusable threshold map never fires.
func Evaluate(sum signal.Summary, thresholds map[string]any) []string {
	var fired []string
	for _, name := range knownThresholds {
		raw, ok := thresholds[name]
		if !ok {
			continue
		}
		if evaluateOne(name, raw, sum) {
			fired = append(fired, name)
		}
	}
	return fired
}

func evaluateOne(name string, raw any, sum signal.Summary) bool {
	switch name {
	case ThresholdTitleChanged:
		return flagSet(raw) && sum.TitleChanged
	case ThresholdImagesChanged:
		return flagSet(raw) && sum.ImagesChanged
	case ThresholdMainImageChanged:
		return flagSet(raw) && sum.Images.MainChanged
	case ThresholdPriceDeltaPct:
		return reaches(sum.PriceDeltaPct, raw)
	case ThresholdPriceDeltaAbs:
		return reaches(sum.PriceDeltaAbs, raw)
	}
	return false
}

func flagSet(raw any) bool {
	b, ok := raw.(bool)
	return ok && b
}

// reaches reports whether |delta| >= limit. An undefined delta never fires.
func reaches(delta *float64, raw any) bool {
	limit, ok := number(raw)
	if !ok || delta == nil || limit < 0 {
		return false
	}
	return math.Abs(*delta) >= limit
}

// number accepts the numeric shapes a threshold map can hold: json.Number
// from rules read back from storage, float64 from decoded JSON and the
// integer types callers set directly.
func number(raw any) (float64, bool) {
	switch n := raw.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && !math.IsNaN(f)
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
