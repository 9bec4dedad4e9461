package signal

import (
	"slices"
	"strings"
)

// ImageChange classifies the difference between two ordered image lists.
type ImageChange struct {
	AddedCount   int  `json:"addedCount"`
	RemovedCount int  `json:"removedCount"`
	MainChanged  bool `json:"mainChanged"`
	Reordered    bool `json:"reordered"`
}

// Summary is the business-level change between two signals.
type Summary struct {
	TitleChanged  bool        `json:"titleChanged"`
	PreviousTitle string      `json:"previousTitle,omitempty"`
	CurrentTitle  string      `json:"currentTitle,omitempty"`
	PreviousPrice *float64    `json:"previousPrice,omitempty"`
	CurrentPrice  *float64    `json:"currentPrice,omitempty"`
	Currency      string      `json:"currency,omitempty"`
	PriceDeltaAbs *float64    `json:"priceDeltaAbs,omitempty"`
	PriceDeltaPct *float64    `json:"priceDeltaPct,omitempty"`
	ImagesChanged bool        `json:"imagesChanged"`
	Images        ImageChange `json:"images"`
}

// PriceChanged reports whether the price moved, appeared or disappeared.
func (s Summary) PriceChanged() bool {
	if s.PriceDeltaAbs != nil {
		return *s.PriceDeltaAbs != 0
	}
	return (s.PreviousPrice == nil) != (s.CurrentPrice == nil)
}

// Changed reports whether any signal field changed.
func (s Summary) Changed() bool {
	return s.TitleChanged || s.ImagesChanged || s.PriceChanged()
}

// Summarize compares two signals.
func Summarize(previous, current Signal) Summary {
	prevTitle := strings.TrimSpace(previous.Title)
	curTitle := strings.TrimSpace(current.Title)

	sum := Summary{
		TitleChanged:  prevTitle != curTitle,
		PreviousTitle: prevTitle,
		CurrentTitle:  curTitle,
		PreviousPrice: previous.Price,
		CurrentPrice:  current.Price,
		Currency:      current.Currency,
	}

	if previous.Price != nil && current.Price != nil {
		abs := *current.Price - *previous.Price
		sum.PriceDeltaAbs = &abs
		if *previous.Price != 0 {
			pct := abs / *previous.Price * 100
			sum.PriceDeltaPct = &pct
		}
	}

	sum.Images = compareImages(previous.Images, current.Images)
	sum.ImagesChanged = sum.Images.AddedCount > 0 || sum.Images.RemovedCount > 0 || sum.Images.Reordered
	return sum
}

func compareImages(prev, cur []string) ImageChange {
	prevSet := toSet(prev)
	curSet := toSet(cur)

	var ic ImageChange
	for id := range curSet {
		if _, ok := prevSet[id]; !ok {
			ic.AddedCount++
		}
	}
	for id := range prevSet {
		if _, ok := curSet[id]; !ok {
			ic.RemovedCount++
		}
	}

	ic.MainChanged = first(prev) != first(cur)
	ic.Reordered = ic.AddedCount == 0 && ic.RemovedCount == 0 && !slices.Equal(prev, cur)
	return ic
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// first returns the first element, or "" for an empty list.
func first(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
