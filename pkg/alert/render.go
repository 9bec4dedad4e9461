package alert

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/signal"
)

// maxPreviewLength caps the rendered preview.
const maxPreviewLength = 1000

var thresholdLabels = map[string]string{
	ThresholdTitleChanged:     "title",
	ThresholdPriceDeltaPct:    "price",
	ThresholdPriceDeltaAbs:    "price",
	ThresholdImagesChanged:    "images",
	ThresholdMainImageChanged: "main image",
}

// Render builds the subject line and a short multi-line preview of what
// changed. The subject names the fired signals; the preview covers every
// changed signal so the recipient sees the full picture.
func Render(target *core.Target, sum signal.Summary, fired []string) (subject, preview string) {
	var labels []string
	seen := make(map[string]bool)
	for _, name := range fired {
		label, ok := thresholdLabels[name]
		if !ok || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}

	what := "changes"
	if len(labels) > 0 {
		what = strings.Join(labels, ", ") + " changed"
	}
	subject = fmt.Sprintf("[%s/%s] %s", target.Marketplace, target.TargetType, what)

	var lines []string
	if sum.TitleChanged {
		lines = append(lines, fmt.Sprintf("Title: %q -> %q", sum.PreviousTitle, sum.CurrentTitle))
	}
	if sum.PriceChanged() {
		lines = append(lines, "Price: "+renderPrice(sum))
	}
	if sum.ImagesChanged || sum.Images.MainChanged {
		lines = append(lines, "Images: "+renderImages(sum.Images))
	}
	lines = append(lines, target.URL)

	preview = strings.Join(lines, "\n")
	if len(preview) > maxPreviewLength {
		cut := maxPreviewLength - 3
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut] + "..."
	}
	return subject, preview
}

func renderPrice(sum signal.Summary) string {
	s := formatPrice(sum.PreviousPrice) + " -> " + formatPrice(sum.CurrentPrice)
	if sum.Currency != "" {
		s += " " + sum.Currency
	}
	if sum.PriceDeltaAbs != nil {
		s += fmt.Sprintf(" (%+.2f", *sum.PriceDeltaAbs)
		if sum.PriceDeltaPct != nil {
			s += fmt.Sprintf(", %+.1f%%", *sum.PriceDeltaPct)
		}
		s += ")"
	}
	return s
}

func formatPrice(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *p)
}

func renderImages(ic signal.ImageChange) string {
	var parts []string
	if ic.AddedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d added", ic.AddedCount))
	}
	if ic.RemovedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", ic.RemovedCount))
	}
	if ic.Reordered {
		parts = append(parts, "reordered")
	}
	if ic.MainChanged {
		parts = append(parts, "main image changed")
	}
	return strings.Join(parts, ", ")
}
