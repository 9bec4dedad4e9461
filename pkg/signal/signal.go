// Package signal reduces captured payloads to the fields that matter for
// alerting and classifies changes between two observations.
//
// A Signal holds title, price, currency, rating, review count and the ordered
// image list. Only title, price, currency and images take part in the
// fingerprint, so rating or review-count churn never registers as a change.
package signal

import (
	"strconv"
	"strings"

	"github.com/kairos-watch/capture/pkg/value"
)

// Payload member names read from a normalized capture.
const (
	FieldTitle       = "title"
	FieldPrice       = "price"
	FieldCurrency    = "currency"
	FieldRating      = "rating"
	FieldReviewCount = "reviewCount"
	FieldImages      = "images"
)

// Signal is the alert-relevant projection of a capture.
type Signal struct {
	Title       string
	Price       *float64
	Currency    string
	Rating      *float64
	ReviewCount *int
	Images      []string
}

// FromPayload projects a normalized payload onto a Signal. Unknown members are
// ignored; members of the wrong type are treated as missing.
func FromPayload(v value.Value) Signal {
	var s Signal
	if title, ok := v.Get(FieldTitle).AsString(); ok {
		s.Title = title
	}

	price := v.Get(FieldPrice)
	if price.Kind() == value.KindObject {
		// {"amount": 12.5, "currency": "EUR"}
		if cur, ok := price.Get("currency").AsString(); ok {
			s.Currency = cur
		}
		price = price.Get("amount")
	}
	s.Price = numberOf(price)

	if cur, ok := v.Get(FieldCurrency).AsString(); ok {
		s.Currency = cur
	}
	s.Rating = numberOf(v.Get(FieldRating))
	if n := numberOf(v.Get(FieldReviewCount)); n != nil {
		c := int(*n)
		s.ReviewCount = &c
	}

	for _, img := range v.Get(FieldImages).Elems() {
		if id := imageID(img); id != "" {
			s.Images = append(s.Images, id)
		}
	}
	return s
}

// numberOf accepts numbers and numeric strings such as "1,299.00".
func numberOf(v value.Value) *float64 {
	if n, ok := v.AsNumber(); ok {
		return &n
	}
	if str, ok := v.AsString(); ok {
		cleaned := strings.ReplaceAll(strings.TrimSpace(str), ",", "")
		if n, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return &n
		}
	}
	return nil
}

// imageID returns the identifier of an image entry: the string itself, or
// the url/src member of an object.
func imageID(v value.Value) string {
	if s, ok := v.AsString(); ok {
		return strings.TrimSpace(s)
	}
	for _, key := range []string{"url", "src", "id"} {
		if s, ok := v.Get(key).AsString(); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// Value renders the full signal, including rating and review count.
func (s Signal) Value() value.Value {
	fields := s.fingerprintFields()
	if s.Rating != nil {
		fields[FieldRating] = value.Number(*s.Rating)
	}
	if s.ReviewCount != nil {
		fields[FieldReviewCount] = value.Number(float64(*s.ReviewCount))
	}
	return value.Object(fields)
}

func (s Signal) fingerprintFields() map[string]value.Value {
	fields := map[string]value.Value{}
	if t := strings.TrimSpace(s.Title); t != "" {
		fields[FieldTitle] = value.String(t)
	}
	if s.Price != nil {
		fields[FieldPrice] = value.Number(*s.Price)
	}
	if s.Currency != "" {
		fields[FieldCurrency] = value.String(s.Currency)
	}
	images := make([]value.Value, len(s.Images))
	for i, id := range s.Images {
		images[i] = value.String(id)
	}
	fields[FieldImages] = value.Array(images...)
	return fields
}

// Fingerprint hashes the canonical form of the fingerprint fields (title,
// price, currency, images). Rating and review count are excluded.
func (s Signal) Fingerprint() string {
	return value.Hash(value.Object(s.fingerprintFields()))
}

// Fingerprint is shorthand for FromPayload(v).Fingerprint().
func Fingerprint(v value.Value) string {
	return FromPayload(v).Fingerprint()
}
