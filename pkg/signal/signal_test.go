package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairos-watch/capture/pkg/value"
)

func TestFromPayload(t *testing.T) {
	v := value.MustParse(`{
		"title": "  Blue Kettle ",
		"price": "1,299.50",
		"currency": "USD",
		"rating": 4.6,
		"reviewCount": 120,
		"images": ["a.jpg", {"url": "b.jpg"}, {"src": "c.jpg"}, 7],
		"scrapedAt": "2026-01-01T00:00:00Z"
	}`)

	s := FromPayload(v)
	assert.Equal(t, "  Blue Kettle ", s.Title)
	require.NotNil(t, s.Price)
	assert.Equal(t, 1299.50, *s.Price)
	assert.Equal(t, "USD", s.Currency)
	require.NotNil(t, s.Rating)
	assert.Equal(t, 4.6, *s.Rating)
	require.NotNil(t, s.ReviewCount)
	assert.Equal(t, 120, *s.ReviewCount)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, s.Images)
}

func TestFromPayload_PriceObject(t *testing.T) {
	s := FromPayload(value.MustParse(`{"price":{"amount":19.99,"currency":"EUR"}}`))
	require.NotNil(t, s.Price)
	assert.Equal(t, 19.99, *s.Price)
	assert.Equal(t, "EUR", s.Currency)
}

func TestFromPayload_MissingFields(t *testing.T) {
	s := FromPayload(value.MustParse(`{"price":"n/a"}`))
	assert.Empty(t, s.Title)
	assert.Nil(t, s.Price)
	assert.Nil(t, s.Rating)
	assert.Nil(t, s.ReviewCount)
	assert.Empty(t, s.Images)
}

func TestFingerprint_IgnoresRatingAndReviewCount(t *testing.T) {
	a := value.MustParse(`{"title":"A","price":10,"rating":4.9,"reviewCount":10,"images":["x","y"]}`)
	b := value.MustParse(`{"title":"A","price":10,"rating":4.1,"reviewCount":99,"images":["x","y"]}`)

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_IgnoresNoiseOutsideProjection(t *testing.T) {
	a := value.MustParse(`{"title":"A","price":10,"images":[],"scrapedAt":"t1","layout":{"cols":3}}`)
	b := value.MustParse(`{"images":[],"price":10,"title":"A ","scrapedAt":"t2"}`)

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_SensitiveToSignalFields(t *testing.T) {
	base := value.MustParse(`{"title":"A","price":10,"images":["x","y"]}`)
	variants := []string{
		`{"title":"B","price":10,"images":["x","y"]}`,
		`{"title":"A","price":11,"images":["x","y"]}`,
		`{"title":"A","price":10,"images":["y","x"]}`,
		`{"title":"A","price":10,"images":["x"]}`,
		`{"title":"A","price":10,"currency":"EUR","images":["x","y"]}`,
	}
	for _, v := range variants {
		assert.NotEqual(t, Fingerprint(base), Fingerprint(value.MustParse(v)), v)
	}
}

func TestSignalValue_IncludesRating(t *testing.T) {
	rating := 4.5
	count := 3
	price := 10.0
	s := Signal{Title: "A", Price: &price, Rating: &rating, ReviewCount: &count, Images: []string{"x"}}

	assert.Equal(t,
		`{"images":["x"],"price":10,"rating":4.5,"reviewCount":3,"title":"A"}`,
		value.Canonicalize(s.Value()))
}
