package alert

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/notify"
	"github.com/kairos-watch/capture/pkg/signal"
	"github.com/kairos-watch/capture/pkg/value"
)

func ptr(f float64) *float64 { return &f }

func summarize(prev, cur string) signal.Summary {
	return signal.Summarize(
		signal.FromPayload(value.MustParse(prev)),
		signal.FromPayload(value.MustParse(cur)),
	)
}

// ──────────────────────────────────────────────────────────────────────────────
// Evaluate
// ──────────────────────────────────────────────────────────────────────────────

func TestEvaluate_TitleChanged(t *testing.T) {
	sum := summarize(`{"title":"Old"}`, `{"title":"New"}`)

	assert.Equal(t, []string{ThresholdTitleChanged}, Evaluate(sum, map[string]any{"titleChanged": true}))
	assert.Empty(t, Evaluate(sum, map[string]any{"titleChanged": false}))
	assert.Empty(t, Evaluate(sum, map[string]any{"imagesChanged": true}))
}

func TestEvaluate_PriceDeltaPct(t *testing.T) {
	up := summarize(`{"price":10}`, `{"price":12}`)
	down := summarize(`{"price":10}`, `{"price":8}`)

	assert.Equal(t, []string{ThresholdPriceDeltaPct}, Evaluate(up, map[string]any{"priceDeltaPct": 20.0}))
	assert.Equal(t, []string{ThresholdPriceDeltaPct}, Evaluate(down, map[string]any{"priceDeltaPct": 15}))
	assert.Empty(t, Evaluate(up, map[string]any{"priceDeltaPct": 25.0}))
}

func TestEvaluate_PriceDeltaPct_UndefinedNeverFires(t *testing.T) {
	sum := summarize(`{"price":0}`, `{"price":12}`)
	require.Nil(t, sum.PriceDeltaPct)

	assert.Empty(t, Evaluate(sum, map[string]any{"priceDeltaPct": 0.0}))
	assert.Equal(t, []string{ThresholdPriceDeltaAbs}, Evaluate(sum, map[string]any{"priceDeltaAbs": 5}))
}

func TestEvaluate_StoredThresholds(t *testing.T) {
	var stored datatypes.JSONMap
	require.NoError(t, stored.Scan([]byte(`{"priceDeltaPct":10,"priceDeltaAbs":1,"titleChanged":true}`)))
	require.IsType(t, json.Number(""), stored["priceDeltaPct"])

	sum := summarize(`{"title":"Lamp","price":10}`, `{"title":"Lamp","price":12}`)
	assert.Equal(t, []string{ThresholdPriceDeltaPct, ThresholdPriceDeltaAbs}, Evaluate(sum, stored))

	assert.Empty(t, Evaluate(sum, map[string]any{"priceDeltaPct": json.Number("25")}))
	assert.Empty(t, Evaluate(sum, map[string]any{"priceDeltaPct": json.Number("NaN")}))
}

func TestEvaluate_Images(t *testing.T) {
	reorder := summarize(`{"images":["a","b","c"]}`, `{"images":["a","c","b"]}`)
	newMain := summarize(`{"images":["a","b"]}`, `{"images":["b","a"]}`)

	th := map[string]any{"imagesChanged": true, "mainImageChanged": true}
	assert.Equal(t, []string{ThresholdImagesChanged}, Evaluate(reorder, th))
	assert.Equal(t, []string{ThresholdImagesChanged, ThresholdMainImageChanged}, Evaluate(newMain, th))
}

func TestEvaluate_IgnoresUnknownAndMistyped(t *testing.T) {
	sum := summarize(`{"title":"Old","price":10}`, `{"title":"New","price":20}`)

	assert.Empty(t, Evaluate(sum, nil))
	assert.Empty(t, Evaluate(sum, map[string]any{}))
	assert.Empty(t, Evaluate(sum, map[string]any{
		"ratingDrop":    1,
		"titleChanged":  "yes",
		"priceDeltaPct": "5",
		"priceDeltaAbs": -1,
	}))
}

func TestEvaluate_ReportsInFixedOrder(t *testing.T) {
	sum := summarize(
		`{"title":"Old","price":10,"images":["a"]}`,
		`{"title":"New","price":20,"images":["b"]}`,
	)
	th := map[string]any{
		"mainImageChanged": true,
		"imagesChanged":    true,
		"priceDeltaAbs":    1,
		"priceDeltaPct":    1,
		"titleChanged":     true,
	}

	assert.Equal(t, knownThresholds, Evaluate(sum, th))
}

// ──────────────────────────────────────────────────────────────────────────────
// Render
// ──────────────────────────────────────────────────────────────────────────────

func testTarget() *core.Target {
	return &core.Target{
		ID:          "target-1",
		Marketplace: "etsy",
		TargetType:  core.TargetListing,
		URL:         "https://www.etsy.com/listing/123",
		Enabled:     true,
	}
}

func TestRender_SubjectAndPreview(t *testing.T) {
	sum := summarize(
		`{"title":"Old","price":10,"currency":"EUR","images":["a","b"]}`,
		`{"title":"New","price":12,"currency":"EUR","images":["a","b","c"]}`,
	)

	subject, preview := Render(testTarget(), sum, []string{ThresholdTitleChanged, ThresholdPriceDeltaPct, ThresholdPriceDeltaAbs})

	assert.Equal(t, "[etsy/listing] title, price changed", subject)
	assert.Contains(t, preview, `Title: "Old" -> "New"`)
	assert.Contains(t, preview, "Price: 10.00 -> 12.00 EUR (+2.00, +20.0%)")
	assert.Contains(t, preview, "Images: 1 added")
	assert.Contains(t, preview, "https://www.etsy.com/listing/123")
}

func TestRender_PriceDisappeared(t *testing.T) {
	sum := signal.Summary{PreviousPrice: ptr(10)}

	_, preview := Render(testTarget(), sum, nil)
	assert.Contains(t, preview, "Price: 10.00 -> n/a")
}

func TestRender_TruncatesPreview(t *testing.T) {
	long := make([]byte, 2*maxPreviewLength)
	for i := range long {
		long[i] = 'x'
	}
	sum := signal.Summary{TitleChanged: true, PreviousTitle: "a", CurrentTitle: string(long)}

	_, preview := Render(testTarget(), sum, []string{ThresholdTitleChanged})
	assert.Len(t, preview, maxPreviewLength)
	assert.True(t, len(preview) > 3 && preview[len(preview)-3:] == "...")
}

func TestRender_TruncatesOnRuneBoundary(t *testing.T) {
	sum := signal.Summary{
		TitleChanged:  true,
		PreviousTitle: "ランプ",
		CurrentTitle:  strings.Repeat("日本", 400),
	}

	_, preview := Render(testTarget(), sum, []string{ThresholdTitleChanged})
	assert.True(t, utf8.ValidString(preview))
	assert.LessOrEqual(t, len(preview), maxPreviewLength)
	assert.True(t, strings.HasSuffix(preview, "..."))
}

// ──────────────────────────────────────────────────────────────────────────────
// Dispatcher
// ──────────────────────────────────────────────────────────────────────────────

type fakeStore struct {
	mu        sync.Mutex
	rules     []*core.AlertRule
	events    []*core.AlertEvent
	listErr   error
	createErr error
}

func (s *fakeStore) ListAlertRules(_ context.Context, targetID string) ([]*core.AlertRule, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*core.AlertRule
	for _, r := range s.rules {
		if r.TargetID == targetID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateAlertEvent(_ context.Context, e *core.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.events = append(s.events, e)
	return nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []notify.Notification
	fail map[string]bool // rule IDs to reject
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Send(_ context.Context, n notify.Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail[n.RuleID] {
		return errors.New("destination unreachable")
	}
	t.sent = append(t.sent, n)
	return nil
}

var dispatchNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(store Store, tr notify.Transport, emit func(core.Event)) *Dispatcher {
	return NewDispatcher(store, tr,
		WithClock(func() time.Time { return dispatchNow }),
		WithEmitter(emit),
	)
}

func TestDispatcher_SendsAndPersists(t *testing.T) {
	store := &fakeStore{rules: []*core.AlertRule{{
		ID:          "rule-1",
		TargetID:    "target-1",
		Name:        "price watch",
		Enabled:     true,
		Thresholds:  map[string]any{"priceDeltaPct": 10.0},
		Destination: "https://hooks.example.com/a",
	}}}
	tr := &fakeTransport{}
	var emitted []core.Event
	d := newTestDispatcher(store, tr, func(e core.Event) { emitted = append(emitted, e) })

	events, err := d.Dispatch(context.Background(), testTarget(), &core.Run{ID: "run-2"},
		value.MustParse(`{"price":10}`), value.MustParse(`{"price":12}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "rule-1", ev.RuleID)
	assert.Equal(t, "run-2", ev.RunID)
	assert.Equal(t, dispatchNow, ev.SentAt)
	assert.Equal(t, "[etsy/listing] price changed", ev.Subject)

	var fired []string
	require.NoError(t, json.Unmarshal(ev.Fired, &fired))
	assert.Equal(t, []string{"priceDeltaPct"}, fired)

	require.Len(t, tr.sent, 1)
	n := tr.sent[0]
	assert.Equal(t, ev.ID, n.EventID)
	assert.Equal(t, "price watch", n.RuleName)
	assert.Equal(t, "https://hooks.example.com/a", n.Destination)
	require.NotNil(t, n.Summary)
	assert.InDelta(t, 20.0, *n.Summary.PriceDeltaPct, 1e-9)

	assert.Len(t, store.events, 1)
	require.Len(t, emitted, 1)
	assert.Equal(t, ev, emitted[0].(*core.AlertSent).Event)
}

func TestDispatcher_NoThresholdsNeverFires(t *testing.T) {
	store := &fakeStore{rules: []*core.AlertRule{{ID: "rule-1", TargetID: "target-1", Enabled: true}}}
	tr := &fakeTransport{}
	d := newTestDispatcher(store, tr, nil)

	events, err := d.Dispatch(context.Background(), testTarget(), &core.Run{ID: "run-2"},
		value.MustParse(`{"title":"Old"}`), value.MustParse(`{"title":"New"}`))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, tr.sent)
}

func TestDispatcher_SkipsDisabledRules(t *testing.T) {
	store := &fakeStore{rules: []*core.AlertRule{{
		ID: "rule-1", TargetID: "target-1", Enabled: false,
		Thresholds: map[string]any{"titleChanged": true},
	}}}
	tr := &fakeTransport{}
	d := newTestDispatcher(store, tr, nil)

	events, err := d.Dispatch(context.Background(), testTarget(), &core.Run{ID: "run-2"},
		value.MustParse(`{"title":"Old"}`), value.MustParse(`{"title":"New"}`))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, tr.sent)
}

func TestDispatcher_OneFailingRuleDoesNotStopOthers(t *testing.T) {
	th := map[string]any{"titleChanged": true}
	store := &fakeStore{rules: []*core.AlertRule{
		{ID: "rule-1", TargetID: "target-1", Enabled: true, Thresholds: th},
		{ID: "rule-2", TargetID: "target-1", Enabled: true, Thresholds: th},
	}}
	tr := &fakeTransport{fail: map[string]bool{"rule-1": true}}
	d := newTestDispatcher(store, tr, nil)

	events, err := d.Dispatch(context.Background(), testTarget(), &core.Run{ID: "run-2"},
		value.MustParse(`{"title":"Old"}`), value.MustParse(`{"title":"New"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule rule-1")
	assert.Contains(t, err.Error(), "destination unreachable")

	require.Len(t, events, 1)
	assert.Equal(t, "rule-2", events[0].RuleID)
	assert.Len(t, store.events, 1)
}

func TestDispatcher_ListError(t *testing.T) {
	store := &fakeStore{listErr: errors.New("db down")}
	d := newTestDispatcher(store, &fakeTransport{}, nil)

	_, err := d.Dispatch(context.Background(), testTarget(), &core.Run{ID: "run-2"}, value.Null(), value.Null())
	assert.ErrorContains(t, err, "db down")
}

func TestDispatcher_PersistError(t *testing.T) {
	store := &fakeStore{
		rules: []*core.AlertRule{{
			ID: "rule-1", TargetID: "target-1", Enabled: true,
			Thresholds: map[string]any{"titleChanged": true},
		}},
		createErr: errors.New("disk full"),
	}
	tr := &fakeTransport{}
	d := newTestDispatcher(store, tr, nil)

	events, err := d.Dispatch(context.Background(), testTarget(), &core.Run{ID: "run-2"},
		value.MustParse(`{"title":"Old"}`), value.MustParse(`{"title":"New"}`))
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, events)
	assert.Len(t, tr.sent, 1)
}
