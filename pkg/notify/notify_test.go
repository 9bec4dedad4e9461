package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairos-watch/capture/pkg/logger"
	"github.com/kairos-watch/capture/pkg/signal"
)

func testNotification() Notification {
	prev, cur := 19.99, 17.99
	return Notification{
		EventID:  "evt-1",
		RuleID:   "rule-1",
		TargetID: "target-1",
		RunID:    "run-1",
		Subject:  "Price changed",
		Preview:  "Price 19.99 -> 17.99 (-10.0%)",
		Fired:    []string{"priceDeltaPct"},
		Summary:  &signal.Summary{PreviousPrice: &prev, CurrentPrice: &cur},
		SentAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Webhook
// ──────────────────────────────────────────────────────────────────────────────

func TestWebhookTransport_PostsJSON(t *testing.T) {
	var got Notification
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewWebhookTransport(srv.URL)
	require.NoError(t, tr.Send(context.Background(), testNotification()))

	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "evt-1", header.Get("X-Kairos-Event"))
	assert.Equal(t, "rule-1", got.RuleID)
	assert.Equal(t, []string{"priceDeltaPct"}, got.Fired)
	require.NotNil(t, got.Summary)
	assert.InDelta(t, 17.99, *got.Summary.CurrentPrice, 1e-9)
}

func TestWebhookTransport_DestinationOverridesDefault(t *testing.T) {
	hit := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- r.URL.Path
	}))
	defer srv.Close()

	n := testNotification()
	n.Destination = srv.URL + "/hooks/rule-1"
	tr := NewWebhookTransport("http://127.0.0.1:1/unused")
	require.NoError(t, tr.Send(context.Background(), n))
	assert.Equal(t, "/hooks/rule-1", <-hit)
}

func TestWebhookTransport_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookTransport(srv.URL).Send(context.Background(), testNotification())
	assert.ErrorContains(t, err, "502")
}

func TestWebhookTransport_NoDestination(t *testing.T) {
	err := NewWebhookTransport("").Send(context.Background(), testNotification())
	assert.Error(t, err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Multi and log
// ──────────────────────────────────────────────────────────────────────────────

type recordingTransport struct {
	name string
	err  error
	sent []Notification
}

func (r *recordingTransport) Name() string { return r.name }

func (r *recordingTransport) Send(_ context.Context, n Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

func TestMulti_SendsToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingTransport{name: "ok"}
	bad := &recordingTransport{name: "bad", err: errors.New("down")}
	m := Multi{ok, bad}

	err := m.Send(context.Background(), testNotification())
	require.Error(t, err)
	assert.ErrorContains(t, err, "bad: down")
	assert.Len(t, ok.sent, 1)
	assert.Len(t, bad.sent, 1)
	assert.Equal(t, "multi:ok,bad", m.Name())
}

func TestLogTransport(t *testing.T) {
	tr := NewLogTransport(logger.NewNop())
	assert.Equal(t, "log", tr.Name())
	assert.NoError(t, tr.Send(context.Background(), testNotification()))
}

// ──────────────────────────────────────────────────────────────────────────────
// Redis
// ──────────────────────────────────────────────────────────────────────────────

// TestRedisTransport_XAdd runs against a live Redis when TEST_REDIS_ADDR is
// set, e.g. TEST_REDIS_ADDR=localhost:6379.
func TestRedisTransport_XAdd(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping Redis test")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	stream := "kairos:alerts:test:" + time.Now().Format("150405.000000")
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	tr := NewRedisTransport(client, stream, 1000)
	require.NoError(t, tr.Send(ctx, testNotification()))

	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rule-1", msgs[0].Values["rule_id"])

	var decoded Notification
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["notification"].(string)), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
}

func TestNewRedisTransport_DefaultStream(t *testing.T) {
	tr := NewRedisTransport(nil, "", 0)
	assert.Equal(t, DefaultStream, tr.stream)
	assert.Equal(t, "redis", tr.Name())
}
