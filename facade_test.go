package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	capture "github.com/kairos-watch/capture"
)

// setupTestQueue creates an in-memory SQLite storage for use in tests.
func setupTestQueue(t *testing.T) (*capture.Queue, *capture.GormStorage) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := capture.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))
	return capture.New(store), store
}

func addTarget(t *testing.T, q *capture.Queue) *capture.Target {
	t.Helper()
	target := &capture.Target{
		Marketplace: "etsy",
		TargetType:  capture.TargetListing,
		URL:         "https://www.etsy.com/listing/42",
		Cadence:     "@every 6h",
		Enabled:     true,
	}
	require.NoError(t, q.AddTarget(context.Background(), target))
	return target
}

func TestFacade_EnqueueAndProcess(t *testing.T) {
	q, store := setupTestQueue(t)
	ctx := context.Background()
	target := addTarget(t, q)

	payload, err := capture.ParseValue([]byte(`{"title":"Lamp","price":{"amount":20,"currency":"EUR"}}`))
	require.NoError(t, err)

	c := capture.CaptureFunc(func(context.Context, *capture.Target) (*capture.CaptureResult, error) {
		return &capture.CaptureResult{Status: "ok", NormalizedExtracted: payload}, nil
	})

	jobID, err := q.Enqueue(ctx, target.ID, capture.Manual())
	require.NoError(t, err)

	w := capture.NewWorker(q, c)
	processed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, capture.StatusSucceeded, job.Status)
	require.NotNil(t, job.RunID)

	run, err := store.GetRun(ctx, *job.RunID)
	require.NoError(t, err)
	assert.Equal(t, capture.Fingerprint(payload), run.ContentHash)
}

func TestFacade_DuplicateEnqueue(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()
	target := addTarget(t, q)

	_, err := q.Enqueue(ctx, target.ID)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, target.ID)
	assert.ErrorIs(t, err, capture.ErrDuplicateJob)
}

func TestFacade_Options(t *testing.T) {
	opts := &capture.Options{}
	for _, opt := range []capture.Option{
		capture.Manual(),
		capture.MaxAttempts(2),
		capture.Delay(time.Minute),
	} {
		opt.Apply(opts)
	}
	assert.Equal(t, "manual", string(opts.Trigger))
	assert.Equal(t, 2, opts.MaxAttempts)
	assert.Equal(t, time.Minute, opts.Delay)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	capture.At(at).Apply(opts)
	require.NotNil(t, opts.RunAt)
	assert.Equal(t, at, *opts.RunAt)
}

func TestFacade_WorkerOptions(t *testing.T) {
	q, _ := setupTestQueue(t)
	w := capture.NewWorker(q, capture.CaptureFunc(nil),
		capture.Concurrency(3),
		capture.WithScheduler(true),
		capture.WithReaper(time.Hour),
		capture.WithBlobStore(nil, "prod"),
	)
	cfg := w.Config()
	assert.Equal(t, 3, cfg.Concurrency)
	assert.True(t, cfg.EnableScheduler)
	assert.True(t, cfg.EnableReaper)
	assert.Equal(t, time.Hour, cfg.StaleAfter)
	assert.Equal(t, "prod", cfg.Env)
}

func TestFacade_Schedules(t *testing.T) {
	from := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // Monday

	assert.Equal(t, from.Add(time.Hour), capture.Every(time.Hour).Next(from))
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), capture.Daily(9, 0).Next(from))
	assert.Equal(t, time.Date(2026, 3, 8, 2, 0, 0, 0, time.UTC), capture.Weekly(time.Sunday, 2, 0).Next(from))
	assert.Equal(t, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), capture.Cron("0 * * * *").Next(from))

	s, err := capture.ParseCadence("@every 30m")
	require.NoError(t, err)
	assert.Equal(t, from.Add(30*time.Minute), s.Next(from))

	_, err = capture.ParseCadence("sometimes")
	assert.ErrorIs(t, err, capture.ErrInvalidCadence)
}

func TestFacade_ChangeDetection(t *testing.T) {
	before, err := capture.ParseValue([]byte(`{"title":"Lamp","price":10,"rating":4.5}`))
	require.NoError(t, err)
	after, err := capture.ParseValue([]byte(`{"rating":4.9,"price":12,"title":"Lamp"}`))
	require.NoError(t, err)

	changes := capture.Diff(before, after)
	require.Len(t, changes, 2)
	assert.Equal(t, "price", changes[0].Path)
	assert.Equal(t, "rating", changes[1].Path)

	sum := capture.Summarize(before, after)
	assert.False(t, sum.TitleChanged)
	assert.True(t, sum.PriceChanged())

	assert.Equal(t, `{"price":10,"rating":4.5,"title":"Lamp"}`, capture.Canonicalize(before))
	assert.Len(t, capture.Hash(before), 64)
	assert.NotEqual(t, capture.Fingerprint(before), capture.Fingerprint(after))
}

func TestFacade_Errors(t *testing.T) {
	base := errors.New("boom")

	var noRetry *capture.NoRetryError
	assert.ErrorAs(t, capture.NoRetry(base), &noRetry)

	var retryAfter *capture.RetryAfterError
	require.ErrorAs(t, capture.RetryAfter(time.Minute, base), &retryAfter)
	assert.Equal(t, time.Minute, retryAfter.Delay)

	d, ok := capture.RetryDelay(1)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, d)
	_, ok = capture.RetryDelay(4)
	assert.False(t, ok)
}
