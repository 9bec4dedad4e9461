package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/storage"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T) (*Queue, *storage.GormStorage) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, storage.ConfigurePool(db, storage.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}))

	store := storage.NewGormStorage(db, storage.WithClock(func() time.Time { return testNow }))
	require.NoError(t, store.Migrate(context.Background()))

	q := New(store)
	q.SetClock(func() time.Time { return testNow })
	return q, store
}

func addTestTarget(t *testing.T, q *Queue) *core.Target {
	t.Helper()
	target := &core.Target{
		Marketplace: "etsy",
		TargetType:  core.TargetListing,
		URL:         "https://www.etsy.com/listing/123",
		Cadence:     "@every 6h",
		Enabled:     true,
	}
	require.NoError(t, q.AddTarget(context.Background(), target))
	return target
}

func TestNew_CreatesQueue(t *testing.T) {
	q, store := newTestQueue(t)

	assert.Equal(t, store, q.Storage())
	assert.Equal(t, testNow, q.Now())
}

// ──────────────────────────────────────────────────────────────────────────────
// Targets
// ──────────────────────────────────────────────────────────────────────────────

func TestQueue_AddTarget_RejectsBadCadence(t *testing.T) {
	q, _ := newTestQueue(t)

	err := q.AddTarget(context.Background(), &core.Target{
		Marketplace: "etsy",
		TargetType:  core.TargetListing,
		URL:         "https://www.etsy.com/listing/123",
		Cadence:     "every so often",
	})
	assert.ErrorIs(t, err, core.ErrInvalidCadence)
}

func TestQueue_AddTarget_RejectsInvalidTarget(t *testing.T) {
	q, _ := newTestQueue(t)

	err := q.AddTarget(context.Background(), &core.Target{Marketplace: "etsy", TargetType: "shop", URL: "https://x.test"})
	assert.ErrorIs(t, err, core.ErrInvalidTarget)
}

// ──────────────────────────────────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────────────────────────────────

func TestQueue_Enqueue_Success(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	target := addTestTarget(t, q)

	jobID, err := q.Enqueue(ctx, target.ID)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, core.StatusQueued, job.Status)
	assert.Equal(t, core.TriggerSchedule, job.Trigger)
	assert.Equal(t, core.DefaultMaxAttempts, job.MaxAttempts)
}

func TestQueue_Enqueue_WithOptions(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	target := addTestTarget(t, q)

	jobID, err := q.Enqueue(ctx, target.ID, Delay(time.Hour), MaxAttempts(2))
	require.NoError(t, err)

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.WithinDuration(t, testNow.Add(time.Hour), job.ScheduledAt, time.Second)
	assert.Equal(t, 2, job.MaxAttempts)
}

func TestQueue_Enqueue_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	target := addTestTarget(t, q)

	_, err := q.Enqueue(ctx, target.ID)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, target.ID)
	assert.ErrorIs(t, err, core.ErrDuplicateJob)

	_, err = q.Enqueue(ctx, target.ID, AllowDuplicate())
	assert.NoError(t, err)
}

func TestQueue_Enqueue_UnknownTarget(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrTargetNotFound)
}

func TestQueue_Trigger_ManualJob(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	target := addTestTarget(t, q)

	jobID, err := q.Trigger(ctx, target.ID)
	require.NoError(t, err)

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.TriggerManual, job.Trigger)
	assert.WithinDuration(t, testNow, job.ScheduledAt, time.Second)
}

func TestQueue_Trigger_DisabledTarget(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	target := addTestTarget(t, q)
	target.Enabled = false
	require.NoError(t, q.AddTarget(ctx, target))

	_, err := q.Trigger(ctx, target.ID)
	assert.ErrorIs(t, err, core.ErrTargetDisabled)
}

// ──────────────────────────────────────────────────────────────────────────────
// Hooks and events
// ──────────────────────────────────────────────────────────────────────────────

func TestQueue_Hooks(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	job := &core.Job{ID: "job-1"}

	var claimed, recorded, failed, retried int
	q.OnJobClaim(func(context.Context, *core.Job) { claimed++ })
	q.OnRunRecorded(func(_ context.Context, _ *core.Job, run *core.Run) {
		assert.Equal(t, "run-1", run.ID)
		recorded++
	})
	q.OnJobFail(func(context.Context, *core.Job, error) { failed++ })
	q.OnRetry(func(_ context.Context, _ *core.Job, attempt int, _ error) {
		assert.Equal(t, 2, attempt)
		retried++
	})

	q.CallClaimHooks(ctx, job)
	q.CallRecordedHooks(ctx, job, &core.Run{ID: "run-1"})
	q.CallFailHooks(ctx, job, assert.AnError)
	q.CallRetryHooks(ctx, job, 2, assert.AnError)

	assert.Equal(t, 1, claimed)
	assert.Equal(t, 1, recorded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, retried)
}

func TestQueue_Events(t *testing.T) {
	q, _ := newTestQueue(t)

	ch := q.Events()
	require.NotNil(t, ch)

	event := &core.JobClaimed{Job: &core.Job{ID: "test"}}
	q.Emit(event)

	select {
	case received := <-ch:
		assert.Equal(t, event, received)
	default:
		t.Fatal("expected to receive event")
	}
}

func TestQueue_Emit_DropsWhenFull(t *testing.T) {
	q, _ := newTestQueue(t)

	ch := q.Events()

	// Fill the channel (buffer size is 100)
	for range 100 {
		q.Emit(&core.JobClaimed{Job: &core.Job{ID: "test"}})
	}

	// This should not block - it should drop
	q.Emit(&core.JobClaimed{Job: &core.Job{ID: "dropped"}})

	assert.Len(t, ch, 100)
}

func TestQueue_Unsubscribe_StopsDelivery(t *testing.T) {
	q, _ := newTestQueue(t)

	ch := q.Events()

	q.Emit(&core.JobClaimed{Job: &core.Job{ID: "before"}})
	select {
	case e := <-ch:
		assert.Equal(t, "before", e.(*core.JobClaimed).Job.ID)
	default:
		t.Fatal("expected event before unsubscribe")
	}

	q.Unsubscribe(ch)

	q.Emit(&core.JobClaimed{Job: &core.Job{ID: "after"}})
	select {
	case <-ch:
		t.Fatal("should not receive events after unsubscribe")
	default:
	}
}

func TestQueue_Unsubscribe_UnknownChannel_IsNoop(t *testing.T) {
	q, _ := newTestQueue(t)

	foreign := make(chan core.Event, 100)
	q.Unsubscribe(foreign)
}

func TestQueue_Unsubscribe_ConcurrentWithEmit(t *testing.T) {
	q, _ := newTestQueue(t)

	const subscribers = 10
	channels := make([]<-chan core.Event, subscribers)
	for i := range channels {
		channels[i] = q.Events()
	}

	// Concurrently emit and unsubscribe; must not panic or race
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			q.Emit(&core.JobClaimed{Job: &core.Job{ID: "concurrent"}})
		}
	}()

	for _, ch := range channels {
		q.Unsubscribe(ch)
	}
	<-done
}
