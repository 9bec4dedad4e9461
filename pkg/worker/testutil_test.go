package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kairos-watch/capture/pkg/blob"
	"github.com/kairos-watch/capture/pkg/capture"
	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/notify"
	"github.com/kairos-watch/capture/pkg/queue"
	"github.com/kairos-watch/capture/pkg/storage"
	"github.com/kairos-watch/capture/pkg/value"
)

const testWorkerID = "worker-a"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedCapturer returns its steps in order and repeats the last one.
type scriptedCapturer struct {
	mu    sync.Mutex
	steps []func() (*capture.Result, error)
	calls int
}

func (c *scriptedCapturer) Capture(context.Context, *core.Target) (*capture.Result, error) {
	c.mu.Lock()
	step := c.steps[min(c.calls, len(c.steps)-1)]
	c.calls++
	c.mu.Unlock()
	return step()
}

func (c *scriptedCapturer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func okResult(payload string, artifacts ...capture.Artifact) func() (*capture.Result, error) {
	return func() (*capture.Result, error) {
		return &capture.Result{
			Status:              capture.StatusOK,
			FinalURL:            "https://www.etsy.com/listing/123/lamp",
			RawExtracted:        value.MustParse(`{"source":"extractor"}`),
			NormalizedExtracted: value.MustParse(payload),
			Artifacts:           artifacts,
		}, nil
	}
}

func blockedResult(notes string) func() (*capture.Result, error) {
	return func() (*capture.Result, error) {
		return &capture.Result{Status: capture.StatusBlocked, FinalURL: "https://www.etsy.com/captcha", Notes: notes}, nil
	}
}

func failing(msg string) func() (*capture.Result, error) {
	return func() (*capture.Result, error) { return nil, errors.New(msg) }
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (t *recordingTransport) Name() string { return "recording" }

func (t *recordingTransport) Send(_ context.Context, n notify.Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, n)
	return nil
}

type harness struct {
	clock  *testClock
	store  *storage.GormStorage
	queue  *queue.Queue
	blobs  *blob.FileStore
	target *core.Target
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, storage.ConfigurePool(db, storage.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}))

	clock := newTestClock()
	store := storage.NewGormStorage(db, storage.WithClock(clock.Now))
	require.NoError(t, store.Migrate(t.Context()))

	q := queue.New(store)
	q.SetClock(clock.Now)

	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	target := &core.Target{
		Marketplace: "etsy",
		TargetType:  core.TargetListing,
		URL:         "https://www.etsy.com/listing/123",
		Cadence:     "@every 6h",
		Enabled:     true,
	}
	require.NoError(t, q.AddTarget(t.Context(), target))

	return &harness{clock: clock, store: store, queue: q, blobs: blobs, target: target}
}

func (h *harness) newWorker(c capture.Capturer, opts ...WorkerOption) *Worker {
	base := []WorkerOption{
		WithWorkerID(testWorkerID),
		DisableRetry(),
		WithBlobStore(h.blobs, "test"),
	}
	return NewWorker(h.queue, c, append(base, opts...)...)
}

func (h *harness) enqueue(t *testing.T) string {
	t.Helper()
	jobID, err := h.queue.Enqueue(t.Context(), h.target.ID)
	require.NoError(t, err)
	return jobID
}

func (h *harness) job(t *testing.T, id string) *core.Job {
	t.Helper()
	job, err := h.store.GetJob(t.Context(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func (h *harness) run(t *testing.T, job *core.Job) *core.Run {
	t.Helper()
	require.NotNil(t, job.RunID, "job has no run")
	run, err := h.store.GetRun(t.Context(), *job.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	return run
}

// captureOnce enqueues a job and processes it, returning the resolved job.
func (h *harness) captureOnce(t *testing.T, w *Worker) *core.Job {
	t.Helper()
	jobID := h.enqueue(t)
	processed, err := w.ProcessNext(t.Context())
	require.NoError(t, err)
	require.True(t, processed)
	return h.job(t, jobID)
}
