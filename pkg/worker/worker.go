package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kairos-watch/capture/pkg/capture"
	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/logger"
	"github.com/kairos-watch/capture/pkg/metrics"
	"github.com/kairos-watch/capture/pkg/queue"
)

// Worker claims capture jobs, runs them through the capturer and records
// the resulting runs.
type Worker struct {
	queue    *queue.Queue
	capturer capture.Capturer
	config   WorkerConfig
	logger   logger.Logger
	wg       sync.WaitGroup
}

// NewWorker creates a new worker for the given queue and capturer.
func NewWorker(q *queue.Queue, c capture.Capturer, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		WorkerID:          uuid.New().String(),
		Concurrency:       1,
		PollInterval:      DefaultPollInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
		StaleAfter:        DefaultStaleAfter,
		ReapInterval:      DefaultReapInterval,
		ScheduleInterval:  DefaultScheduleInterval,
		Env:               DefaultEnv,
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	if config.StorageRetry == nil {
		defaultCfg := DefaultRetryConfig()
		config.StorageRetry = &defaultCfg
	}
	if config.ClaimRetry == nil {
		claimCfg := defaultClaimRetryConfig()
		config.ClaimRetry = &claimCfg
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}

	return &Worker{
		queue:    q,
		capturer: c,
		config:   config,
		logger:   config.Logger.With(logger.String("worker_id", config.WorkerID)),
	}
}

// ID returns the worker identity.
func (w *Worker) ID() string {
	return w.config.WorkerID
}

// Config returns a copy of the effective configuration.
func (w *Worker) Config() WorkerConfig {
	return w.config
}

// loopIDs returns one identity per capture loop.
func (w *Worker) loopIDs() []string {
	if w.config.Concurrency <= 1 {
		return []string{w.config.WorkerID}
	}
	ids := make([]string, w.config.Concurrency)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s/%d", w.config.WorkerID, i)
	}
	return ids
}

// Start runs the capture loops, and the scheduler and reaper when enabled.
// Blocks until the context is cancelled and every in-flight capture has been
// resolved.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Worker starting",
		logger.Int("concurrency", w.config.Concurrency),
		logger.Duration("poll_interval", w.config.PollInterval),
		logger.Bool("scheduler", w.config.EnableScheduler),
		logger.Bool("reaper", w.config.EnableReaper),
	)

	if w.config.EnableScheduler {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runScheduler(ctx)
		}()
	}
	if w.config.EnableReaper {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runReaper(ctx)
		}()
	}

	for _, id := range w.loopIDs() {
		w.wg.Add(1)
		go w.processLoop(ctx, id)
	}

	<-ctx.Done()
	w.wg.Wait()
	w.logger.Info("Worker stopped")
	return ctx.Err()
}

// processLoop is one sequential claim-capture-resolve loop.
func (w *Worker) processLoop(ctx context.Context, workerID string) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.processNext(ctx, workerID)
		if processed {
			continue
		}
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error("Failed to claim job after retries",
				logger.String("loop_id", workerID),
				logger.Error(err),
			)
		}

		timer := time.NewTimer(w.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// ProcessNext claims and runs at most one job under the worker identity. It
// reports false with a nil error when no job was due.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	return w.processNext(ctx, w.config.WorkerID)
}

func (w *Worker) processNext(ctx context.Context, workerID string) (bool, error) {
	job, err := w.claimWithRetry(ctx, workerID)
	if errors.Is(err, core.ErrNoJobAvailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	w.processJob(ctx, workerID, job)
	return true, nil
}

// claimWithRetry claims a job with exponential backoff on storage failure.
func (w *Worker) claimWithRetry(ctx context.Context, workerID string) (*core.Job, error) {
	var job *core.Job
	err := retryWithBackoff(ctx, *w.config.ClaimRetry, func() error {
		var claimErr error
		job, claimErr = w.queue.Storage().Claim(ctx, workerID)
		return claimErr
	})
	return job, err
}

func (w *Worker) processJob(ctx context.Context, workerID string, job *core.Job) {
	startTime := time.Now()
	log := w.logger.With(
		logger.String("loop_id", workerID),
		logger.String("job_id", job.ID),
		logger.String("target_id", job.TargetID),
	)

	w.config.Metrics.RecordJobStarted()
	defer w.config.Metrics.RecordJobFinished()

	w.queue.CallClaimHooks(ctx, job)
	w.queue.Emit(&core.JobClaimed{Job: job, WorkerID: workerID, Timestamp: w.queue.Now()})
	log.Debug("Job claimed", logger.Int("attempt", job.AttemptCount))

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, workerID, job, log)

	out, err := w.execute(ctx, workerID, job, log)

	// Stop heartbeat before resolving the job
	cancelHeartbeat()

	// Resolve even if shutdown cancelled the capture, so the lock is not
	// left for the reaper.
	ctx = context.WithoutCancel(ctx)

	marketplace := "unknown"
	if out != nil && out.target != nil {
		marketplace = out.target.Marketplace
	}
	elapsed := time.Since(startTime)

	if err != nil {
		w.config.Metrics.RecordCapture(marketplace, metrics.OutcomeError, elapsed.Seconds())
		w.handleError(ctx, workerID, job, err, log)
		return
	}

	if out.blocked {
		w.resolveBlocked(ctx, workerID, job, out, elapsed, log)
		return
	}
	w.resolveSucceeded(ctx, workerID, job, out, elapsed, log)
}

func (w *Worker) resolveBlocked(
	ctx context.Context,
	workerID string,
	job *core.Job,
	out *outcome,
	elapsed time.Duration,
	log logger.Logger,
) {
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.queue.Storage().BlockWithRun(ctx, job.ID, workerID, out.run)
	})
	if err != nil {
		w.logResolutionError("blocked", err, log)
		return
	}

	w.config.Metrics.RecordCapture(out.target.Marketplace, metrics.OutcomeBlocked, elapsed.Seconds())
	log.Warn("Capture blocked",
		logger.String("run_id", out.run.ID),
		logger.String("notes", out.run.Notes),
	)
	w.queue.Emit(&core.JobBlocked{Job: job, Run: out.run, Timestamp: w.queue.Now()})
}

func (w *Worker) resolveSucceeded(
	ctx context.Context,
	workerID string,
	job *core.Job,
	out *outcome,
	elapsed time.Duration,
	log logger.Logger,
) {
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.queue.Storage().CompleteWithRun(ctx, job.ID, workerID, out.run)
	})
	if err != nil {
		w.logResolutionError("succeeded", err, log)
		return
	}

	w.config.Metrics.RecordCapture(out.target.Marketplace, metrics.OutcomeOK, elapsed.Seconds())
	if out.changed {
		w.config.Metrics.RecordChange(out.target.Marketplace)
	}
	log.Info("Run recorded",
		logger.String("run_id", out.run.ID),
		logger.String("content_hash", out.run.ContentHash),
		logger.Bool("changed", out.changed),
		logger.Duration("duration", elapsed),
	)

	w.queue.CallRecordedHooks(ctx, job, out.run)
	w.queue.Emit(&core.RunRecorded{
		Job:       job,
		Run:       out.run,
		Changed:   out.changed,
		Duration:  elapsed,
		Timestamp: w.queue.Now(),
	})

	w.dispatchAlerts(ctx, out, log)
}

// dispatchAlerts runs the alert pipeline after the run is committed. Errors
// are logged only.
func (w *Worker) dispatchAlerts(ctx context.Context, out *outcome, log logger.Logger) {
	if w.config.Alerts == nil || !out.hasPrevious || !out.changed {
		return
	}
	events, err := w.config.Alerts.Dispatch(ctx, out.target, out.run, out.previous, out.current)
	if err != nil {
		log.Warn("Alert dispatch failed",
			logger.String("run_id", out.run.ID),
			logger.Error(err),
		)
	}
	if len(events) > 0 {
		log.Debug("Alerts sent", logger.Int("count", len(events)))
	}
}

func (w *Worker) logResolutionError(status string, err error, log logger.Logger) {
	if errors.Is(err, core.ErrJobNotOwned) {
		// The reaper reclaimed the job; another worker owns it now.
		log.Warn("Lost job lock before resolution", logger.String("status", status))
		return
	}
	log.Error("Failed to resolve job after retries",
		logger.String("status", status),
		logger.Error(err),
	)
}

// runHeartbeat periodically extends the job lock during a capture so the
// reaper does not reclaim it.
func (w *Worker) runHeartbeat(ctx context.Context, workerID string, job *core.Job, log logger.Logger) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
				return w.queue.Storage().Heartbeat(ctx, job.ID, workerID)
			})
			switch {
			case err == nil:
				log.Debug("Heartbeat sent")
			case errors.Is(err, core.ErrJobNotOwned):
				log.Warn("Heartbeat rejected, lock lost")
				return
			case ctx.Err() != nil:
				return
			default:
				log.Warn("Heartbeat failed after retries", logger.Error(err))
			}
		}
	}
}

// handleError routes a failed capture through the retry ladder.
func (w *Worker) handleError(ctx context.Context, workerID string, job *core.Job, err error, log logger.Logger) {
	now := w.queue.Now()
	retryAt := queue.NextRetry(job, now, err)

	if !w.failWithRetry(ctx, workerID, job.ID, err.Error(), retryAt, log) {
		return
	}

	if retryAt != nil {
		w.config.Metrics.RecordRetry()
		log.Warn("Capture failed, retrying",
			logger.Int("attempt", job.AttemptCount),
			logger.Time("next_run_at", *retryAt),
			logger.Error(err),
		)
		w.queue.CallRetryHooks(ctx, job, job.AttemptCount, err)
		w.queue.Emit(&core.JobRetrying{
			Job:       job,
			Attempt:   job.AttemptCount,
			Error:     err,
			NextRunAt: *retryAt,
			Timestamp: now,
		})
		return
	}

	w.config.Metrics.RecordFailure()
	log.Error("Capture failed permanently",
		logger.Int("attempt", job.AttemptCount),
		logger.Error(err),
	)
	w.queue.CallFailHooks(ctx, job, err)
	w.queue.Emit(&core.JobFailed{Job: job, Error: err, Timestamp: now})
}

// failWithRetry records the failure with retry on transient storage failures.
// It reports whether the failure was stored.
func (w *Worker) failWithRetry(
	ctx context.Context,
	workerID, jobID, errMsg string,
	retryAt *time.Time,
	log logger.Logger,
) bool {
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.queue.Storage().Fail(ctx, jobID, workerID, errMsg, retryAt)
	})
	if err != nil {
		w.logResolutionError("failed", err, log)
		return false
	}
	return true
}
