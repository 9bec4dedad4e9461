package worker

import (
	"context"
	"errors"
	"time"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/logger"
	"github.com/kairos-watch/capture/pkg/schedule"
)

func (w *Worker) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(w.config.ScheduleInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ScheduleDue(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Scheduler pass failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ScheduleDue enqueues a capture for every enabled target whose cadence has
// elapsed and returns how many jobs it created. A target that still has an
// outstanding job is marked scheduled without a second job, so at most one
// job per target is ever queued.
func (w *Worker) ScheduleDue(ctx context.Context) (int, error) {
	store := w.queue.Storage()
	targets, err := store.ListSchedulableTargets(ctx)
	if err != nil {
		return 0, err
	}

	now := w.queue.Now()
	enqueued := 0
	for _, target := range targets {
		s, err := schedule.Parse(target.Cadence)
		if err != nil {
			w.logger.Warn("Skipping target with invalid cadence",
				logger.String("target_id", target.ID),
				logger.String("cadence", target.Cadence),
				logger.Error(err),
			)
			continue
		}
		if !schedule.Due(s, target.LastScheduledAt, now) {
			continue
		}

		jobID, err := w.queue.Enqueue(ctx, target.ID)
		switch {
		case err == nil:
			enqueued++
			w.config.Metrics.RecordScheduled(string(core.TriggerSchedule))
			w.logger.Debug("Capture scheduled",
				logger.String("target_id", target.ID),
				logger.String("job_id", jobID),
			)
		case errors.Is(err, core.ErrDuplicateJob):
			w.logger.Debug("Target already has an outstanding job", logger.String("target_id", target.ID))
		default:
			w.logger.Error("Failed to enqueue scheduled capture",
				logger.String("target_id", target.ID),
				logger.Error(err),
			)
			continue
		}

		if err := store.MarkTargetScheduled(ctx, target.ID, now); err != nil {
			w.logger.Error("Failed to mark target scheduled",
				logger.String("target_id", target.ID),
				logger.Error(err),
			)
		}
	}
	return enqueued, nil
}
