package worker

import (
	"context"
	"time"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/logger"
)

// jobCounter is implemented by storages that can report queue depth.
type jobCounter interface {
	CountJobsByStatus(ctx context.Context) (map[core.JobStatus]int64, error)
}

func (w *Worker) runReaper(ctx context.Context) {
	ticker := time.NewTicker(w.config.ReapInterval)
	defer ticker.Stop()

	for {
		if _, err := w.Reap(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Reaper pass failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Reap returns jobs whose lock is older than the configured staleness
// threshold to the queue and refreshes the per-status job gauges.
func (w *Worker) Reap(ctx context.Context) (int64, error) {
	var released int64
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		var reapErr error
		released, reapErr = w.queue.Storage().ReleaseStaleLocks(ctx, w.config.StaleAfter)
		return reapErr
	})
	if err != nil {
		return 0, err
	}

	if released > 0 {
		w.config.Metrics.RecordLocksReleased(released)
		w.logger.Warn("Released stale job locks",
			logger.Int64("count", released),
			logger.Duration("stale_after", w.config.StaleAfter),
		)
		w.queue.Emit(&core.LocksReleased{Count: released, Timestamp: w.queue.Now()})
	}

	if counter, ok := w.queue.Storage().(jobCounter); ok && w.config.Metrics != nil {
		counts, err := counter.CountJobsByStatus(ctx)
		if err != nil {
			w.logger.Warn("Failed to count jobs", logger.Error(err))
			return released, nil
		}
		gauges := make(map[string]int64, len(counts))
		for status, n := range counts {
			gauges[string(status)] = n
		}
		w.config.Metrics.SetJobCounts(gauges)
	}
	return released, nil
}
