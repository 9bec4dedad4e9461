package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kairos-watch/capture/pkg/blob"
	"github.com/kairos-watch/capture/pkg/capture"
	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/diff"
	"github.com/kairos-watch/capture/pkg/jobctx"
	"github.com/kairos-watch/capture/pkg/logger"
	"github.com/kairos-watch/capture/pkg/signal"
	"github.com/kairos-watch/capture/pkg/value"
)

// errNoPayload is returned when an ok capture carries no normalized payload.
var errNoPayload = errors.New("capture returned no normalized payload")

// outcome is a capture ready to be resolved.
type outcome struct {
	target      *core.Target
	run         *core.Run
	blocked     bool
	changed     bool
	hasPrevious bool
	previous    value.Value
	current     value.Value
}

// execute runs the capture of a claimed job and builds its run. A panic in
// the capturer is returned as an error.
func (w *Worker) execute(ctx context.Context, workerID string, job *core.Job, log logger.Logger) (out *outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Capture panicked", logger.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	store := w.queue.Storage()
	target, err := store.GetTarget(ctx, job.TargetID)
	if errors.Is(err, core.ErrTargetNotFound) {
		return nil, core.NoRetry(fmt.Errorf("target %s: %w", job.TargetID, err))
	}
	if err != nil {
		return nil, fmt.Errorf("load target: %w", err)
	}
	out = &outcome{target: target}

	prev, err := store.LatestRunWithPayload(ctx, target.ID)
	if err != nil {
		return out, fmt.Errorf("load previous run: %w", err)
	}

	startedAt := w.queue.Now()
	res, err := w.capturer.Capture(jobctx.WithJob(ctx, job, workerID), target)
	if err != nil {
		return out, err
	}
	if res == nil {
		return out, errors.New("capturer returned no result")
	}

	run := &core.Run{
		ID:        uuid.New().String(),
		TargetID:  target.ID,
		WorkerID:  workerID,
		StartedAt: startedAt,
		FinalURL:  res.FinalURL,
		Notes:     res.Notes,
	}
	out.run = run

	if res.Blocked() {
		out.blocked = true
		return out, nil
	}

	if res.NormalizedExtracted.IsAbsent() || res.NormalizedExtracted.IsNull() {
		return out, errNoPayload
	}
	out.current = res.NormalizedExtracted
	run.NormalizedExtracted = datatypes.JSON(value.Canonicalize(res.NormalizedExtracted))
	if !res.RawExtracted.IsAbsent() {
		run.RawExtracted = datatypes.JSON(value.Canonicalize(res.RawExtracted))
	}
	run.ContentHash = signal.Fingerprint(res.NormalizedExtracted)

	if prev != nil {
		if err := w.compareWithPrevious(out, prev, log); err != nil {
			return out, err
		}
	}

	if err := w.storeArtifacts(ctx, target, run, res.Artifacts, log); err != nil {
		return out, err
	}
	return out, nil
}

// compareWithPrevious links the run to its predecessor and, when the
// fingerprints differ, attaches the change summary.
func (w *Worker) compareWithPrevious(out *outcome, prev *core.Run, log logger.Logger) error {
	previous, err := prev.Normalized()
	if err != nil {
		// An unreadable predecessor is treated as no predecessor.
		log.Warn("Ignoring unreadable previous run",
			logger.String("previous_run_id", prev.ID),
			logger.Error(err),
		)
		return nil
	}

	prevID := prev.ID
	out.run.ChangedFromRunID = &prevID
	out.hasPrevious = true
	out.previous = previous

	if prev.ContentHash == out.run.ContentHash {
		return nil
	}

	sum := signal.Summarize(signal.FromPayload(previous), signal.FromPayload(out.current))
	encoded, err := core.EncodeChangeSummary(core.ChangeSummary{
		Changes: diff.Diff(previous, out.current),
		Signal:  &sum,
	})
	if err != nil {
		return err
	}
	out.run.ChangeSummary = encoded
	out.changed = true
	return nil
}

// storeArtifacts uploads artifacts and records them on the run. Upload
// failures fail the capture; oversized artifacts and bad keys are final.
func (w *Worker) storeArtifacts(
	ctx context.Context,
	target *core.Target,
	run *core.Run,
	artifacts []capture.Artifact,
	log logger.Logger,
) error {
	if len(artifacts) == 0 {
		return nil
	}
	if w.config.Blobs == nil {
		log.Warn("No blob store configured, dropping artifacts", logger.Int("count", len(artifacts)))
		return nil
	}

	for _, a := range artifacts {
		key, err := blob.ArtifactKey(blob.KeyParts{
			Env:         w.config.Env,
			Marketplace: target.Marketplace,
			TargetType:  string(target.TargetType),
			TargetID:    target.ID,
			RunID:       run.ID,
			Kind:        a.Kind,
			CapturedAt:  run.StartedAt,
		})
		if err != nil {
			return core.NoRetry(fmt.Errorf("artifact %q: %w", a.Kind, err))
		}

		hash := blob.ContentHash(a.Bytes)
		meta := map[string]string{
			"target-id":    target.ID,
			"run-id":       run.ID,
			"content-hash": hash,
		}
		err = retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
			return w.config.Blobs.Put(ctx, key, a.Bytes, a.ContentType, meta)
		})
		if errors.Is(err, core.ErrArtifactTooLarge) {
			return core.NoRetry(err)
		}
		if err != nil {
			return fmt.Errorf("store artifact %s: %w", key, err)
		}

		run.Artifacts = append(run.Artifacts, core.Artifact{
			Kind:        a.Kind,
			StorageKey:  key,
			ContentHash: hash,
			ContentType: a.ContentType,
			SizeBytes:   int64(len(a.Bytes)),
		})
		w.config.Metrics.RecordArtifact(a.Kind, int64(len(a.Bytes)))
	}
	return nil
}

