package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/schedule"
	"github.com/kairos-watch/capture/pkg/security"
)

// Queue registers targets, enqueues captures and fans out lifecycle events.
type Queue struct {
	storage core.Storage
	now     func() time.Time
	mu      sync.RWMutex

	// Hooks
	onClaim    []func(context.Context, *core.Job)
	onRecorded []func(context.Context, *core.Job, *core.Run)
	onFail     []func(context.Context, *core.Job, error)
	onRetry    []func(context.Context, *core.Job, int, error)

	// Event stream
	eventSubs []chan core.Event
}

// New creates a new Queue with the given storage backend.
func New(s core.Storage) *Queue {
	return &Queue{
		storage: s,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for delays.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Now returns the queue's current time.
func (q *Queue) Now() time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.now()
}

// Storage returns the underlying storage.
func (q *Queue) Storage() core.Storage {
	return q.storage
}

// AddTarget validates and stores a target. A non-empty cadence must parse.
func (q *Queue) AddTarget(ctx context.Context, target *core.Target) error {
	if target.Cadence != "" {
		if _, err := schedule.Parse(target.Cadence); err != nil {
			return err
		}
	}
	if err := security.ValidateTarget(target); err != nil {
		return err
	}
	return q.storage.SaveTarget(ctx, target)
}

// Enqueue schedules a capture of targetID and returns the job ID.
// By default the call fails with core.ErrDuplicateJob when the target
// already has a queued or running job.
func (q *Queue) Enqueue(ctx context.Context, targetID string, opts ...Option) (string, error) {
	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	job := &core.Job{
		TargetID:    targetID,
		Trigger:     options.Trigger,
		MaxAttempts: security.ClampAttempts(options.MaxAttempts),
		Status:      core.StatusQueued,
	}

	if options.Delay > 0 {
		job.ScheduledAt = q.Now().Add(options.Delay)
	}
	if options.RunAt != nil {
		job.ScheduledAt = options.RunAt.UTC()
	}

	if options.Unique {
		if err := q.storage.EnqueueUnique(ctx, job); err != nil {
			if errors.Is(err, core.ErrDuplicateJob) || errors.Is(err, core.ErrTargetNotFound) {
				return "", err
			}
			return "", fmt.Errorf("capture: failed to enqueue: %w", err)
		}
		return job.ID, nil
	}

	if err := q.storage.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("capture: failed to enqueue: %w", err)
	}
	return job.ID, nil
}

// Trigger enqueues an immediate manual capture of an enabled target.
func (q *Queue) Trigger(ctx context.Context, targetID string, opts ...Option) (string, error) {
	target, err := q.storage.GetTarget(ctx, targetID)
	if err != nil {
		return "", err
	}
	if !target.Enabled {
		return "", core.ErrTargetDisabled
	}
	return q.Enqueue(ctx, targetID, append([]Option{Manual()}, opts...)...)
}

// OnJobClaim registers a callback for when a worker claims a job.
func (q *Queue) OnJobClaim(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onClaim = append(q.onClaim, fn)
	q.mu.Unlock()
}

// OnRunRecorded registers a callback for when a successful capture is stored.
func (q *Queue) OnRunRecorded(fn func(context.Context, *core.Job, *core.Run)) {
	q.mu.Lock()
	q.onRecorded = append(q.onRecorded, fn)
	q.mu.Unlock()
}

// OnJobFail registers a callback for when a job fails permanently.
func (q *Queue) OnJobFail(fn func(context.Context, *core.Job, error)) {
	q.mu.Lock()
	q.onFail = append(q.onFail, fn)
	q.mu.Unlock()
}

// OnRetry registers a callback for when a failed job is re-queued.
func (q *Queue) OnRetry(fn func(context.Context, *core.Job, int, error)) {
	q.mu.Lock()
	q.onRetry = append(q.onRetry, fn)
	q.mu.Unlock()
}

// Events returns a channel for receiving queue events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling Unsubscribe.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full so a slow consumer never stalls a worker.
		}
	}
}

// CallClaimHooks calls all registered claim hooks.
func (q *Queue) CallClaimHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onClaim))
	copy(hooks, q.onClaim)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallRecordedHooks calls all registered run-recorded hooks.
func (q *Queue) CallRecordedHooks(ctx context.Context, job *core.Job, run *core.Run) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, *core.Run), len(q.onRecorded))
	copy(hooks, q.onRecorded)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, run)
	}
}

// CallFailHooks calls all registered fail hooks.
func (q *Queue) CallFailHooks(ctx context.Context, job *core.Job, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, error), len(q.onFail))
	copy(hooks, q.onFail)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

// CallRetryHooks calls all registered retry hooks.
func (q *Queue) CallRetryHooks(ctx context.Context, job *core.Job, attempt int, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, int, error), len(q.onRetry))
	copy(hooks, q.onRetry)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, attempt, err)
	}
}
