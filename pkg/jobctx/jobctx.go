// Package jobctx carries the job being processed through a capture's
// context, so capturers can tag outbound requests with it.
package jobctx

import (
	"context"

	"github.com/kairos-watch/capture/pkg/core"
)

type jobContextKey struct{}

// JobContext holds the current job and the loop that claimed it.
type JobContext struct {
	Job      *core.Job
	WorkerID string
}

// WithJob returns a context carrying job and workerID.
func WithJob(ctx context.Context, job *core.Job, workerID string) context.Context {
	return context.WithValue(ctx, jobContextKey{}, &JobContext{Job: job, WorkerID: workerID})
}

func get(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(jobContextKey{}).(*JobContext); ok {
		return jc
	}
	return nil
}

// JobFromContext returns the current Job from context, or nil outside a capture.
func JobFromContext(ctx context.Context) *core.Job {
	jc := get(ctx)
	if jc == nil {
		return nil
	}
	return jc.Job
}

// JobIDFromContext returns the current job ID from context, or empty string outside a capture.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}

// WorkerIDFromContext returns the lock owner of the current job.
func WorkerIDFromContext(ctx context.Context) string {
	jc := get(ctx)
	if jc == nil {
		return ""
	}
	return jc.WorkerID
}
