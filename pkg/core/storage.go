package core

import (
	"context"
	"time"
)

// Storage defines the persistence layer for targets, jobs, runs and alerts.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Targets
	SaveTarget(ctx context.Context, target *Target) error
	GetTarget(ctx context.Context, targetID string) (*Target, error)
	ListSchedulableTargets(ctx context.Context) ([]*Target, error)
	MarkTargetScheduled(ctx context.Context, targetID string, at time.Time) error

	// Job lifecycle
	Enqueue(ctx context.Context, job *Job) error
	EnqueueUnique(ctx context.Context, job *Job) error
	Claim(ctx context.Context, workerID string) (*Job, error)
	Heartbeat(ctx context.Context, jobID string, workerID string) error
	CompleteWithRun(ctx context.Context, jobID string, workerID string, run *Run) error
	BlockWithRun(ctx context.Context, jobID string, workerID string, run *Run) error
	Fail(ctx context.Context, jobID string, workerID string, errMsg string, retryAt *time.Time) error

	// Locking
	ReleaseStaleLocks(ctx context.Context, staleAfter time.Duration) (int64, error)

	// Job queries
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetJobsByStatus(ctx context.Context, status JobStatus, limit int) ([]*Job, error)

	// Runs
	GetRun(ctx context.Context, runID string) (*Run, error)
	LatestRunWithPayload(ctx context.Context, targetID string) (*Run, error)
	ListRuns(ctx context.Context, targetID string, limit int) ([]*Run, error)

	// Alerts
	SaveAlertRule(ctx context.Context, rule *AlertRule) error
	ListAlertRules(ctx context.Context, targetID string) ([]*AlertRule, error)
	CreateAlertEvent(ctx context.Context, event *AlertEvent) error
	ListAlertEvents(ctx context.Context, ruleID string) ([]*AlertEvent, error)
}
