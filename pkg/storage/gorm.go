// Package storage provides storage implementations for the capture pipeline.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/security"
)

// claimCandidates is how many due rows the SQLite claim path inspects before
// giving up on a contended poll.
const claimCandidates = 8

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db  *gorm.DB
	now func() time.Time
}

// StorageOption configures a GormStorage.
type StorageOption func(*GormStorage)

// WithClock overrides the time source used for scheduling decisions.
func WithClock(now func() time.Time) StorageOption {
	return func(s *GormStorage) {
		if now != nil {
			s.now = now
		}
	}
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...StorageOption) *GormStorage {
	s := &GormStorage{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying connection.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the storage runs on SQLite, which has no row
// locking and relies on conditional updates for claim exclusivity.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector.Name() == "sqlite"
}

func (s *GormStorage) clock() time.Time {
	return s.now().UTC()
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Target{},
		&core.Job{},
		&core.Run{},
		&core.Artifact{},
		&core.AlertRule{},
		&core.AlertEvent{},
	)
}

// ──────────────────────────────────────────────────────────────────────────────
// Targets
// ──────────────────────────────────────────────────────────────────────────────

// SaveTarget inserts or replaces a target.
func (s *GormStorage) SaveTarget(ctx context.Context, target *core.Target) error {
	if err := security.ValidateTarget(target); err != nil {
		return err
	}
	if target.ID == "" {
		target.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(target).Error
}

// GetTarget retrieves a target by ID.
func (s *GormStorage) GetTarget(ctx context.Context, targetID string) (*core.Target, error) {
	var target core.Target
	err := s.db.WithContext(ctx).First(&target, "id = ?", targetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrTargetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &target, nil
}

// ListSchedulableTargets returns enabled targets that carry a cadence.
func (s *GormStorage) ListSchedulableTargets(ctx context.Context) ([]*core.Target, error) {
	var targets []*core.Target
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where("cadence <> ?", "").
		Order("id ASC").
		Find(&targets).Error
	return targets, err
}

// MarkTargetScheduled records the last time the scheduler enqueued a target.
func (s *GormStorage) MarkTargetScheduled(ctx context.Context, targetID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&core.Target{}).
		Where("id = ?", targetID).
		Update("last_scheduled_at", at.UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrTargetNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Job lifecycle
// ──────────────────────────────────────────────────────────────────────────────

func (s *GormStorage) prepareJob(job *core.Job) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = core.StatusQueued
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = s.clock()
	}
	job.ScheduledAt = job.ScheduledAt.UTC()
	if job.MaxAttempts == 0 {
		job.MaxAttempts = core.DefaultMaxAttempts
	}
	job.MaxAttempts = security.ClampAttempts(job.MaxAttempts)
	if job.Trigger == "" {
		job.Trigger = core.TriggerSchedule
	}
	job.AttemptCount = 0
	job.LockedBy = ""
	job.LockedAt = nil
}

// Enqueue inserts a QUEUED job. Missing fields get their defaults: a new ID,
// ScheduledAt of now and the default attempt budget.
func (s *GormStorage) Enqueue(ctx context.Context, job *core.Job) error {
	if job.TargetID == "" {
		return core.ErrInvalidTarget
	}
	s.prepareJob(job)
	return s.db.WithContext(ctx).Create(job).Error
}

// EnqueueUnique inserts a job only if its target exists and has no QUEUED or
// RUNNING job yet. It returns core.ErrDuplicateJob otherwise.
func (s *GormStorage) EnqueueUnique(ctx context.Context, job *core.Job) error {
	if job.TargetID == "" {
		return core.ErrInvalidTarget
	}
	s.prepareJob(job)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&core.Target{}).Where("id = ?", job.TargetID)
		if !s.IsSQLite() {
			// Serialize concurrent enqueues for the same target.
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var target core.Target
		if err := q.First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrTargetNotFound
			}
			return err
		}

		var count int64
		err := tx.Model(&core.Job{}).
			Where("target_id = ?", job.TargetID).
			Where("status IN ?", []core.JobStatus{core.StatusQueued, core.StatusRunning}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return core.ErrDuplicateJob
		}
		return tx.Create(job).Error
	})
}

// Claim atomically moves the earliest due QUEUED job to RUNNING under
// workerID, incrementing its attempt count. Two concurrent callers never
// receive the same job. It returns core.ErrNoJobAvailable when nothing is due.
func (s *GormStorage) Claim(ctx context.Context, workerID string) (*core.Job, error) {
	if err := security.ValidateWorkerID(workerID); err != nil {
		return nil, err
	}

	now := s.clock()
	var claimed *core.Job

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("status = ?", core.StatusQueued).
			Where("scheduled_at <= ?", now).
			Order("scheduled_at ASC, created_at ASC, id ASC")

		limit := claimCandidates
		if !s.IsSQLite() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
			limit = 1
		}

		var candidates []core.Job
		if err := q.Limit(limit).Find(&candidates).Error; err != nil {
			return err
		}

		for i := range candidates {
			job := &candidates[i]
			result := tx.Model(&core.Job{}).
				Where("id = ? AND status = ?", job.ID, core.StatusQueued).
				Updates(map[string]any{
					"status":        core.StatusRunning,
					"locked_by":     workerID,
					"locked_at":     now,
					"started_at":    now,
					"attempt_count": gorm.Expr("attempt_count + 1"),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				// Another worker won this row.
				continue
			}

			job.Status = core.StatusRunning
			job.LockedBy = workerID
			job.LockedAt = &now
			job.StartedAt = &now
			job.AttemptCount++
			claimed = job
			return nil
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, core.ErrNoJobAvailable
	}
	return claimed, nil
}

// Heartbeat refreshes the lock timestamp on a running job.
func (s *GormStorage) Heartbeat(ctx context.Context, jobID string, workerID string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ? AND status = ?", jobID, workerID, core.StatusRunning).
		Update("locked_at", s.clock())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// CompleteWithRun records an ok Run and marks the job SUCCEEDED in a single
// transaction.
func (s *GormStorage) CompleteWithRun(ctx context.Context, jobID string, workerID string, run *core.Run) error {
	return s.resolveWithRun(ctx, jobID, workerID, run, core.StatusSucceeded, core.RunStatusOK)
}

// BlockWithRun records a blocked Run and marks the job BLOCKED in a single
// transaction. Blocked jobs are not retried.
func (s *GormStorage) BlockWithRun(ctx context.Context, jobID string, workerID string, run *core.Run) error {
	return s.resolveWithRun(ctx, jobID, workerID, run, core.StatusBlocked, core.RunStatusBlocked)
}

func (s *GormStorage) resolveWithRun(
	ctx context.Context,
	jobID, workerID string,
	run *core.Run,
	jobStatus core.JobStatus,
	runStatus core.RunStatus,
) error {
	if run == nil {
		return fmt.Errorf("resolve job %s: nil run", jobID)
	}
	now := s.clock()
	prepareRun(run, jobID, workerID, runStatus, now)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.Job{}).
			Where("id = ? AND locked_by = ? AND status = ?", jobID, workerID, core.StatusRunning).
			Updates(map[string]any{
				"status":      jobStatus,
				"finished_at": now,
				"run_id":      run.ID,
				"locked_by":   "",
				"locked_at":   nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrJobNotOwned
		}
		return tx.Create(run).Error
	})
}

func prepareRun(run *core.Run, jobID, workerID string, status core.RunStatus, now time.Time) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.JobID = jobID
	run.WorkerID = workerID
	run.Status = status
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.StartedAt = run.StartedAt.UTC()
	if run.FinishedAt == nil {
		run.FinishedAt = &now
	}
	for i := range run.Artifacts {
		if run.Artifacts[i].ID == "" {
			run.Artifacts[i].ID = uuid.New().String()
		}
		run.Artifacts[i].RunID = run.ID
	}
}

// Fail records a failed attempt. With retryAt set the job returns to QUEUED
// at that time; otherwise it becomes terminally FAILED.
// Validates that the worker owns the job before failing.
// Error messages are sanitized before storage.
func (s *GormStorage) Fail(ctx context.Context, jobID string, workerID string, errMsg string, retryAt *time.Time) error {
	updates := map[string]any{
		"last_error": security.SanitizeErrorMessage(errMsg),
		"locked_by":  "",
		"locked_at":  nil,
	}

	if retryAt != nil {
		updates["status"] = core.StatusQueued
		updates["scheduled_at"] = retryAt.UTC()
	} else {
		updates["status"] = core.StatusFailed
		updates["finished_at"] = s.clock()
	}

	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ? AND status = ?", jobID, workerID, core.StatusRunning).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Locking
// ──────────────────────────────────────────────────────────────────────────────

// ReleaseStaleLocks returns RUNNING jobs whose lock is older than staleAfter
// to QUEUED so another worker can claim them. Jobs that already used their
// last attempt become FAILED instead. It reports how many jobs were touched.
func (s *GormStorage) ReleaseStaleLocks(ctx context.Context, staleAfter time.Duration) (int64, error) {
	now := s.clock()
	cutoff := now.Add(-staleAfter)
	lastError := gorm.Expr("'lock expired (worker ' || locked_by || ')'")

	var released int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exhausted := tx.Model(&core.Job{}).
			Where("status = ? AND locked_at < ?", core.StatusRunning, cutoff).
			Where("attempt_count >= max_attempts").
			Updates(map[string]any{
				"status":      core.StatusFailed,
				"finished_at": now,
				"last_error":  lastError,
				"locked_by":   "",
				"locked_at":   nil,
			})
		if exhausted.Error != nil {
			return exhausted.Error
		}

		requeued := tx.Model(&core.Job{}).
			Where("status = ? AND locked_at < ?", core.StatusRunning, cutoff).
			Updates(map[string]any{
				"status":       core.StatusQueued,
				"scheduled_at": now,
				"last_error":   lastError,
				"locked_by":    "",
				"locked_at":    nil,
			})
		if requeued.Error != nil {
			return requeued.Error
		}

		released = exhausted.RowsAffected + requeued.RowsAffected
		return nil
	})
	return released, err
}

// ──────────────────────────────────────────────────────────────────────────────
// Job queries
// ──────────────────────────────────────────────────────────────────────────────

// GetJob retrieves a job by ID.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &job, err
}

// GetJobsByStatus retrieves jobs by status.
func (s *GormStorage) GetJobsByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	var jobList []*core.Job
	q := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("scheduled_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobList).Error
	return jobList, err
}

// ──────────────────────────────────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────────────────────────────────

// GetRun retrieves a run and its artifacts.
func (s *GormStorage) GetRun(ctx context.Context, runID string) (*core.Run, error) {
	var run core.Run
	err := s.db.WithContext(ctx).Preload("Artifacts").First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &run, err
}

// LatestRunWithPayload returns the most recent run of a target that carries a
// normalized payload, or nil when the target has none.
func (s *GormStorage) LatestRunWithPayload(ctx context.Context, targetID string) (*core.Run, error) {
	var run core.Run
	err := s.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Where("normalized_extracted IS NOT NULL").
		Order("started_at DESC, created_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the runs of a target ordered by StartedAt ascending.
// A non-positive limit returns all runs.
func (s *GormStorage) ListRuns(ctx context.Context, targetID string, limit int) ([]*core.Run, error) {
	var runs []*core.Run
	q := s.db.WithContext(ctx).
		Preload("Artifacts").
		Where("target_id = ?", targetID).
		Order("started_at ASC, created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&runs).Error
	return runs, err
}

// ──────────────────────────────────────────────────────────────────────────────
// Alerts
// ──────────────────────────────────────────────────────────────────────────────

// SaveAlertRule inserts or replaces an alert rule.
func (s *GormStorage) SaveAlertRule(ctx context.Context, rule *core.AlertRule) error {
	if rule.TargetID == "" {
		return core.ErrInvalidTarget
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rule).Error
}

// ListAlertRules returns the enabled rules of a target.
func (s *GormStorage) ListAlertRules(ctx context.Context, targetID string) ([]*core.AlertRule, error) {
	var rules []*core.AlertRule
	err := s.db.WithContext(ctx).
		Where("target_id = ? AND enabled = ?", targetID, true).
		Order("created_at ASC, id ASC").
		Find(&rules).Error
	return rules, err
}

// CreateAlertEvent persists a fired alert.
func (s *GormStorage) CreateAlertEvent(ctx context.Context, event *core.AlertEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.SentAt.IsZero() {
		event.SentAt = s.clock()
	}
	event.SentAt = event.SentAt.UTC()
	return s.db.WithContext(ctx).Create(event).Error
}

// ListAlertEvents returns the events of a rule, oldest first.
func (s *GormStorage) ListAlertEvents(ctx context.Context, ruleID string) ([]*core.AlertEvent, error) {
	var events []*core.AlertEvent
	err := s.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("sent_at ASC, id ASC").
		Find(&events).Error
	return events, err
}

var _ core.Storage = (*GormStorage)(nil)
