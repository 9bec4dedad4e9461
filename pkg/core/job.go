// Package core provides the domain models and interfaces for the capture package.
package core

import (
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusBlocked   JobStatus = "blocked" // Capture reported access denied; not retried
)

// Terminal reports whether no further transitions can happen from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// Trigger records why a job was created.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// DefaultMaxAttempts is the number of attempts before a job fails terminally.
const DefaultMaxAttempts = 4

// Job is one scheduled capture attempt lineage for a target. Jobs are never
// deleted; resolved rows are the audit trail.
type Job struct {
	ID           string     `gorm:"primaryKey;size:36"`
	TargetID     string     `gorm:"index;size:36;not null"`
	Status       JobStatus  `gorm:"index:idx_jobs_claim,priority:1;size:20;not null"`
	ScheduledAt  time.Time  `gorm:"index:idx_jobs_claim,priority:2;not null"`
	AttemptCount int        `gorm:"not null"`
	MaxAttempts  int        `gorm:"not null"`
	Trigger      Trigger    `gorm:"size:20"`
	LockedBy     string     `gorm:"size:255"`
	LockedAt     *time.Time `gorm:"index"`
	StartedAt    *time.Time
	FinishedAt   *time.Time
	RunID        *string   `gorm:"size:36"`
	LastError    string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// AttemptsRemaining reports whether a failure of the current attempt may
// still be retried.
func (j *Job) AttemptsRemaining() bool {
	return j.AttemptCount < j.MaxAttempts
}

// TargetType names the kind of page a target points at.
type TargetType string

const (
	TargetListing TargetType = "listing"
	TargetSearch  TargetType = "search"
	TargetRanking TargetType = "ranking"
)

// Target is a monitored marketplace page.
type Target struct {
	ID              string     `gorm:"primaryKey;size:36"`
	Marketplace     string     `gorm:"size:64;not null"`
	TargetType      TargetType `gorm:"size:20;not null"`
	URL             string     `gorm:"type:text;not null"`
	Cadence         string     `gorm:"size:128"` // cron expression or @every descriptor
	Enabled         bool       `gorm:"index"`
	LastScheduledAt *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}
