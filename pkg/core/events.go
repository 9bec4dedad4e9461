package core

import "time"

// Event is the interface for all worker events.
type Event interface {
	eventMarker()
}

// JobClaimed is emitted when a worker wins the claim on a job.
type JobClaimed struct {
	Job       *Job
	WorkerID  string
	Timestamp time.Time
}

func (*JobClaimed) eventMarker() {}

// RunRecorded is emitted after a successful capture has been persisted.
type RunRecorded struct {
	Job       *Job
	Run       *Run
	Changed   bool
	Duration  time.Duration
	Timestamp time.Time
}

func (*RunRecorded) eventMarker() {}

// JobBlocked is emitted when the capture reported a block.
type JobBlocked struct {
	Job       *Job
	Run       *Run
	Timestamp time.Time
}

func (*JobBlocked) eventMarker() {}

// JobRetrying is emitted when a failed job is re-queued.
type JobRetrying struct {
	Job       *Job
	Attempt   int
	Error     error
	NextRunAt time.Time
	Timestamp time.Time
}

func (*JobRetrying) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// AlertSent is emitted for every persisted alert event.
type AlertSent struct {
	Event     *AlertEvent
	Timestamp time.Time
}

func (*AlertSent) eventMarker() {}

// LocksReleased is emitted when the reaper reclaims stale jobs.
type LocksReleased struct {
	Count     int64
	Timestamp time.Time
}

func (*LocksReleased) eventMarker() {}
