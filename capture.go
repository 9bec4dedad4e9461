// Package capture schedules captures of marketplace pages, records every
// run and detects business-level changes between runs.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and queue
//	db, _ := gorm.Open(sqlite.Open("capture.db"), &gorm.Config{})
//	store := capture.NewGormStorage(db)
//	store.Migrate(ctx)
//	queue := capture.New(store)
//
//	// Register a target
//	target := &capture.Target{Marketplace: "etsy", TargetType: capture.TargetListing,
//	    URL: "https://www.etsy.com/listing/123", Cadence: "@every 6h", Enabled: true}
//	queue.AddTarget(ctx, target)
//
//	// Start a worker that schedules, captures and diffs
//	worker := capture.NewWorker(queue, capture.NewHTTPCapturer(endpoint),
//	    capture.WithScheduler(true), capture.WithReaper(30*time.Minute))
//	worker.Start(ctx)
package capture

import (
	"time"

	"gorm.io/gorm"

	"github.com/kairos-watch/capture/pkg/alert"
	"github.com/kairos-watch/capture/pkg/blob"
	capturer "github.com/kairos-watch/capture/pkg/capture"
	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/diff"
	"github.com/kairos-watch/capture/pkg/notify"
	"github.com/kairos-watch/capture/pkg/queue"
	"github.com/kairos-watch/capture/pkg/schedule"
	"github.com/kairos-watch/capture/pkg/security"
	"github.com/kairos-watch/capture/pkg/signal"
	"github.com/kairos-watch/capture/pkg/storage"
	"github.com/kairos-watch/capture/pkg/value"
	"github.com/kairos-watch/capture/pkg/worker"
)

type (
	// Target is a monitored marketplace page.
	Target = core.Target

	// TargetType names the kind of page a target points at.
	TargetType = core.TargetType

	// Job is one scheduled capture of a target.
	Job = core.Job

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// Run is the stored outcome of one capture.
	Run = core.Run

	// Artifact is a binary captured alongside a run.
	Artifact = core.Artifact

	// ChangeSummary is stored on a run whose content differs from its predecessor.
	ChangeSummary = core.ChangeSummary

	// AlertRule holds per-target alert thresholds.
	AlertRule = core.AlertRule

	// AlertEvent records a fired notification.
	AlertEvent = core.AlertEvent

	// Storage defines the persistence layer.
	Storage = core.Storage

	// Event is the interface for all queue events.
	Event = core.Event

	// JobClaimed is emitted when a worker claims a job.
	JobClaimed = core.JobClaimed

	// RunRecorded is emitted when a successful run is stored.
	RunRecorded = core.RunRecorded

	// JobBlocked is emitted when the marketplace refused the capture.
	JobBlocked = core.JobBlocked

	// JobRetrying is emitted when a failed job is rescheduled.
	JobRetrying = core.JobRetrying

	// JobFailed is emitted when a job fails permanently.
	JobFailed = core.JobFailed

	// AlertSent is emitted for every delivered notification.
	AlertSent = core.AlertSent

	// LocksReleased is emitted when the reaper returns stale jobs to the queue.
	LocksReleased = core.LocksReleased

	// NoRetryError indicates an error that should not be retried.
	NoRetryError = core.NoRetryError

	// RetryAfterError indicates an error that should be retried after a delay.
	RetryAfterError = core.RetryAfterError

	// Queue registers targets and enqueues captures.
	Queue = queue.Queue

	// Option modifies enqueue Options.
	Option = queue.Option

	// Options holds configuration for enqueueing a capture.
	Options = queue.Options

	// Worker claims and processes capture jobs.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption

	// WorkerConfig holds worker configuration.
	WorkerConfig = worker.WorkerConfig

	// Capturer fetches and extracts one target.
	Capturer = capturer.Capturer

	// CaptureResult is what a Capturer returns.
	CaptureResult = capturer.Result

	// CaptureFunc adapts a function to a Capturer.
	CaptureFunc = capturer.Func

	// HTTPCapturer delegates captures to an extraction service.
	HTTPCapturer = capturer.HTTPCapturer

	// Schedule defines when a target is next due.
	Schedule = schedule.Schedule

	// Value is a JSON value that distinguishes null from absent.
	Value = value.Value

	// Change is one leaf difference between two payloads.
	Change = diff.Change

	// Signal is the business projection of a normalized payload.
	Signal = signal.Signal

	// Summary is the business-level change between two signals.
	Summary = signal.Summary

	// BlobStore keeps capture artifacts.
	BlobStore = blob.Store

	// Notification is one fired alert rule for one run.
	Notification = notify.Notification

	// Transport delivers notifications.
	Transport = notify.Transport

	// Dispatcher evaluates alert rules for new runs.
	Dispatcher = alert.Dispatcher

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage
)

// Status constants
const (
	StatusQueued    = core.StatusQueued
	StatusRunning   = core.StatusRunning
	StatusSucceeded = core.StatusSucceeded
	StatusFailed    = core.StatusFailed
	StatusBlocked   = core.StatusBlocked
)

// Target types
const (
	TargetListing = core.TargetListing
	TargetSearch  = core.TargetSearch
	TargetRanking = core.TargetRanking
)

// Security limits
const (
	MaxWorkerIDLength     = security.MaxWorkerIDLength
	MaxPayloadSize        = security.MaxPayloadSize
	MaxArtifactSize       = security.MaxArtifactSize
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
	DefaultMaxAttempts    = core.DefaultMaxAttempts
)

// Error variables
var (
	ErrNoJobAvailable   = core.ErrNoJobAvailable
	ErrJobNotOwned      = core.ErrJobNotOwned
	ErrDuplicateJob     = core.ErrDuplicateJob
	ErrTargetNotFound   = core.ErrTargetNotFound
	ErrTargetDisabled   = core.ErrTargetDisabled
	ErrInvalidTarget    = core.ErrInvalidTarget
	ErrInvalidCadence   = core.ErrInvalidCadence
	ErrArtifactTooLarge = core.ErrArtifactTooLarge
)

// New creates a new Queue with the given storage backend.
func New(s Storage) *Queue {
	return queue.New(s)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewWorker creates a new worker for the given queue.
func NewWorker(q *Queue, c Capturer, opts ...WorkerOption) *Worker {
	return worker.NewWorker(q, c, opts...)
}

// NewHTTPCapturer creates a capturer that POSTs targets to endpoint.
func NewHTTPCapturer(endpoint string) *HTTPCapturer {
	return capturer.NewHTTPCapturer(endpoint)
}

// NewDispatcher creates an alert dispatcher.
func NewDispatcher(s *GormStorage, t Transport) *Dispatcher {
	return alert.NewDispatcher(s, t)
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// RetryDelay returns the backoff before the given attempt is retried.
func RetryDelay(attempt int) (time.Duration, bool) {
	return queue.RetryDelay(attempt)
}

// Enqueue option functions

// Manual marks the job as an on-demand capture.
func Manual() Option {
	return queue.Manual()
}

// MaxAttempts sets the attempt budget.
func MaxAttempts(n int) Option {
	return queue.MaxAttempts(n)
}

// Delay schedules the capture to run after a duration.
func Delay(d time.Duration) Option {
	return queue.Delay(d)
}

// At schedules the capture to run at a specific time.
func At(t time.Time) Option {
	return queue.At(t)
}

// Worker option functions

// Concurrency sets the number of capture loops.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// WithScheduler enables the cadence scheduler in the worker.
func WithScheduler(enabled bool) WorkerOption {
	return worker.WithScheduler(enabled)
}

// WithReaper enables the stale-lock reaper in the worker.
func WithReaper(staleAfter time.Duration) WorkerOption {
	return worker.WithReaper(staleAfter)
}

// WithBlobStore stores artifacts under env in s.
func WithBlobStore(s BlobStore, env string) WorkerOption {
	return worker.WithBlobStore(s, env)
}

// WithAlerts dispatches alerts for changed runs.
func WithAlerts(d *Dispatcher) WorkerOption {
	return worker.WithAlerts(d)
}

// Schedule functions

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly creates a schedule that runs at a specific day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// ParseCadence parses a target cadence.
func ParseCadence(cadence string) (Schedule, error) {
	return schedule.Parse(cadence)
}

// Change detection

// ParseValue parses a JSON document.
func ParseValue(data []byte) (Value, error) {
	return value.Parse(data)
}

// Canonicalize renders v as canonical JSON.
func Canonicalize(v Value) string {
	return value.Canonicalize(v)
}

// Hash returns the hex SHA-256 of the canonical form of v.
func Hash(v Value) string {
	return value.Hash(v)
}

// Diff lists the leaf differences between two payloads.
func Diff(before, after Value) []Change {
	return diff.Diff(before, after)
}

// Fingerprint hashes the business signal of a normalized payload.
func Fingerprint(v Value) string {
	return signal.Fingerprint(v)
}

// Summarize compares the signals of two normalized payloads.
func Summarize(previous, current Value) Summary {
	return signal.Summarize(signal.FromPayload(previous), signal.FromPayload(current))
}
