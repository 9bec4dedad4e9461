// Package worker provides the Worker type that drives captures.
//
// This package includes:
//   - Worker: claims jobs, runs the capturer and records runs
//   - WorkerOption: configuration options for workers
//   - The cadence scheduler that enqueues due targets
//   - The reaper that returns jobs with stale locks to the queue
//
// Most users should import the root package github.com/kairos-watch/capture,
// which re-exports the worker options.
package worker
