// Package queue provides the Queue type for capture orchestration.
//
// This package includes:
//   - Queue: registers targets, enqueues scheduled and manual captures
//   - Option: configuration options for enqueueing
//   - The retry ladder that spaces out failed attempts
//   - Hook registration and event subscription for monitoring
package queue
