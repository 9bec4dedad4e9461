// Package core provides the fundamental types and interfaces for capture jobs.
//
// This package contains:
//   - Target, Job, Run, Artifact, AlertRule and AlertEvent models with GORM annotations
//   - Storage interface defining the persistence contract, including the atomic claim
//   - Event types for worker monitoring
//   - Error types for capture processing
//
// Most users should import the root package github.com/kairos-watch/capture
// instead of this package directly.
package core
