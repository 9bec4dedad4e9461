// Package security provides validation, sanitization, and limits for the
// capture pipeline.
//
// This package includes:
//   - Validation of worker identities, targets and blob key segments
//   - Error message sanitization before persistence
//   - Clamping functions for attempt budgets and worker concurrency
//   - Size limits for captured payloads and artifacts
package security
