// Package schedule turns target cadences into capture times.
//
// This package includes:
//   - Schedule interface for computing the next capture time
//   - Every() for fixed-interval schedules
//   - Daily() and Weekly() for wall-clock schedules in UTC
//   - Cron() and Parse() for cron expressions and @-descriptors
//   - Due() to decide whether a target should be enqueued now
package schedule
