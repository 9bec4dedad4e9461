package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kairos-watch/capture/pkg/core"
)

// Schedule computes the next capture time after a given instant.
type Schedule interface {
	Next(from time.Time) time.Time
}

// everySchedule runs at fixed intervals.
type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

// dailySchedule runs at a specific time each day.
type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return &dailySchedule{hour: hour, minute: minute, loc: time.UTC}
}

func (s *dailySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// weeklySchedule runs at a specific day and time each week.
type weeklySchedule struct {
	day    time.Weekday
	hour   int
	minute int
	loc    *time.Location
}

// Weekly creates a schedule that runs at a specific day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return &weeklySchedule{day: day, hour: hour, minute: minute, loc: time.UTC}
}

func (s *weeklySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)

	daysUntil := int(s.day - from.Weekday())
	if daysUntil < 0 {
		daysUntil += 7
	}

	next := time.Date(from.Year(), from.Month(), from.Day()+daysUntil, s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// cronSchedule wraps a cron expression.
type cronSchedule struct {
	schedule cron.Schedule
}

// Cron creates a schedule from a five-field cron expression.
// It panics on an invalid expression; use Parse for untrusted input.
func Cron(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic("invalid cron expression: " + err.Error())
	}
	return s
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Parse reads a target cadence. It accepts five-field cron expressions,
// the standard descriptors (@hourly, @daily, ...) and "@every <duration>".
// Cron cadences are evaluated in UTC unless prefixed with CRON_TZ=.
func Parse(cadence string) (Schedule, error) {
	cadence = strings.TrimSpace(cadence)
	if cadence == "" {
		return nil, fmt.Errorf("%w: empty", core.ErrInvalidCadence)
	}

	if rest, ok := strings.CutPrefix(cadence, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", core.ErrInvalidCadence, cadence, err)
		}
		if d < time.Minute {
			return nil, fmt.Errorf("%w: %q: interval below one minute", core.ErrInvalidCadence, cadence)
		}
		return Every(d), nil
	}

	spec := cadence
	if !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
		spec = "CRON_TZ=UTC " + spec
	}
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", core.ErrInvalidCadence, cadence, err)
	}
	return &cronSchedule{schedule: s}, nil
}

// Due reports whether a capture should be enqueued at now, given the last
// time the target was scheduled. A target that was never scheduled is due.
func Due(s Schedule, last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	return !s.Next(*last).After(now)
}
