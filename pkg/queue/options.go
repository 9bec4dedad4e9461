package queue

import (
	"time"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/security"
)

// Options holds configuration for enqueueing a capture.
type Options struct {
	Trigger     core.Trigger
	MaxAttempts int
	Delay       time.Duration
	RunAt       *time.Time
	Unique      bool
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Trigger:     core.TriggerSchedule,
		MaxAttempts: core.DefaultMaxAttempts,
		Unique:      true,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Manual marks the job as an on-demand capture.
func Manual() Option {
	return optionFunc(func(o *Options) {
		o.Trigger = core.TriggerManual
	})
}

// MaxAttempts sets the attempt budget.
// Values are clamped to [1, core.DefaultMaxAttempts].
func MaxAttempts(n int) Option {
	return optionFunc(func(o *Options) {
		o.MaxAttempts = security.ClampAttempts(n)
	})
}

// Delay schedules the capture to run after a duration.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
	})
}

// At schedules the capture to run at a specific time.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.RunAt = &t
	})
}

// AllowDuplicate enqueues even when the target already has an outstanding
// job.
func AllowDuplicate() Option {
	return optionFunc(func(o *Options) {
		o.Unique = false
	})
}
