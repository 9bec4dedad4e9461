package worker

import (
	"time"

	"github.com/kairos-watch/capture/pkg/alert"
	"github.com/kairos-watch/capture/pkg/blob"
	"github.com/kairos-watch/capture/pkg/logger"
	"github.com/kairos-watch/capture/pkg/metrics"
	"github.com/kairos-watch/capture/pkg/security"
)

// Defaults for WorkerConfig.
const (
	DefaultPollInterval      = 5 * time.Second
	DefaultHeartbeatInterval = 2 * time.Minute
	DefaultStaleAfter        = 30 * time.Minute
	DefaultReapInterval      = time.Minute
	DefaultScheduleInterval  = time.Minute
	DefaultEnv               = "dev"
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	// WorkerID is stamped on every claimed job. With Concurrency > 1 each
	// loop uses WorkerID plus a "/<n>" suffix.
	WorkerID    string
	Concurrency int

	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	EnableReaper bool
	StaleAfter   time.Duration
	ReapInterval time.Duration

	EnableScheduler  bool
	ScheduleInterval time.Duration

	// Env is the first segment of artifact keys.
	Env   string
	Blobs blob.Store

	Alerts  *alert.Dispatcher
	Metrics *metrics.Metrics
	Logger  logger.Logger

	StorageRetry *RetryConfig
	ClaimRetry   *RetryConfig
}

// WithWorkerID sets the worker identity.
func WithWorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if id != "" {
			c.WorkerID = id
		}
	})
}

// Concurrency sets the number of capture loops.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// PollInterval sets how long a loop sleeps when no job is available.
func PollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// HeartbeatInterval sets how often a running capture refreshes its lock.
func HeartbeatInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.HeartbeatInterval = d
		}
	})
}

// WithScheduler enables the cadence scheduler in the worker.
func WithScheduler(enabled bool) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.EnableScheduler = enabled
	})
}

// ScheduleInterval sets how often target cadences are checked.
func ScheduleInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.ScheduleInterval = d
		}
	})
}

// WithReaper enables the stale-lock reaper. Jobs whose lock is older than
// staleAfter are returned to the queue.
func WithReaper(staleAfter time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.EnableReaper = true
		if staleAfter > 0 {
			c.StaleAfter = staleAfter
		}
	})
}

// ReapInterval sets how often the reaper runs.
func ReapInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.ReapInterval = d
		}
	})
}

// WithBlobStore stores capture artifacts in s under keys prefixed with env.
func WithBlobStore(s blob.Store, env string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Blobs = s
		if env != "" {
			c.Env = env
		}
	})
}

// WithAlerts enables alert dispatch after each changed capture.
func WithAlerts(d *alert.Dispatcher) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Alerts = d
	})
}

// WithMetrics records worker activity.
func WithMetrics(m *metrics.Metrics) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Metrics = m
	})
}

// WithLogger sets the worker logger.
func WithLogger(l logger.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}

// WithStorageRetry sets the retry policy for resolution writes and heartbeats.
func WithStorageRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = &cfg
	})
}

// WithClaimRetry sets the retry policy for claims.
func WithClaimRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.ClaimRetry = &cfg
	})
}
