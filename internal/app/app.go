// Package app assembles the capture pipeline from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kairos-watch/capture/internal/config"
	"github.com/kairos-watch/capture/pkg/alert"
	"github.com/kairos-watch/capture/pkg/blob"
	"github.com/kairos-watch/capture/pkg/capture"
	"github.com/kairos-watch/capture/pkg/logger"
	"github.com/kairos-watch/capture/pkg/metrics"
	"github.com/kairos-watch/capture/pkg/notify"
	"github.com/kairos-watch/capture/pkg/queue"
	"github.com/kairos-watch/capture/pkg/storage"
	"github.com/kairos-watch/capture/pkg/worker"
)

const metricsShutdownTimeout = 5 * time.Second

// App holds the wired components of one process.
type App struct {
	Config    *config.Config
	Log       logger.Logger
	Storage   *storage.GormStorage
	Queue     *queue.Queue
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Blobs     blob.Store
	Transport notify.Transport
	Alerts    *alert.Dispatcher
	Capturer  capture.Capturer

	redis *redis.Client
}

// New connects to every configured backend. Close releases them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, err
	}
	return NewWithLogger(ctx, cfg, log)
}

// NewWithLogger is New with a caller-supplied logger.
func NewWithLogger(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, poolOptions(cfg)...)
	if err != nil {
		return nil, err
	}
	a.Storage = storage.NewGormStorage(db)
	a.Queue = queue.New(a.Storage)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	a.Blobs, err = openBlobStore(ctx, cfg.Blob)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Transport, a.redis = buildTransport(cfg.Notify, log)
	a.Alerts = alert.NewDispatcher(a.Storage, a.Transport,
		alert.WithLogger(log),
		alert.WithMetrics(a.Metrics),
		alert.WithEmitter(a.Queue.Emit),
	)

	a.Capturer = capture.NewHTTPCapturer(cfg.Capture.Endpoint, capture.WithTimeout(cfg.Capture.Timeout))

	log.Info("Capture pipeline configured",
		logger.String("env", cfg.Env),
		logger.String("database", cfg.Database.Driver),
		logger.String("blob", cfg.Blob.Driver),
		logger.String("notify", a.Transport.Name()),
	)
	return a, nil
}

// poolOptions maps database settings onto pool options. SQLite keeps its
// single-connection pool.
func poolOptions(cfg *config.Config) []storage.PoolOption {
	level := gormlogger.Warn
	if cfg.Log.Level == "debug" {
		level = gormlogger.Info
	}
	opts := []storage.PoolOption{storage.LogLevel(level)}
	if cfg.Database.Driver == storage.DriverSQLite {
		return opts
	}
	if cfg.Database.MaxOpenConns > 0 {
		opts = append(opts, storage.MaxOpenConns(cfg.Database.MaxOpenConns))
	}
	if cfg.Database.MaxIdleConns > 0 {
		opts = append(opts, storage.MaxIdleConns(cfg.Database.MaxIdleConns))
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		opts = append(opts, storage.ConnMaxLifetime(cfg.Database.ConnMaxLifetime))
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		opts = append(opts, storage.ConnMaxIdleTime(cfg.Database.ConnMaxIdleTime))
	}
	return opts
}

func openBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Driver {
	case "minio":
		return blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			Bucket:       cfg.Bucket,
			Region:       cfg.Region,
			UseSSL:       cfg.UseSSL,
			CreateBucket: true,
		})
	case "filesystem":
		return blob.NewFileStore(cfg.Root)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}

// buildTransport fans alerts out to every configured destination. With none
// configured, alerts go to the log.
func buildTransport(cfg config.NotifyConfig, log logger.Logger) (notify.Transport, *redis.Client) {
	var transports notify.Multi
	var client *redis.Client

	if cfg.WebhookURL != "" {
		transports = append(transports, notify.NewWebhookTransport(cfg.WebhookURL))
	}
	if cfg.RedisAddr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		transports = append(transports, notify.NewRedisTransport(client, cfg.RedisStream, cfg.RedisMaxLen))
	}

	switch len(transports) {
	case 0:
		return notify.NewLogTransport(log), nil
	case 1:
		return transports[0], client
	default:
		return transports, client
	}
}

// WorkerOptions translates the worker section into worker options.
func (a *App) WorkerOptions() []worker.WorkerOption {
	cfg := a.Config.Worker
	opts := []worker.WorkerOption{
		worker.WithWorkerID(cfg.ID),
		worker.Concurrency(cfg.Concurrency),
		worker.PollInterval(cfg.PollInterval),
		worker.HeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithScheduler(cfg.EnableScheduler),
		worker.ScheduleInterval(cfg.ScheduleInterval),
		worker.ReapInterval(cfg.ReapInterval),
		worker.WithAlerts(a.Alerts),
		worker.WithMetrics(a.Metrics),
		worker.WithLogger(a.Log),
	}
	if cfg.EnableReaper {
		opts = append(opts, worker.WithReaper(cfg.StaleAfter))
	}
	if a.Blobs != nil {
		opts = append(opts, worker.WithBlobStore(a.Blobs, a.Config.Env))
	}
	return opts
}

// NewWorker builds a worker from the configuration. extra options are
// applied last.
func (a *App) NewWorker(extra ...worker.WorkerOption) *worker.Worker {
	return worker.NewWorker(a.Queue, a.Capturer, append(a.WorkerOptions(), extra...)...)
}

// MetricsHandler serves the registry in the Prometheus text format.
func (a *App) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ServeMetrics listens on the configured address until ctx is done. It
// returns immediately when no address is configured.
func (a *App) ServeMetrics(ctx context.Context) error {
	addr := a.Config.Metrics.Addr
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("Serving metrics", logger.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Close releases database and redis connections and flushes the log.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Storage != nil {
		if sqlDB, err := a.Storage.DB().DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if a.Log != nil {
		_ = a.Log.Sync()
	}
	return errors.Join(errs...)
}
