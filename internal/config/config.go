// Package config loads process configuration for the capture binary from a
// YAML file, a .env file and CAPTURE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kairos-watch/capture/pkg/security"
)

// EnvPrefix prefixes every environment override, e.g. CAPTURE_DATABASE_DSN.
const EnvPrefix = "CAPTURE"

// Config is the full process configuration.
type Config struct {
	Env      string         `mapstructure:"env" validate:"required"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"gte=0"`
}

// WorkerConfig tunes the capture loops, scheduler and reaper.
type WorkerConfig struct {
	ID                string        `mapstructure:"id" validate:"omitempty,max=255"`
	Concurrency       int           `mapstructure:"concurrency" validate:"min=1,max=64"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0s"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0s,ltfield=StaleAfter"`
	EnableScheduler   bool          `mapstructure:"enable_scheduler"`
	ScheduleInterval  time.Duration `mapstructure:"schedule_interval" validate:"gt=0s"`
	EnableReaper      bool          `mapstructure:"enable_reaper"`
	StaleAfter        time.Duration `mapstructure:"stale_after" validate:"gt=0s"`
	ReapInterval      time.Duration `mapstructure:"reap_interval" validate:"gt=0s"`
}

// CaptureConfig points at the extraction service.
type CaptureConfig struct {
	Endpoint string        `mapstructure:"endpoint" validate:"required,url"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0s"`
}

// BlobConfig selects the artifact store.
type BlobConfig struct {
	Driver    string `mapstructure:"driver" validate:"oneof=minio filesystem none"`
	Root      string `mapstructure:"root" validate:"required_if=Driver filesystem"`
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Driver minio"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket" validate:"required_if=Driver minio"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// NotifyConfig lists alert destinations. With neither set, alerts are logged.
type NotifyConfig struct {
	WebhookURL    string `mapstructure:"webhook_url" validate:"omitempty,url"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
	RedisStream   string `mapstructure:"redis_stream" validate:"required_with=RedisAddr"`
	RedisMaxLen   int64  `mapstructure:"redis_max_len" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "capture.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "1m")

	v.SetDefault("worker.id", "")
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.poll_interval", "5s")
	v.SetDefault("worker.heartbeat_interval", "2m")
	v.SetDefault("worker.enable_scheduler", true)
	v.SetDefault("worker.schedule_interval", "1m")
	v.SetDefault("worker.enable_reaper", true)
	v.SetDefault("worker.stale_after", "30m")
	v.SetDefault("worker.reap_interval", "1m")

	v.SetDefault("capture.endpoint", "http://localhost:8090/capture")
	v.SetDefault("capture.timeout", "2m")

	v.SetDefault("blob.driver", "filesystem")
	v.SetDefault("blob.root", "./artifacts")
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.access_key", "")
	v.SetDefault("blob.secret_key", "")
	v.SetDefault("blob.bucket", "kairos-captures")
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.use_ssl", false)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.redis_addr", "")
	v.SetDefault("notify.redis_password", "")
	v.SetDefault("notify.redis_db", 0)
	v.SetDefault("notify.redis_stream", "kairos:alerts")
	v.SetDefault("notify.redis_max_len", 10000)

	v.SetDefault("metrics.addr", ":9090")
}

// Load reads configuration. A .env file in the working directory is loaded
// first without overriding the real environment. configFile may be empty,
// in which case capture.yaml is looked up in . and ./config and is optional.
// Environment variables take precedence over the file.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("capture")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := security.ValidateKeySegment(c.Env); err != nil {
		return fmt.Errorf("invalid config: env: %w", err)
	}
	if c.Worker.ID != "" {
		if err := security.ValidateWorkerID(c.Worker.ID); err != nil {
			return fmt.Errorf("invalid config: worker.id: %w", err)
		}
	}
	return nil
}
