package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sync scheduler modes.
const (
	SchedulerCron     = "cron"
	SchedulerTemporal = "temporal"
	SchedulerOff      = "off"
)

type Config struct {
	ServiceName       string
	DatabaseURL       string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	// LogFormat is json or console.
	LogFormat         string
	MaxUploadBytes    int64

	TemporalAddress   string
	TemporalTaskQueue string
	SyncScheduler     string
	SyncSchedule      string
	SyncTimezone      string

	PrometheusURL  string
	MetricsWorkers int
	SourceAttempts int
	SourceTimeout  time.Duration

	// ClustersFile lists the clusters to read quotas from. When empty a
	// single cluster is built from Kubeconfig, or in-cluster config if that
	// is empty too.
	ClustersFile      string
	Kubeconfig        string
	ProjectLabel      string
	CloudIDAnnotation string

	// RedisAddr switches the run lock from in-process to Redis.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ArchiveDir         string
	ArchiveS3Bucket    string
	ArchiveS3Prefix    string
	ArchiveS3Endpoint  string
	ArchiveS3Region    string
	ArchiveS3AccessKey string
	ArchiveS3SecretKey string

	SampleRetentionDays int
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:       getEnv("SERVICE_NAME", ""),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),

		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "quota-usage"),
		SyncScheduler:     getEnv("SYNC_SCHEDULER", SchedulerCron),
		SyncSchedule:      getEnv("SYNC_SCHEDULE", "0 3 * * *"),
		SyncTimezone:      getEnv("SYNC_TIMEZONE", "UTC"),

		PrometheusURL: getEnv("PROMETHEUS_URL", ""),

		ClustersFile:      getEnv("CLUSTERS_FILE", ""),
		Kubeconfig:        getEnv("KUBECONFIG", ""),
		ProjectLabel:      getEnv("PROJECT_LABEL", "cpaas.io/project"),
		CloudIDAnnotation: getEnv("CLOUD_ID_ANNOTATION", "cpaas.io/cloud-id"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		ArchiveDir:         getEnv("ARCHIVE_DIR", "data/uploads"),
		ArchiveS3Bucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveS3Prefix:    getEnv("ARCHIVE_S3_PREFIX", "uploads/"),
		ArchiveS3Endpoint:  getEnv("ARCHIVE_S3_ENDPOINT", ""),
		ArchiveS3Region:    getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3AccessKey: getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
		ArchiveS3SecretKey: getEnv("ARCHIVE_S3_SECRET_KEY", ""),
	}

	var err error
	if cfg.MetricsWorkers, err = getEnvInt("METRICS_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.SourceAttempts, err = getEnvInt("SOURCE_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SampleRetentionDays, err = getEnvInt("SAMPLE_RETENTION_DAYS", 35); err != nil {
		return nil, err
	}
	maxUpload, err := getEnvInt("MAX_UPLOAD_BYTES", 32<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	timeout := getEnv("SOURCE_TIMEOUT", "30s")
	if cfg.SourceTimeout, err = time.ParseDuration(timeout); err != nil {
		return nil, fmt.Errorf("parse SOURCE_TIMEOUT %q: %w", timeout, err)
	}

	return cfg, nil
}

// Validate checks the fields the given service needs.
func (c *Config) Validate(service string) error {
	var missing []string
	if c.PrometheusURL == "" {
		missing = append(missing, "PROMETHEUS_URL")
	}

	switch service {
	case "usage-api":
		if c.HTTPListenAddr == "" {
			missing = append(missing, "HTTP_LISTEN_ADDR")
		}
		if c.SyncScheduler == SchedulerTemporal {
			if c.TemporalAddress == "" {
				missing = append(missing, "TEMPORAL_ADDRESS")
			}
			missing = append(missing, c.missingShared()...)
		}
	case "worker":
		if c.TemporalAddress == "" {
			missing = append(missing, "TEMPORAL_ADDRESS")
		}
		if c.TemporalTaskQueue == "" {
			missing = append(missing, "TEMPORAL_TASK_QUEUE")
		}
		missing = append(missing, c.missingShared()...)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	switch c.SyncScheduler {
	case SchedulerCron, SchedulerTemporal, SchedulerOff:
	default:
		return fmt.Errorf("SYNC_SCHEDULER must be one of cron, temporal, off; got %q", c.SyncScheduler)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.MetricsWorkers < 1 {
		return fmt.Errorf("METRICS_WORKERS must be at least 1")
	}
	if c.SourceAttempts < 1 {
		return fmt.Errorf("SOURCE_ATTEMPTS must be at least 1")
	}
	if c.SourceTimeout <= 0 {
		return fmt.Errorf("SOURCE_TIMEOUT must be positive")
	}
	if (c.ArchiveS3AccessKey == "") != (c.ArchiveS3SecretKey == "") {
		return fmt.Errorf("ARCHIVE_S3_ACCESS_KEY and ARCHIVE_S3_SECRET_KEY must both be set")
	}

	return nil
}

// missingShared lists the backends that must be shared when sync runs can
// start in more than one process: the stores and the run lock.
func (c *Config) missingShared() []string {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	return missing
}

// Location resolves SyncTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.SyncTimezone)
	if err != nil {
		return nil, fmt.Errorf("load SYNC_TIMEZONE %q: %w", c.SyncTimezone, err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", key, v, err)
	}
	return n, nil
}
