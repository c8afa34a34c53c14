// Package app assembles the stores, sources and services shared by the
// usage API and the worker from configuration.
package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/edvin/quotausage/internal/api"
	"github.com/edvin/quotausage/internal/archive"
	"github.com/edvin/quotausage/internal/config"
	"github.com/edvin/quotausage/internal/core"
	"github.com/edvin/quotausage/internal/db"
	"github.com/edvin/quotausage/internal/metrics"
	"github.com/edvin/quotausage/internal/retry"
	"github.com/edvin/quotausage/internal/runlock"
	"github.com/edvin/quotausage/internal/source/kube"
	"github.com/edvin/quotausage/internal/source/promsource"
	"github.com/edvin/quotausage/internal/store"
	"github.com/edvin/quotausage/internal/syncer"
)

type App struct {
	Stores       *store.Stores
	Services     *core.Services
	Orchestrator *syncer.Orchestrator
	// Checks report the readiness of the configured backends.
	Checks   map[string]api.Check
	Location *time.Location

	closers []func()
}

// New connects the configured backends. Without DATABASE_URL the stores are
// in memory, and without REDIS_ADDR the run lock is local to the process.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Checks: make(map[string]api.Check)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a.Location = loc

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect usage database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := metrics.RegisterPgxPoolMetrics(nil, pool); err != nil {
			logger.Warn().Err(err).Msg("failed to register pool metrics")
		}
		a.Stores = store.NewPostgresStores(pool)
		a.Checks["database"] = pool.Ping
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory stores")
		a.Stores = store.NewMemoryStores()
	}

	uploads, err := newArchive(cfg)
	if err != nil {
		return nil, err
	}

	clock := quartz.NewReal()
	a.Services = core.NewServices(a.Stores, uploads, clock, logger)

	clusters, err := cfg.Clusters()
	if err != nil {
		return nil, err
	}
	quotaSource, err := kube.NewFromConfig(clusters, logger)
	if err != nil {
		return nil, fmt.Errorf("create cluster quota source: %w", err)
	}
	metricsSource, err := promsource.New(cfg.PrometheusURL, nil, loc, logger)
	if err != nil {
		return nil, fmt.Errorf("create metrics source: %w", err)
	}

	policy := retry.DefaultPolicy()
	policy.Attempts = cfg.SourceAttempts
	policy.Timeout = cfg.SourceTimeout
	retrier := retry.New(policy, clock)

	var locker runlock.Locker = runlock.NewLocal()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, func() { client.Close() })
		a.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		locker = runlock.NewRedis(client)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis run lock")
	}

	a.Orchestrator = syncer.NewOrchestrator(
		syncer.NewClusterQuotaSyncer(quotaSource, a.Stores.Quotas, retrier, clock, logger),
		syncer.NewMetricsPeakSyncer(metricsSource, retrier, cfg.MetricsWorkers, logger),
		a.Services.Aggregator,
		a.Stores.Samples,
		a.Stores.Runs,
		locker,
		clock,
		syncer.OrchestratorConfig{Location: loc, RetentionDays: cfg.SampleRetentionDays},
		logger,
	)

	ok = true
	return a, nil
}

func newArchive(cfg *config.Config) (archive.Store, error) {
	if cfg.ArchiveS3Bucket != "" {
		client := archive.NewS3Client(archive.S3Config{
			Endpoint:  cfg.ArchiveS3Endpoint,
			Region:    cfg.ArchiveS3Region,
			Bucket:    cfg.ArchiveS3Bucket,
			Prefix:    cfg.ArchiveS3Prefix,
			AccessKey: cfg.ArchiveS3AccessKey,
			SecretKey: cfg.ArchiveS3SecretKey,
		})
		return archive.NewS3Store(client, cfg.ArchiveS3Bucket, cfg.ArchiveS3Prefix), nil
	}
	fsStore, err := archive.NewFSStore(afero.NewOsFs(), cfg.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("create upload archive: %w", err)
	}
	return fsStore, nil
}

// Ready runs every readiness check and returns the first failure.
func (a *App) Ready(ctx context.Context) error {
	names := make([]string, 0, len(a.Checks))
	for name := range a.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := a.Checks[name](ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
