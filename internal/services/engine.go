package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	infracache "github.com/asakaida/puroteusu/internal/infrastructure/cache"
	"github.com/asakaida/puroteusu/internal/infrastructure/config"
	"github.com/asakaida/puroteusu/internal/infrastructure/metrics"
	"github.com/asakaida/puroteusu/internal/repositories/postgres"
	"github.com/asakaida/puroteusu/pkg/cache"
	"github.com/asakaida/puroteusu/pkg/cache/memorycache"
)

// Engine is the fully wired service set of one process: the registry with a
// shared metadata cache and cross-instance invalidation, lifecycle and query
// services, and the metrics pipeline feeding the Prometheus exporter.
type Engine struct {
	Registry  *RegistryService
	Lifecycle *LifecycleService
	Query     *QueryService
	Collector *metrics.Collector
	Exporter  *metrics.PrometheusExporter

	registryCache cache.Cache
	notifier      *infracache.RegistryNotifier
}

// NewEngine wires repositories, cache, metrics and services over one database
// pool. The registry cache and its LISTEN/NOTIFY invalidation only start when
// enabled in the configuration. Call Close when done.
//
// Register the exporter's metrics once per process: NewEngine must not be
// called twice against the default Prometheus registry.
func NewEngine(ctx context.Context, cfg *config.Config, db *sql.DB, logger *zap.SugaredLogger) (*Engine, error) {
	repos := postgres.NewRepositories(db)
	tx := postgres.NewTxManager(db)

	collector := metrics.NewCollector()

	e := &Engine{
		Collector: collector,
		Exporter:  metrics.NewPrometheusExporter(collector),
	}

	var (
		registryCache cache.Cache
		invalidator   RegistryInvalidator
	)
	cacheTTL := time.Duration(cfg.Cache.TTLMinutes) * time.Minute
	if cfg.Cache.Enabled {
		mc, err := memorycache.New(&memorycache.Config{
			MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
			DefaultTTL:    cacheTTL,
			EnableMetrics: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create registry cache: %w", err)
		}
		collector.SetCache(mc)

		notifier := infracache.NewRegistryNotifier(db, cfg.Database.ConnectionString(), cacheTTL, nil, logger)
		if err := notifier.Start(ctx); err != nil {
			mc.Close()
			return nil, fmt.Errorf("failed to start registry notifier: %w", err)
		}

		registryCache = mc
		invalidator = notifier
		e.registryCache = mc
		e.notifier = notifier
	}

	e.Registry = NewRegistryService(tx, repos, registryCache, cacheTTL, invalidator, logger)
	e.Lifecycle = NewLifecycleService(e.Registry, tx, repos, NewLogAuditPublisher(logger), collector, cfg.Engine, logger)
	e.Query = NewQueryService(e.Registry, repos, cfg.Engine.MaxPageSize, cfg.Engine.MaxExpandDepth)

	return e, nil
}

// Close stops the invalidation listener and releases the registry cache.
// The database pool is owned by the caller and stays open.
func (e *Engine) Close() error {
	var firstErr error
	if e.notifier != nil {
		if err := e.notifier.Stop(); err != nil {
			firstErr = err
		}
	}
	if e.registryCache != nil {
		if err := e.registryCache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
