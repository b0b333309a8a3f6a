package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/permcache"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

// app holds the wired components of a Warden process
type app struct {
	cfg *config.Config
	log *logrus.Logger

	store        storage.Store
	redis        *redis.Client
	cacheStore   permcache.Store
	invalidator  *permcache.Invalidator
	pool         *async.WorkerPool
	restrictions *restrictions.Service
	authz        *authz.Service
	validator    *auth.Validator
	audit        audit.Logger
	proxies      middleware.TrustedProxies

	registry *prometheus.Registry
	metrics  *observability.Metrics
}

// openStore opens the storage backend named by the config
func openStore(ctx context.Context, cfg storage.Config, log *logrus.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case storage.DriverFile, "":
		s, err := storage.OpenFixtureStore(cfg.FixturePath, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case storage.DriverPostgres, storage.DriverSQLite:
		s, err := postgres.Open(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// newCacheStore builds the permission cache store. The invalidator is only
// returned for the tiered backend and must be run by the caller.
func newCacheStore(cfg config.CacheConfig, client *redis.Client, log *logrus.Logger) (permcache.Store, *permcache.Invalidator, error) {
	switch cfg.Backend {
	case config.CacheMemory, "":
		store, err := permcache.NewMemoryStore(cfg.MaxEntries, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.CacheRedis:
		if client == nil {
			return nil, nil, errors.New("redis cache backend needs a redis client")
		}
		return permcache.NewRedisStore(client, cfg.Namespace, cfg.TTL), nil, nil
	case config.CacheTiered:
		if client == nil {
			return nil, nil, errors.New("tiered cache backend needs a redis client")
		}
		l1, err := permcache.NewMemoryStore(cfg.MaxEntries, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		l2 := permcache.NewRedisStore(client, cfg.Namespace, cfg.TTL)
		tiered := permcache.NewTieredStore(l1, l2, client, cfg.InvalidationChannel, log)
		return tiered, permcache.NewInvalidator(l1, client, cfg.InvalidationChannel, log), nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// newAuditLogger builds the decision audit log. Disabled auditing drops
// every event.
func newAuditLogger(cfg *config.Config, log *logrus.Logger) (audit.Logger, error) {
	if !cfg.Audit.Enabled {
		return audit.NopLogger{}, nil
	}
	sink := audit.NewLogrusLogger(log.WithField("component", "audit"))
	if cfg.Audit.Path == "" {
		return sink, nil
	}
	file, err := audit.NewFileLogger(cfg.AuditOptions(), log)
	if err != nil {
		return nil, err
	}
	return audit.NewMultiLogger(file, sink), nil
}

// newApp wires every component from cfg. The caller must close the app.
func newApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry)

	if a.store, err = openStore(ctx, cfg.Storage, log); err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}

	if cfg.Cache.Backend == config.CacheRedis || cfg.Cache.Backend == config.CacheTiered {
		if a.redis, err = storage.NewRedisClient(ctx, cfg.Storage); err != nil {
			return nil, err
		}
	}
	if a.cacheStore, a.invalidator, err = newCacheStore(cfg.Cache, a.redis, log); err != nil {
		return nil, err
	}

	a.pool = async.NewWorkerPool(ctx, cfg.Rebuild.Workers, "permission-cache-rebuild", cfg.Rebuild.TaskTimeout)
	a.restrictions = restrictions.NewService(a.store, a.store, log)
	a.authz, err = authz.NewService(authz.Dependencies{
		Engine:       rbac.NewEngine(a.store, a.store, a.store, rbac.UserRoleProvider{}, log),
		Builder:      rbac.NewBuilder(a.store, log),
		Groups:       a.store,
		Support:      a.store,
		Membership:   a.store,
		Catalog:      a.store,
		Restrictions: a.restrictions,
	}, a.cacheStore, log,
		authz.WithMetrics(authz.NewMetrics(a.registry)),
		authz.WithCacheOptions(
			permcache.WithMetrics(permcache.NewMetrics(a.registry)),
			permcache.WithRebuildPool(a.pool, a.store),
			permcache.WithSingleflight(cfg.Cache.Singleflight),
		),
	)
	if err != nil {
		return nil, err
	}
	a.validator = auth.NewValidator(cfg.AuthOptions(), a.store, a.store, log)
	if a.proxies, err = middleware.ParseTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}
	if a.audit, err = newAuditLogger(cfg, log); err != nil {
		return nil, err
	}
	return a, nil
}

// close releases the app's resources in reverse order of creation
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := a.pool.Shutdown(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit log: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
