package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/jobs"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Version is stamped at build time
var Version = "dev"

func newServeCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Run the Warden HTTP server and background jobs",
		Flags:       flag.NewFlagSet("serve", flag.ContinueOnError),
		out:         out,
	}
	cmd.Flags.SetOutput(out)
	configFile := cmd.Flags.String("config", "", "YAML config file (overrides WARDEN_CONFIG_FILE)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *configFile != "" {
			os.Setenv("WARDEN_CONFIG_FILE", *configFile)
		}
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		log, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, out)
		if err != nil {
			return err
		}
		return runServe(ctx, cfg, log)
	}
	return cmd
}

// newScheduler registers the maintenance jobs. The token purge only runs
// on stores that persist tokens.
func newScheduler(a *app) (*jobs.Scheduler, error) {
	s := jobs.NewScheduler(a.log, a.metrics)

	purge := &jobs.ReferencePurge{
		Accounts: a.store,
		Purger:   a.restrictions,
		Workers:  a.cfg.Rebuild.Workers,
		Metrics:  a.metrics,
		Log:      a.log,
		Audit:    a.audit,
	}
	if err := s.Add(jobs.Job{Name: jobs.ReferencePurgeJob, Schedule: a.cfg.Jobs.PurgeSchedule, Run: purge.Run}); err != nil {
		return nil, err
	}

	if tokens, ok := a.store.(jobs.TokenPurger); ok {
		purge := &jobs.TokenPurge{Tokens: tokens, Log: a.log}
		err := s.Add(jobs.Job{
			Name:     jobs.TokenPurgeJob,
			Schedule: a.cfg.Jobs.TokenPurgeSchedule,
			Timeout:  time.Minute,
			Run:      purge.Run,
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// onFixtureReload evicts every account touched by a fixture reload and
// rebuilds the evicted snapshots in the background
func (a *app) onFixtureReload(ctx context.Context, accountIDs []string) {
	a.metrics.FixtureReloadsTotal.WithLabelValues("success").Inc()
	for _, accountID := range accountIDs {
		if err := a.authz.EvictUserPermissionAndRestrictionCacheForAccount(ctx, accountID, true, true); err != nil {
			a.log.WithError(err).WithField("accountId", accountID).Warn("Failed to evict permission cache after reload")
		}
	}
	a.log.WithField("accounts", len(accountIDs)).Info("Fixture reloaded")
}

func runServe(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	async.SetLogger(log)

	tp, err := observability.InitTracing(ctx, cfg.OTelOptions(), log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		observability.ShutdownTracing(context.Background(), tp, log)
		return err
	}

	health := observability.NewHealthChecker(Version)
	health.AddCheck("store", true, a.store.HealthCheck)
	if a.redis != nil {
		health.AddRedis(a.redis)
	}

	if a.invalidator != nil {
		async.SafeGo(ctx, 0, "permission cache invalidation", func(ctx context.Context) error {
			return a.invalidator.Run(ctx, nil)
		})
	}
	if fs, ok := a.store.(*storage.FixtureStore); ok && cfg.Jobs.WatchFixtures {
		async.SafeGo(ctx, 0, "fixture watcher", func(ctx context.Context) error {
			return fs.Watch(ctx, cfg.Jobs.WatchDebounce, a.onFixtureReload)
		})
	}

	scheduler, err := newScheduler(a)
	if err != nil {
		a.close(context.Background())
		return err
	}
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      newRouter(ctx, a, health),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	shutdown := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("app", func(ctx context.Context) error {
		err := scheduler.Stop(ctx)
		cancel()
		return errors.Join(err, a.close(ctx))
	})
	shutdown.RegisterShutdownFunc("tracing", func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, log)
	})

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	listenErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(log, "http server")
		log.WithFields(logrus.Fields{
			"address": server.Addr,
			"version": Version,
			"storage": cfg.Storage.Driver,
			"cache":   cfg.Cache.Backend,
		}).Info("Warden listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- fmt.Errorf("http server: %w", err)
			stop()
		}
	}()

	err = shutdown.WaitForShutdown(waitCtx)
	select {
	case lerr := <-listenErr:
		return errors.Join(lerr, err)
	default:
		return err
	}
}
