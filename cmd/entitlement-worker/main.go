// Command entitlement-worker delivers due entitlement notifications and
// keeps the business transition timeline up to date from the event bus.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billingkit/db"
	"github.com/dmitrymomot/billingkit/pkg/bus"
	"github.com/dmitrymomot/billingkit/pkg/catalog"
	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/entitlement"
	"github.com/dmitrymomot/billingkit/pkg/entitlement/pgstore"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/queue"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/timeline"
)

type appConfig struct {
	CatalogPath string `env:"CATALOG_PATH" envDefault:"catalog.yaml"`
	// BusStart is the stream id the timeline consumer starts after.
	BusStart string `env:"BUS_CONSUME_FROM" envDefault:"$"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("entitlement-worker: %v", err)
	}
}

func run(ctx context.Context) error {
	var (
		app     appConfig
		logCfg  logger.Config
		pgCfg   pg.Config
		rdCfg   redis.Config
		queueCf queue.Config
		busCfg  bus.Config
		httpCfg httpserver.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&app) },
		func() error { return config.Load(&logCfg) },
		func() error { return config.Load(&pgCfg) },
		func() error { return config.Load(&rdCfg) },
		func() error { return config.Load(&queueCf) },
		func() error { return config.Load(&busCfg) },
		func() error { return config.Load(&httpCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	lg, err := logger.FromConfig(logCfg, logger.WithTraceContext())
	if err != nil {
		return err
	}
	logger.SetAsDefault(lg)

	cat, err := catalog.LoadFile(app.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, pgCfg, db.Migrations, lg); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, rdCfg)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	storage := queue.NewPostgresStorage(pool, queueCf.RetryBackoff)
	scheduler, err := queue.NewScheduler(storage, queue.WithDefaultMaxAttempts(queueCf.MaxAttempts))
	if err != nil {
		return err
	}
	eventBus := bus.NewRedisBus(rdb, bus.WithConfig(busCfg))

	svc := entitlement.NewService(pgstore.New(pool), cat, entitlement.NewQueueScheduler(scheduler), eventBus,
		entitlement.WithLogger(lg.With(logger.Component("entitlement"))),
		entitlement.WithMetrics(registry))

	worker, err := queue.NewWorker(storage,
		queue.WithQueues(entitlement.NotificationQueue),
		queue.WithPullInterval(queueCf.PollInterval),
		queue.WithLockTimeout(queueCf.LockTimeout),
		queue.WithMaxConcurrentTasks(queueCf.MaxConcurrentTasks),
		queue.WithWorkerLogger(lg.With(logger.Component("queue"))),
		queue.WithWorkerMetrics(registry))
	if err != nil {
		return err
	}
	worker.RegisterHandlers(entitlement.NewNotificationHandler(svc))

	projector := timeline.New(svc, timeline.WithLogger(lg.With(logger.Component("timeline"))))

	ops := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(lg))
	router := httpserver.NewOpsRouter(lg, registry,
		httpserver.Check{Name: "postgres", Probe: pg.Healthcheck(pool)},
		httpserver.Check{Name: "redis", Probe: redis.Healthcheck(rdb)},
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(ctx))
	g.Go(func() error { return eventBus.Consume(ctx, app.BusStart, projector.Apply) })
	g.Go(func() error { return ops.Run(ctx, router) })

	lg.InfoContext(ctx, "entitlement worker started",
		slog.String("catalog", cat.Name()),
		slog.String("stream", eventBus.Stream()))
	return g.Wait()
}
