package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/calendar"
	"github.com/example/resource-scheduler/internal/config"
	httptransport "github.com/example/resource-scheduler/internal/http"
	"github.com/example/resource-scheduler/internal/jobs"
	"github.com/example/resource-scheduler/internal/lock"
	"github.com/example/resource-scheduler/internal/notify"
	"github.com/example/resource-scheduler/internal/persistence/sqlite"
	"github.com/example/resource-scheduler/internal/recurrence"
)

const calendarProductID = "-//resource-scheduler//bookings//EN"

// app holds the wired daemon. Services are exposed for in-process callers
// and tests; the HTTP surface only serves feeds and health.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	storage   *sqlite.Storage
	redis     *redis.Client
	publisher *notify.Publisher
	relay     *notify.Relay
	sweeper   *jobs.CompletionSweeper
	server    *echo.Echo

	bookings  *application.BookingService
	lifecycle *application.LifecycleService
	waitlist  *application.WaitlistService
	feeds     *application.FeedService
}

type appOptions struct {
	// redisClient replaces the client built from configuration.
	redisClient *redis.Client
	// publishDial and consumeDial replace the AMQP dialers.
	publishDial notify.PublishDialer
	consumeDial notify.ConsumeDialer
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	sqliteConfig := sqlite.DefaultConfig(cfg.SQLite.DSN)
	sqliteConfig.BusyTimeout = cfg.SQLite.BusyTimeout
	sqliteConfig.MaxOpenConns = cfg.SQLite.MaxOpenConns
	if a.storage, err = sqlite.OpenWithConfig(sqliteConfig, logger); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err = a.storage.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	engine := recurrence.NewEngine(loc, cfg.Recurrence.HardCap)

	locker, err := a.newLocker(ctx, opts)
	if err != nil {
		return nil, err
	}
	notifier := a.newNotifier(opts)

	resources := newResourceCatalogAdapter(a.storage)
	bookingStore := newBookingStoreAdapter(a.storage)
	policy := newSuspensionPolicy(cfg.Policy.SuspendedRequesters)

	a.bookings = application.NewBookingService(application.BookingServiceDeps{
		Resources: resources,
		Bookings:  bookingStore,
		Locker:    locker,
		Policy:    policy,
		Notifier:  notifier,
		Engine:    engine,
		Logger:    logger,
	})
	a.waitlist = application.NewWaitlistServiceWithLogger(
		resources,
		newWaitlistStoreAdapter(a.storage),
		policy,
		notifier,
		nil,
		nil,
		logger,
	)
	a.lifecycle = application.NewLifecycleService(application.LifecycleServiceDeps{
		Resources: resources,
		Bookings:  bookingStore,
		Locker:    locker,
		Notifier:  notifier,
		Waitlist:  a.waitlist,
		Logger:    logger,
	})
	a.feeds = application.NewFeedService(application.FeedServiceDeps{
		Resources:     resources,
		Bookings:      bookingStore,
		Subscriptions: newSubscriptionStoreAdapter(a.storage),
		Renderer:      calendar.NewRenderer(calendarProductID, cfg.Feed.Domain, engine, nil),
		Horizon:       cfg.Feed.Horizon,
		Logger:        logger,
	})

	if a.sweeper, err = jobs.NewCompletionSweeper(a.lifecycle, cfg.Jobs.CompletionSpec, cfg.Jobs.Timeout, logger); err != nil {
		return nil, err
	}

	checks := map[string]httptransport.HealthCheck{"sqlite": a.storage.Ping}
	if a.redis != nil {
		client := a.redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	a.server = httptransport.NewRouter(httptransport.RouterConfig{
		Feeds:  httptransport.NewFeedHandler(a.feeds, logger),
		Health: httptransport.NewHealthHandler(checks, cfg.HTTP.HealthTTL, nil, logger),
		Logger: logger,
	})
	return a, nil
}

func (a *app) newLocker(ctx context.Context, opts appOptions) (application.ResourceLocker, error) {
	if a.cfg.Lock.Backend != "redis" {
		return lock.NewLocal(), nil
	}
	client := opts.redisClient
	if client == nil {
		var err error
		if client, err = config.NewRedisClient(ctx, a.cfg.Redis); err != nil {
			return nil, err
		}
	}
	a.redis = client
	return lock.NewRedis(client, lock.RedisOptions{
		TTL:         a.cfg.Lock.TTL,
		WaitTimeout: a.cfg.Lock.WaitTimeout,
	}), nil
}

// newNotifier always logs events; with AMQP enabled it also publishes them
// and starts a relay that delivers consumed events to the delivery log.
func (a *app) newNotifier(opts appOptions) application.Notifier {
	audit := notify.NewLogSink(a.logger.With("sink", "audit"))
	if !a.cfg.AMQP.Enabled {
		return audit
	}

	publishDial := opts.publishDial
	if publishDial == nil {
		publishDial = notify.DialPublisher(a.cfg.AMQP.URL)
	}
	consumeDial := opts.consumeDial
	if consumeDial == nil {
		consumeDial = notify.DialConsumer(a.cfg.AMQP.URL)
	}

	a.publisher = notify.NewPublisher(publishDial, a.cfg.AMQP.Exchange, a.logger)
	delivery := notify.NewLogSink(a.logger.With("sink", "delivery"))
	a.relay = notify.NewRelay(consumeDial, delivery.Notify, notify.RelayConfig{
		Exchange: a.cfg.AMQP.Exchange,
		Queue:    a.cfg.AMQP.Queue,
	}, a.logger)
	return notify.Fanout{audit, a.publisher}
}

// run serves until ctx ends, then shuts everything down.
func (a *app) run(ctx context.Context) error {
	a.sweeper.Start()

	var wg sync.WaitGroup
	relayCtx, stopRelay := context.WithCancel(context.Background())
	if a.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.relay.Run(relayCtx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("booking daemon listening", "addr", a.cfg.HTTP.Addr)
		if err := a.server.Start(a.cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("failed to shutdown server", "error", err)
	}
	if err := a.sweeper.Stop(shutdownCtx); err != nil {
		a.logger.Warn("completion sweep still running at shutdown", "error", err)
	}
	stopRelay()
	wg.Wait()
	a.close()
	return runErr
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close publisher", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Error("failed to close storage", "error", err)
		}
		a.storage = nil
	}
}
