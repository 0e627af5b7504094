// Package app wires the long-lived services of profiled together: the
// frontier, the lifecycle event hub and its sinks, the optional Postgres
// profile store, the profile registry, and the admin HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-profiles/internal/api"
	"github.com/JakeFAU/crawl-profiles/internal/clock/system"
	"github.com/JakeFAU/crawl-profiles/internal/config"
	"github.com/JakeFAU/crawl-profiles/internal/events"
	"github.com/JakeFAU/crawl-profiles/internal/events/sinks"
	"github.com/JakeFAU/crawl-profiles/internal/frontier"
	"github.com/JakeFAU/crawl-profiles/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-profiles/internal/profile"
	"github.com/JakeFAU/crawl-profiles/internal/registry"
	"github.com/JakeFAU/crawl-profiles/internal/storage/postgres"
	"github.com/JakeFAU/crawl-profiles/internal/store"
	"github.com/JakeFAU/crawl-profiles/internal/telemetry"
)

// Version is reported as the service version on traces.
var Version = "dev"

const readHeaderTimeout = 5 * time.Second

// App holds the shared services for one process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	queue    *frontier.Queue
	hub      *events.Hub
	durable  *events.Hub
	registry *registry.Registry
	server   *api.Server
	tracer   *sdktrace.TracerProvider
	repo     store.ProfileRepository
	closers  []func()
}

// Option customizes New.
type Option func(*options)

type options struct {
	repo       store.ProfileRepository
	registerer prometheus.Registerer
}

// WithRepository uses repo instead of opening the configured database.
func WithRepository(repo store.ProfileRepository) Option {
	return func(o *options) {
		o.repo = repo
	}
}

// WithRegisterer registers lifecycle metrics against reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// New builds every service and restores persisted profiles. It fails fast
// when a configured dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, repo: o.repo}
	if a.repo == nil && cfg.DB.DSN != "" {
		pg, err := postgres.NewProfileStore(ctx, postgres.ProfileStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open profile store: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("ensure profile schema: %w", err)
		}
		a.repo = pg
		a.closers = append(a.closers, pg.Close)
		logger.Info("using postgres profile store", zap.String("table", cfg.DB.Table))
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		a.close()
		return nil, err
	}
	a.queue = frontier.NewQueue(cfg.Frontier.Capacity, logger.Named("frontier"))
	hubCfg := events.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		MaxBatchWait:   cfg.BatchWait(),
		Logger:         logger.Named("hub"),
	}
	a.hub = events.NewHub(hubCfg, sinks.NewLogSink(logger.Named("events")), promSink)
	emitter := events.Fanout{a.hub}
	if a.repo != nil {
		// The store sink gets its own lossless hub; logs and metrics stay
		// best effort.
		durableCfg := hubCfg
		durableCfg.Lossless = true
		durableCfg.Logger = logger.Named("store-hub")
		a.durable = events.NewHub(durableCfg, sinks.NewStoreSink(a.repo, logger.Named("store")))
		emitter = append(emitter, a.durable)
	}
	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "profiles_events_dropped_total",
		Help: "Lifecycle events dropped because the hub buffer was full.",
	}, func() float64 { return float64(a.hub.Dropped()) })
	if err := o.registerer.Register(dropped); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("register dropped events counter: %w", err)
	}

	clock := system.New()
	a.registry = registry.New(
		registry.WithWorkRemover(a.queue),
		registry.WithEmitter(emitter),
		registry.WithClock(clock),
		registry.WithLogger(logger.Named("registry")),
	)
	if a.repo != nil {
		if err := a.restore(ctx); err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			return nil, err
		}
	}

	var serverOpts []api.Option
	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, Version)
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.tracer = tp
		serverOpts = append(serverOpts, api.WithTracerProvider(tp))
	}

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RateLimit.RPS, DefaultBurst: cfg.RateLimit.Burst})
	a.server = api.NewServer(a.registry, a.queue, limiter, clock, cfg, logger.Named("api"), serverOpts...)
	return a, nil
}

// restore loads every stored profile into the registry in stored order and
// retires the handles of tombstoned ones. Records that no longer fit (bad
// status, duplicate handle) are skipped.
func (a *App) restore(ctx context.Context) error {
	records, err := a.repo.LoadProfiles(ctx)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	restored, retired := 0, 0
	for _, rec := range records {
		if rec.Status == store.StatusDeleted {
			if err := a.registry.Retire(rec.Handle); err != nil {
				a.logger.Warn("skipping stored tombstone", zap.String("handle", rec.Handle), zap.Error(err))
				continue
			}
			retired++
			continue
		}
		status, err := registry.ParseStatus(rec.Status)
		if err != nil {
			a.logger.Warn("skipping stored profile", zap.String("handle", rec.Handle), zap.Error(err))
			continue
		}
		settings := rec.Settings
		if settings == nil {
			settings = map[string]string{}
		}
		if _, ok := settings[profile.KeyHandle]; !ok && rec.Handle != "" {
			settings[profile.KeyHandle] = rec.Handle
		}
		if _, err := a.registry.Restore(settings, status); err != nil {
			a.logger.Warn("skipping stored profile", zap.String("handle", rec.Handle), zap.Error(err))
			continue
		}
		restored++
	}
	a.logger.Info("profiles restored",
		zap.Int("count", restored),
		zap.Int("retired", retired),
		zap.Int("stored", len(records)),
	)
	return nil
}

// Registry exposes the profile registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Handler returns the admin HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves the admin API until ctx is canceled, then shuts the server
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		timeout := a.cfg.ShutdownTimeout()
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close drains pending events, closes the frontier, and releases the
// database pool and tracer provider. The store hub is drained before the
// pool closes.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close event hub: %w", err))
	}
	if err := a.durable.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store hub: %w", err))
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	a.close()
	return errors.Join(errs...)
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
