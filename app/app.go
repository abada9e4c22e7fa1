// Package app assembles a configured framework instance: logger, metrics,
// dispatcher and transport, with signal-driven graceful shutdown.
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/blyfast/blyfast/config"
	"github.com/blyfast/blyfast/core"
	"github.com/blyfast/blyfast/core/http"
	"github.com/blyfast/blyfast/core/middleware"
	"github.com/blyfast/blyfast/core/observability"
	"github.com/blyfast/blyfast/core/pools"
	"github.com/blyfast/blyfast/core/router"
	"github.com/blyfast/blyfast/core/scheduler"
	"github.com/blyfast/blyfast/logging"
	"github.com/blyfast/blyfast/transport"
)

// App is a fully wired framework instance. Register routes and middleware,
// then Run.
type App struct {
	cfg        config.Config
	log        zerolog.Logger
	metrics    *observability.Metrics
	dispatcher *core.Dispatcher
	server     *transport.Server
}

// New wires an App from cfg.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	log := logging.New(cfg.Logging)

	pools.ApplyGCConfig(pools.GCConfig{GOGC: cfg.Pools.GCPercent})

	metrics := observability.New()

	d, err := core.NewDispatcher(core.Options{
		Logger:    log,
		Scheduler: schedulerConfig(cfg),
		Contexts: http.ContextPoolConfig{
			WarmupSize:       cfg.Pools.ContextWarmup,
			TargetHitRate:    cfg.Pools.TargetHitRate,
			AutoOptimize:     cfg.Pools.AutoOptimize,
			OptimizeInterval: cfg.Pools.OptimizeInterval,
		},
		OnRequest: metrics.RequestHook(),
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveScheduler(d.Scheduler())
	metrics.ObserveContextPool(d.ContextPool())

	return &App{
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		dispatcher: d,
		server:     transport.New(cfg.Server, d, metrics.Handler(), log),
	}, nil
}

// schedulerConfig maps the file configuration onto the scheduler's options.
func schedulerConfig(cfg config.Config) scheduler.Config {
	sc := scheduler.Config{
		CorePoolSize:           cfg.Scheduler.CorePoolSize,
		MaxPoolSize:            cfg.Scheduler.MaxPoolSize,
		QueueCapacity:          cfg.Scheduler.QueueCapacity,
		KeepAliveTime:          cfg.Scheduler.KeepAliveTime,
		UseWorkStealing:        cfg.Scheduler.UseWorkStealing,
		UseSynchronousHandoff:  cfg.Scheduler.UseSynchronousHandoff,
		PrestartCoreThreads:    cfg.Scheduler.PrestartCoreThreads,
		CallerRunsWhenRejected: cfg.Scheduler.CallerRunsWhenRejected,
		EnableDynamicScaling:   cfg.Scheduler.EnableDynamicScaling,
		TargetUtilization:      cfg.Scheduler.TargetUtilization,
		ScalingInterval:        cfg.Scheduler.ScalingInterval,
		CollectMetrics:         cfg.Scheduler.CollectMetrics,
	}
	if cfg.Breaker.Enabled {
		sc.Breaker = &scheduler.BreakerConfig{
			FailureRateThreshold: cfg.Breaker.FailureRateThreshold,
			MinSamples:           cfg.Breaker.MinSamples,
			Window:               cfg.Breaker.Window,
			ResetTimeout:         cfg.Breaker.ResetTimeout,
		}
	}
	return sc
}

// Logger returns the root logger.
func (a *App) Logger() zerolog.Logger { return a.log }

// Dispatcher returns the underlying pipeline for advanced wiring.
func (a *App) Dispatcher() *core.Dispatcher { return a.dispatcher }

// Use appends a global middleware.
func (a *App) Use(mw middleware.Middleware) *App {
	a.dispatcher.Use(mw)
	return a
}

// GET registers a GET handler.
func (a *App) GET(path string, h http.Handler) *router.Route {
	return a.dispatcher.GET(path, h)
}

// POST registers a POST handler.
func (a *App) POST(path string, h http.Handler) *router.Route {
	return a.dispatcher.POST(path, h)
}

// PUT registers a PUT handler.
func (a *App) PUT(path string, h http.Handler) *router.Route {
	return a.dispatcher.PUT(path, h)
}

// DELETE registers a DELETE handler.
func (a *App) DELETE(path string, h http.Handler) *router.Route {
	return a.dispatcher.DELETE(path, h)
}

// PATCH registers a PATCH handler.
func (a *App) PATCH(path string, h http.Handler) *router.Route {
	return a.dispatcher.PATCH(path, h)
}

// Run freezes the route table, serves until ctx is canceled or SIGINT/
// SIGTERM arrives, then drains: listener first, scheduler second, forced
// stop if the shutdown budget runs out.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.dispatcher.Freeze()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("listener shutdown incomplete")
	}

	if err := a.dispatcher.Shutdown(shutdownCtx); err != nil {
		dropped := a.dispatcher.ShutdownNow()
		a.log.Warn().
			Err(err).
			Int("dropped_tasks", len(dropped)).
			Msg("graceful drain timed out, forced stop")
		return err
	}

	a.log.Info().Msg("shutdown complete")
	return nil
}
