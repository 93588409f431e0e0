// Package fxmediator wires a mediator, its store, its middleware pipeline
// and the command scheduler's lifecycle into an fx application.
//
//	app := fx.New(
//	    fxmediator.WithConfigFile("config.yaml"),
//	    fxmediator.Module(),
//	    fxmediator.Setup(func(reg *mediator.Registry) error {
//	        return mediator.RegisterRequest[GetUser, User](reg, users)
//	    }),
//	)
package fxmediator

import (
	"context"

	"github.com/bjaus/mediator"
	"github.com/bjaus/mediator/config"
	"github.com/bjaus/mediator/metrics"
	"github.com/bjaus/mediator/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SetupFunc registers handlers on the Registry before the Mediator is
// built.
type SetupFunc func(reg *mediator.Registry) error

// Pipeline holds the middleware the module registers on every Registry.
type Pipeline struct {
	Logging    *middleware.LoggingMiddleware
	Validation *middleware.ValidationMiddleware
	Scheduler  *middleware.CommandScheduler
	Offline    *middleware.OfflineMiddleware
	Cache      *middleware.CacheMiddleware
	Throttle   *middleware.ThrottleMiddleware
	Sample     *middleware.SampleMiddleware
	Refresh    *middleware.TimerRefreshMiddleware
}

// Middleware order, outermost first.
const (
	OrderLogging    = -300
	OrderValidation = -200
	OrderScheduler  = -100
	OrderOffline    = 100
	OrderCache      = 200
)

// Module provides *zap.Logger, config.Store, Pipeline, *mediator.Registry
// and *mediator.Mediator. It needs a *config.Config; see WithConfig and
// WithConfigFile.
func Module() fx.Option {
	return fx.Module("mediator",
		fx.Provide(
			NewLogger,
			NewStore,
			NewPipeline,
			NewRegistry,
			NewMediator,
		),
	)
}

// WithConfig supplies cfg to the module.
func WithConfig(cfg *config.Config) fx.Option {
	return fx.Supply(cfg)
}

// WithConfigFile loads the module's configuration from path.
func WithConfigFile(path string) fx.Option {
	return fx.Provide(func() (*config.Config, error) {
		return config.Load(path)
	})
}

// Setup contributes fn to the Registry setup group.
func Setup(fn SetupFunc) fx.Option {
	return fx.Provide(
		fx.Annotate(
			func() SetupFunc { return fn },
			fx.ResultTags(`group:"mediator.setup"`),
		),
	)
}

// NewLogger builds the logger described by cfg.Logging.
func NewLogger(cfg *config.Config, lc fx.Lifecycle) (*zap.Logger, error) {
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
	return logger, nil
}

// NewStore opens the store described by cfg.Store and closes it on stop.
func NewStore(cfg *config.Config, lc fx.Lifecycle) (config.Store, error) {
	store, err := config.OpenStore(context.Background(), cfg.Store)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

// NewPipeline builds the middleware set and ties the scheduler and sampler
// to the application lifecycle.
func NewPipeline(cfg *config.Config, store config.Store, logger *zap.Logger, lc fx.Lifecycle) *Pipeline {
	opts := []middleware.Option{middleware.WithLogger(logger.Named("middleware"))}

	p := &Pipeline{
		Logging:    middleware.NewLogging(opts...),
		Validation: middleware.NewValidation(nil, opts...),
		Scheduler:  middleware.NewCommandScheduler(cfg.Mediator.SchedulePeriod, opts...),
		Offline:    middleware.NewOffline(store, opts...),
		Cache:      middleware.NewCache(store, opts...),
		Throttle:   middleware.NewThrottle(opts...),
		Sample:     middleware.NewSample(opts...),
		Refresh:    middleware.NewTimerRefresh(opts...),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return p.Scheduler.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			p.Sample.Stop()
			return p.Scheduler.Stop(ctx)
		},
	})
	return p
}

// RegistryParams are the inputs of NewRegistry.
type RegistryParams struct {
	fx.In

	Pipeline *Pipeline
	Setups   []SetupFunc `group:"mediator.setup"`
}

// NewRegistry creates a Registry with the pipeline installed and every
// SetupFunc applied.
func NewRegistry(p RegistryParams) (*mediator.Registry, error) {
	reg := mediator.NewRegistry()
	p.Pipeline.Install(reg)

	for _, setup := range p.Setups {
		if err := setup(reg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Install registers the pipeline on reg.
func (p *Pipeline) Install(reg *mediator.Registry) {
	mediator.UseMiddleware(reg, p.Logging, mediator.WithOrder(OrderLogging))
	mediator.UseMiddleware(reg, p.Validation, mediator.WithOrder(OrderValidation))
	mediator.UseMiddleware(reg, p.Offline, mediator.WithOrder(OrderOffline))
	mediator.UseMiddleware(reg, p.Cache, mediator.WithOrder(OrderCache))

	mediator.UseCommandMiddlewareAll(reg, p.Logging, mediator.WithOrder(OrderLogging))
	mediator.UseCommandMiddlewareAll(reg, p.Validation, mediator.WithOrder(OrderValidation))
	mediator.UseCommandMiddlewareAll(reg, p.Scheduler, mediator.WithOrder(OrderScheduler))

	mediator.UseEventMiddlewareAll(reg, p.Logging, mediator.WithOrder(OrderLogging))
	mediator.UseEventMiddlewareAll(reg, p.Throttle)
	mediator.UseEventMiddlewareAll(reg, p.Sample)

	mediator.UseStreamMiddlewareAll(reg, p.Refresh)
}

// MediatorParams are the inputs of NewMediator.
type MediatorParams struct {
	fx.In

	Config     *config.Config
	Registry   *mediator.Registry
	Logger     *zap.Logger
	Registerer prometheus.Registerer `optional:"true"`
}

// NewMediator creates the Mediator.
func NewMediator(p MediatorParams) *mediator.Mediator {
	opts := []mediator.Option{
		mediator.WithLogger(p.Logger),
		mediator.WithParallelPublish(!p.Config.Mediator.SequentialPublish),
		mediator.WithMaxConcurrency(p.Config.Mediator.MaxConcurrency),
	}

	if p.Config.Metrics.Enabled {
		reg := p.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		opts = append(opts, metrics.New(p.Config.Metrics.Namespace, reg).Options()...)
	}
	return mediator.New(p.Registry, opts...)
}
