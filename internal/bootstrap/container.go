package bootstrap

import (
	"context"
	"sync"

	"tradelog/internal/adapters/config"
	"tradelog/internal/adapters/exchanges"
	"tradelog/internal/adapters/feishu"
	"tradelog/internal/adapters/kafka"
	"tradelog/internal/adapters/ratelimit"
	redisclient "tradelog/internal/adapters/redis"
	"tradelog/internal/api"
	"tradelog/internal/api/health"
	"tradelog/internal/domain/syncstate"
	"tradelog/internal/events"
	"tradelog/internal/services/reconcile"
	"tradelog/internal/workers"
	"tradelog/internal/workers/trading"
	"tradelog/pkg/errors"
	"tradelog/pkg/logger"
)

// Container holds all application dependencies and their lifecycle.
// Components are organized in initialization order.
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure (optional: only when the state backend or the cycle lock needs it)
	Redis *redisclient.Client

	Repos       *Repositories
	Adapters    *Adapters
	Business    *Business
	Application *Application
	Background  *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups persistence
type Repositories struct {
	SyncState syncstate.Repository
}

// Adapters groups all external adapters
type Adapters struct {
	Limiters      *ratelimit.Registry
	Table         *feishu.Client
	Exchanges     []exchanges.Exchange
	KafkaProducer *kafka.Producer
	Publisher     events.Publisher
}

// Business groups the reconciliation logic
type Business struct {
	Engine *reconcile.Engine
}

// Application groups the HTTP surface
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// Background groups all background processing components
type Background struct {
	WorkerScheduler *workers.Scheduler
	PositionSync    *trading.PositionSync
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Business:    &Business{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order.
// Any initialization error is fatal: misconfiguration must stop the process at startup.
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitBusiness()
	c.MustInitBackground()
	c.MustInitApplication()
}

// Start launches the HTTP server and the worker scheduler
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if c.Application.HTTPServer != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			if err := c.Application.HTTPServer.Start(); err != nil {
				c.Log.Errorw("HTTP server failed", "error", err)
				c.Cancel()
			}
		}()
	}

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.Log.Infow("All systems operational",
		"exchanges", c.Config.EnabledExchanges(),
		"interval", c.Config.Sync.Interval,
		"state_backend", c.Config.Sync.StateBackend,
	)
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	c.Cancel()

	c.Lifecycle.Shutdown(
		c.WG,
		c.Application.HTTPServer,
		c.Background.WorkerScheduler,
		c.Adapters.KafkaProducer,
		c.Redis,
		c.ErrorTracker,
		c.Log,
	)
}
