package bootstrap

import (
	"net/http"

	"tradelog/internal/adapters/config"
	errnoop "tradelog/internal/adapters/errors/noop"
	"tradelog/internal/adapters/errors/sentry"
	"tradelog/internal/adapters/exchangefactory"
	"tradelog/internal/adapters/feishu"
	"tradelog/internal/adapters/kafka"
	"tradelog/internal/adapters/ratelimit"
	redisclient "tradelog/internal/adapters/redis"
	"tradelog/internal/adapters/retry"
	"tradelog/internal/api"
	"tradelog/internal/api/health"
	"tradelog/internal/domain/syncstate"
	"tradelog/internal/events"
	"tradelog/internal/metrics"
	filerepo "tradelog/internal/repository/file"
	redisrepo "tradelog/internal/repository/redis"
	"tradelog/internal/services/reconcile"
	"tradelog/pkg/errors"
	"tradelog/pkg/logger"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	// The tracker must be attached before any child logger is derived.
	c.ErrorTracker = provideErrorTracker(cfg, logger.Get())
	logger.SetErrorTracker(c.ErrorTracker)

	c.Log = logger.Get()
	c.Log.Infow("Starting",
		"app", cfg.App.Name,
		"version", cfg.App.Version,
		"env", cfg.App.Env,
	)

	metrics.Init()
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects to redis when the state backend or the cycle lock uses it
func (c *Container) MustInitInfrastructure() {
	if !c.Config.Sync.NeedsRedis() {
		return
	}

	var err error
	c.Log.Infow("Connecting to Redis...", "addr", c.Config.Redis.Addr())
	c.Redis, err = redisclient.NewClient(c.Context, c.Config.Redis)
	if err != nil {
		c.Log.Fatalf("failed to connect redis: %v", err)
	}
	c.Log.Info("Redis connected")
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories selects the sync state backend
func (c *Container) MustInitRepositories() {
	c.Repos.SyncState = provideStateRepository(c.Config, c.Redis, c.Log)
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters builds the table client, the exchange clients and the event publisher
func (c *Container) MustInitAdapters() {
	var err error

	c.Adapters.Limiters = ratelimit.NewRegistry()

	c.Adapters.Table, err = provideTableClient(c.Config, c.Log)
	if err != nil {
		c.Log.Fatalf("failed to init feishu client: %v", err)
	}

	c.Adapters.Exchanges, err = exchangefactory.FromConfig(c.Config, c.Adapters.Limiters, c.Log)
	if err != nil {
		c.Log.Fatalf("failed to init exchanges: %v", err)
	}

	c.Adapters.Publisher = events.NoopPublisher{}
	if c.Config.Kafka.Enabled() {
		c.Adapters.KafkaProducer = provideKafkaProducer(c.Config, c.Log)
		c.Adapters.Publisher = events.NewKafkaPublisher(c.Adapters.KafkaProducer, c.Log)
	}

	c.Log.Infow("Adapters initialized",
		"exchanges", c.Config.EnabledExchanges(),
		"events", c.Config.Kafka.Enabled(),
	)
}

// ========================================
// Phase 5: Business Logic
// ========================================

// MustInitBusiness builds the reconciliation engine
func (c *Container) MustInitBusiness() {
	c.Business.Engine = reconcile.NewEngine(
		c.Adapters.Table,
		c.Adapters.Publisher,
		reconcile.Config{
			HistoryPause:   c.Config.Sync.HistoryPause,
			FuzzyTolerance: c.Config.Sync.FuzzyTolerance,
		},
		c.Log,
	)
}

// ========================================
// Phase 7: Application Layer
// ========================================

// MustInitApplication builds the health handler and the HTTP server
func (c *Container) MustInitApplication() {
	var pinger health.Pinger
	if c.Redis != nil {
		pinger = c.Redis
	}

	c.Application.HealthHandler = health.New(c.Log, c.Background.PositionSync, pinger, health.Config{
		ServiceName: c.Config.App.Name,
		Version:     c.Config.App.Version,
		StaleAfter:  c.Config.Sync.StaleAfter,
	})

	if !c.Config.HTTP.Enabled {
		c.Log.Info("HTTP server disabled")
		return
	}
	c.Application.HTTPServer = provideHTTPServer(c.Config, c.Application.HealthHandler, c.Log)
}

// ========================================
// Helper Provider Functions
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

func provideStateRepository(cfg *config.Config, rc *redisclient.Client, log *logger.Logger) syncstate.Repository {
	if cfg.Sync.StateBackend == config.StateBackendRedis {
		log.Infow("Sync state stored in redis", "key", cfg.Sync.StateRedisKey)
		return redisrepo.NewSyncStateRepository(rc.Client(), cfg.Sync.StateRedisKey)
	}
	log.Infow("Sync state stored on disk", "path", cfg.Sync.StateFile)
	return filerepo.NewSyncStateRepository(cfg.Sync.StateFile)
}

func provideTableClient(cfg *config.Config, log *logger.Logger) (*feishu.Client, error) {
	return feishu.NewClient(feishu.Config{
		BaseURL:    cfg.Feishu.BaseURL,
		AppID:      cfg.Feishu.AppID,
		AppSecret:  cfg.Feishu.AppSecret,
		AppToken:   cfg.Feishu.AppToken,
		TableID:    cfg.Feishu.TableID,
		WriteRPS:   cfg.Feishu.WriteRPS,
		HTTPClient: &http.Client{Timeout: cfg.Sync.RequestTimeout},
		Retry:      retry.DefaultConfig(),
	}, log)
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		WriteTimeout: cfg.Sync.RequestTimeout,
	})
	log.Infow("Kafka producer initialized", "brokers", cfg.Kafka.Brokers)
	return producer
}

func provideHTTPServer(cfg *config.Config, healthHandler *health.Handler, log *logger.Logger) *api.Server {
	return api.NewServer(api.ServerConfig{
		Port:        cfg.HTTP.Port,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	}, healthHandler, log)
}
