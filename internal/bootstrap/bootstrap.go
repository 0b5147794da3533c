// Package bootstrap assembles a netmap instance from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/netmap-platform/netmap/internal/api"
	"github.com/netmap-platform/netmap/internal/catalog"
	"github.com/netmap-platform/netmap/internal/config"
	"github.com/netmap-platform/netmap/internal/coverage"
	"github.com/netmap-platform/netmap/internal/eventbus"
	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/resolver"
	"github.com/netmap-platform/netmap/internal/server"
	"github.com/netmap-platform/netmap/internal/spatial"
	"github.com/netmap-platform/netmap/internal/storage"
	"github.com/netmap-platform/netmap/internal/telemetry"
	"github.com/netmap-platform/netmap/internal/topology"
)

// Bootstrap initializes the core system components
type Bootstrap struct {
	Config    *config.Config
	Logger    logging.Logger
	Telemetry *telemetry.Telemetry

	Repository storage.Repository
	Registry   *spatial.Registry
	Topology   *topology.Service
	Resolver   *resolver.Resolver
	Catalog    *catalog.Catalog
	Coverage   *coverage.Engine
	EventBus   *eventbus.NATSEventBus
	Redis      *redis.Client
	Gateway    *api.Gateway
	Server     *server.Server
}

// New creates a new bootstrap instance
func New() *Bootstrap {
	return &Bootstrap{}
}

// LoadConfig loads the configuration from file and environment
func LoadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.Load()
}

// Initialize loads configuration and builds every component. Nothing
// listens until Start.
func (b *Bootstrap) Initialize(ctx context.Context, configFile string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return b.InitializeWith(ctx, cfg)
}

// InitializeWith builds every component from cfg
func (b *Bootstrap) InitializeWith(ctx context.Context, cfg *config.Config) error {
	b.Config = cfg

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetDefault(logger)
	b.Logger = logger
	logger.Info(ctx, "Configuration loaded successfully",
		zap.String("log_level", cfg.Logging.Level),
		zap.String("database_driver", cfg.Database.Driver))

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	telemetry.SetGlobal(tel)
	b.Telemetry = tel

	repo, err := OpenRepository(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	b.Repository = repo

	b.Registry = spatial.NewRegistry(topology.NewSpatialLoader(repo, logger), logger)
	b.Topology = topology.NewService(repo, b.Registry, logger)
	b.Resolver = resolver.New(b.Registry, repo, logger)

	if err := b.initCatalog(ctx); err != nil {
		b.closeAll(ctx)
		return err
	}

	opts := []coverage.Option{
		coverage.WithTimeout(cfg.Coverage.Timeout),
		coverage.WithScoring(coverage.NewScoringPolicy(cfg.Coverage.Scoring)),
	}
	if cfg.Redis.Addr != "" {
		client, err := coverage.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			b.closeAll(ctx)
			return err
		}
		b.Redis = client
		cache := coverage.NewRedisCache(client, cfg.Redis.KeyPrefix, cfg.Coverage.CacheTTL)
		opts = append(opts, coverage.WithCache(cache))
		b.Topology.AddListener(coverage.Invalidator{Cache: cache})
		logger.Info(ctx, "Coverage cache enabled", zap.String("addr", cfg.Redis.Addr))
	}
	b.Coverage = coverage.NewEngine(b.Registry, repo, b.Resolver, b.Catalog, logger, opts...)

	if cfg.EventBus.URL != "" {
		bus, err := eventbus.Connect(cfg.EventBus, logger)
		if err != nil {
			b.closeAll(ctx)
			return err
		}
		b.EventBus = bus
		b.Topology.AddListener(bus)
		if err := bus.SubscribeTopology(eventbus.RemoteInvalidation(bus.Source(), b.Registry, logger)); err != nil {
			b.closeAll(ctx)
			return err
		}
	} else {
		logger.Info(ctx, "Event bus is disabled")
	}

	b.Gateway = api.NewGateway(api.GatewayOptions{
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
		Limiter:     rateLimiter(cfg.RateLimit),
	})
	b.Gateway.Mount(
		coverage.NewHandler(b.Coverage, b.Resolver),
		topology.NewHandler(b.Topology),
	)
	b.Server = server.New(cfg.Server, b.Gateway, logger, b.readinessChecks()...)
	return nil
}

// OpenRepository connects the configured store and applies the schema
// when auto_migrate is set.
func OpenRepository(ctx context.Context, cfg config.DatabaseConfig, logger logging.Logger) (storage.Repository, error) {
	switch cfg.Driver {
	case "", "memory":
		logger.Warn(ctx, "Using in-memory repository; data is lost on restart")
		return storage.NewMemoryStore(), nil
	case "postgres":
		store, err := storage.OpenPostgres(ctx, storage.PostgresOptions{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open repository: %w", err)
		}
		if cfg.AutoMigrate {
			if err := storage.EnsureSchema(ctx, store.DB()); err != nil {
				store.Close()
				return nil, fmt.Errorf("failed to migrate schema: %w", err)
			}
			logger.Info(ctx, "Database schema is up to date")
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func (b *Bootstrap) initCatalog(ctx context.Context) error {
	rules := ""
	if file := b.Config.Catalog.RulesFile; file != "" {
		var err error
		if rules, err = catalog.LoadRules(file); err != nil {
			return err
		}
	}
	cat, err := catalog.New(ctx, b.Config.Catalog.Packages, rules, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}
	b.Catalog = cat
	return nil
}

func rateLimiter(cfg config.RateLimitConfig) *api.RateLimiter {
	if !cfg.Enabled {
		return nil
	}
	return api.NewRateLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
}

func (b *Bootstrap) readinessChecks() []server.Check {
	checks := []server.Check{{Name: "repository", Probe: b.Repository.Ping}}
	if b.Redis != nil {
		checks = append(checks, server.Check{Name: "redis", Probe: func(ctx context.Context) error {
			return b.Redis.Ping(ctx).Err()
		}})
	}
	if b.EventBus != nil {
		checks = append(checks, server.Check{Name: "eventbus", Probe: func(context.Context) error {
			return b.EventBus.Healthy()
		}})
	}
	return checks
}

// Start starts telemetry and the servers
func (b *Bootstrap) Start(ctx context.Context) error {
	if b.Server == nil {
		return fmt.Errorf("bootstrap not initialized")
	}
	b.Logger.Info(ctx, "Starting netmap components")

	if err := b.Telemetry.Start(ctx, b.Logger); err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	if err := b.Server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	b.Logger.Info(ctx, "All components started successfully")
	return nil
}

// Stop stops all components gracefully
func (b *Bootstrap) Stop(ctx context.Context) error {
	if b.Logger == nil {
		return nil
	}
	b.Logger.Info(ctx, "Stopping netmap components")

	timeout := b.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if b.Server != nil {
		if err := b.Server.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, b.closeAll(ctx))

	b.Logger.Info(ctx, "All components stopped")
	_ = b.Logger.Sync()
	return errors.Join(errs...)
}

// closeAll releases connections in reverse order of creation
func (b *Bootstrap) closeAll(ctx context.Context) error {
	var errs []error
	if b.EventBus != nil {
		if err := b.EventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
		b.EventBus = nil
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		b.Redis = nil
	}
	if b.Repository != nil {
		if err := b.Repository.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close repository: %w", err))
		}
		b.Repository = nil
	}
	if b.Telemetry != nil {
		if err := b.Telemetry.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop telemetry: %w", err))
		}
		b.Telemetry = nil
	}
	return errors.Join(errs...)
}
