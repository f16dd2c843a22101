package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/meridianhq/meridian/pkg/accounts"
	"github.com/meridianhq/meridian/pkg/api"
	"github.com/meridianhq/meridian/pkg/authz"
	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/delta"
	"github.com/meridianhq/meridian/pkg/maintainer"
	"github.com/meridianhq/meridian/pkg/middleware"
	"github.com/meridianhq/meridian/pkg/observability"
	"github.com/meridianhq/meridian/pkg/permcache"
	"github.com/meridianhq/meridian/pkg/schema"
	"github.com/meridianhq/meridian/pkg/scopes"
	"github.com/meridianhq/meridian/pkg/sharing"
	"github.com/meridianhq/meridian/pkg/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize OpenTelemetry")
	}

	db, err := storage.Open(cfg.Storage)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	if err := storage.Migrate(ctx, db, allMigrations()); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}
	logger.Info("database ready")

	redisClient := redis.NewClient(&redis.Options{
		Addr:       cfg.Redis.URL,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
		PoolSize:   cfg.Redis.PoolSize,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// The permission store stays authoritative without Redis; startup
		// proceeds degraded.
		logger.WithError(err).Warn("redis unreachable, caching degraded")
	}
	pingCancel()

	schemas, err := loadSchemaProvider(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to load schema")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	accountStore := accounts.NewStore(db)
	scopeStore := scopes.NewStore(db)
	tombstones := delta.NewTombstones(db)
	sharingStore := sharing.NewStore(db, tombstones)

	cache, err := permcache.NewCache(permcache.NewStore(db), redisClient, cfg.Cache.L1Size, cfg.Cache.TTL)
	if err != nil {
		logger.WithError(err).Fatal("failed to build permission cache")
	}

	m := maintainer.New(ctx, sharingStore, accountStore, scopeStore, cache, schemas, logger, metrics, cfg.MaintainerOptions())
	sweeper, err := maintainer.NewSweeper(m, cfg.Maintainer.SweepSchedule, cfg.Maintainer.StaleAfter)
	if err != nil {
		logger.WithError(err).Fatal("failed to schedule reconciliation sweep")
	}
	sweeper.Start()

	authorizer := authz.New(schemas, accountStore, scopeStore, cache, logger, metrics)
	engine := delta.NewEngine(db, tombstones)

	server := api.NewServer(db, schemas, accountStore, scopeStore, sharingStore, authorizer, engine, m, logger, metrics)
	accountMW := middleware.NewAccountMiddleware(accountStore, logger, true)
	limiter := middleware.NewRateLimiter(redisClient, nil, logger)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(accountMW, limiter, cfg.Observability.OTelEnabled),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	sm := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return healthServer.Shutdown(ctx) })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { sweeper.Stop(); return nil })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { m.Close(); return nil })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return redisClient.Close() })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return db.Close() })
	if providers != nil {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("api server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("api server failed")
		}
	}()

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
	}
}

// loadSchemaProvider returns either a static registry or a file watcher
// that hot-reloads the schema on change.
func loadSchemaProvider(ctx context.Context, cfg *config.Config, logger *observability.Logger) (schema.Provider, error) {
	if !cfg.Schema.Watch {
		registry, err := schema.LoadFile(cfg.Schema.Path)
		if err != nil {
			return nil, err
		}
		return schema.NewStatic(registry), nil
	}

	watcher, err := schema.NewWatcher(cfg.Schema.Path, logrus.New())
	if err != nil {
		return nil, err
	}
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.WithError(err).Error("schema watcher stopped")
		}
	}()
	return watcher, nil
}

func allMigrations() []storage.Migration {
	var migrations []storage.Migration
	migrations = append(migrations, accounts.Migrations()...)
	migrations = append(migrations, scopes.Migrations()...)
	migrations = append(migrations, sharing.Migrations()...)
	migrations = append(migrations, delta.Migrations()...)
	migrations = append(migrations, permcache.Migrations()...)
	return migrations
}
