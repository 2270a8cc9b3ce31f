package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tripph/promptfeed/internal/adapter/craiyon"
	"github.com/tripph/promptfeed/internal/adapter/filestore"
	"github.com/tripph/promptfeed/internal/adapter/httpserver"
	"github.com/tripph/promptfeed/internal/adapter/metrics"
	"github.com/tripph/promptfeed/internal/adapter/postgres"
	"github.com/tripph/promptfeed/internal/adapter/redis"
	"github.com/tripph/promptfeed/internal/app"
	"github.com/tripph/promptfeed/internal/broadcast"
	"github.com/tripph/promptfeed/internal/domain"
	"github.com/tripph/promptfeed/internal/feed"
	"github.com/tripph/promptfeed/internal/platform/config"
	"github.com/tripph/promptfeed/internal/platform/logging"
	"github.com/tripph/promptfeed/internal/platform/version"
	"golang.org/x/sync/errgroup"
)

const (
	connectTimeout  = 30 * time.Second
	restoreTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second

	redisBreakerDelay = 10 * time.Second
)

// snapshotBackend is a snapshot store with a health check and a way to let go of its connections.
type snapshotBackend struct {
	store interface {
		domain.SnapshotStore
		domain.Pinger
	}
	close func()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupSnapshots(cfg *config.Config, reg prometheus.Registerer, generationMetrics *metrics.GenerationMetrics) (snapshotBackend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	switch cfg.FeedStore {
	case config.FeedStoreRedis:
		client, err := setupRedis(ctx, cfg, reg, generationMetrics)
		if err != nil {
			return snapshotBackend{}, err
		}
		return snapshotBackend{
			store: redis.NewSnapshotStore(client, cfg.RedisSnapshotKey),
			close: func() { _ = client.Close() },
		}, nil

	case config.FeedStorePostgres:
		pool, err := setupDB(ctx, cfg, reg)
		if err != nil {
			return snapshotBackend{}, err
		}
		return snapshotBackend{
			store: postgres.NewSnapshotStore(pool),
			close: pool.Close,
		}, nil

	default:
		slog.Info("Using file snapshot store", "path", cfg.StateFile)
		return snapshotBackend{
			store: filestore.New(cfg.StateFile),
			close: func() {},
		}, nil
	}
}

func setupRedis(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, generationMetrics *metrics.GenerationMetrics) (*goredis.Client, error) {
	client, err := redis.NewClient(ctx, cfg.RedisURL,
		redis.NewMetricsHook(metrics.NewRedisMetrics(reg)),
		redis.NewCircuitBreakerHook(redisBreakerDelay, generationMetrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("Using redis snapshot store", "key", cfg.RedisSnapshotKey)
	return client, nil
}

func setupDB(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*pgxpool.Pool, error) {
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.NewMetricsTracer(metrics.NewDBMetrics(reg)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Using postgres snapshot store")
	return pool, nil
}

func restoreFeed(store *feed.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()

	// a failed restore leaves an empty feed; the next append overwrites the snapshot
	if err := store.Restore(ctx); err != nil {
		slog.Error("Failed to restore feed, starting empty", "error", err)
		return
	}
	slog.Info("Feed restored", "entries", store.Len())
}

func runGracefulShutdown(ctx context.Context, srv *httpserver.Server, registry *broadcast.Registry, processor *app.Processor) error {
	<-ctx.Done()
	slog.Info("Shutdown signal received, cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	// in-flight generations still land in the feed and its snapshot
	if err := processor.Drain(shutdownCtx); err != nil {
		slog.Warn("Shutdown timed out waiting for in-flight prompts", "error", err)
	}

	registry.Stop()
	return nil
}

func run() error {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version, "feed_store", cfg.FeedStore)

	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	generationMetrics := metrics.NewGenerationMetrics(reg)
	feedMetrics := metrics.NewFeedMetrics(reg)

	backend, err := setupSnapshots(cfg, reg, generationMetrics)
	if err != nil {
		return err
	}
	defer backend.close()

	store := feed.NewStore(backend.store, feed.WithPersistObserver(feedMetrics.ObservePersist))
	restoreFeed(store)
	feedMetrics.Entries.Set(float64(store.Len()))

	registry := broadcast.NewRegistry(store, clock, broadcast.Config{
		MaxSessions:  cfg.MaxFeedSubscribers,
		PingInterval: cfg.WSPingInterval,
	}, wsMetrics)

	generator := craiyon.NewClient(craiyon.Config{
		BaseURL: cfg.GeneratorURL,
		Timeout: cfg.GeneratorTimeout,
	}, generationMetrics)

	processor := app.NewProcessor(generator, store, registry, clock, cfg.GeneratorTimeout, feedMetrics)

	srv := httpserver.NewServer(cfg, processor, registry,
		httpserver.WithClock(clock),
		httpserver.WithMetrics(metrics.Handler(reg), httpMetrics, wsMetrics),
		httpserver.WithHealthChecks(httpserver.HealthCheck{Name: "feed_store", Check: backend.store.Ping}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return runGracefulShutdown(ctx, srv, registry, processor)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}
