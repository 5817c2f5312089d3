package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/contentmesh/embedcache/internal/api"
	"github.com/contentmesh/embedcache/internal/config"
	"github.com/contentmesh/embedcache/pkg/database"
	"github.com/contentmesh/embedcache/pkg/embedding"
	"github.com/contentmesh/embedcache/pkg/embedding/cache"
	"github.com/contentmesh/embedcache/pkg/observability"
	"github.com/contentmesh/embedcache/pkg/queue"
	"github.com/contentmesh/embedcache/pkg/storage"

	// Import PostgreSQL driver
	_ "github.com/lib/pq"
)

func main() {
	// Load environment variables from .env if present
	_ = godotenv.Load()

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logging
	logger := observability.NewLoggerWithLevel("embedcached", logLevel(cfg.Service.LogLevel))

	// Initialize metrics
	metricsClient := observability.NewMetricsClient()
	defer metricsClient.Close()

	// Assemble the cache tiers enabled by configuration
	tiers, closers, err := buildTiers(ctx, cfg, logger, metricsClient)
	if err != nil {
		log.Fatalf("Failed to initialize cache tiers: %v", err)
	}
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("Close error during shutdown", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}()

	// Initialize the provider router and circuit breaker
	router := embedding.NewRouter(cfg.RouterConfig(), logger, metricsClient)
	defer func() {
		if err := router.Close(); err != nil {
			logger.Warn("Router close error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	breaker := embedding.NewCircuitBreaker(cfg.CircuitBreakerConfig())

	// Initialize the cache facade
	facade, err := cache.NewFacade(cfg.FacadeConfig(), tiers, router, breaker, logger, metricsClient)
	if err != nil {
		log.Fatalf("Failed to initialize cache facade: %v", err)
	}

	// Initialize the backfill queue when configured
	var backfill api.BackfillEnqueuer
	if cfg.SQS.QueueURL != "" {
		sqsClient, err := queue.NewSQSClient(ctx, cfg.SQS.QueueURL)
		if err != nil {
			logger.Warn("Backfill queue disabled", map[string]interface{}{
				"queue_url": cfg.SQS.QueueURL,
				"error":     err.Error(),
			})
		} else {
			backfill = sqsClient
		}
	}

	// Initialize API server
	server := api.NewServer(facade, router, backfill, api.Config{
		ListenAddress: cfg.Service.ListenAddress,
		ReadTimeout:   cfg.Service.ReadTimeout,
		WriteTimeout:  cfg.Service.WriteTimeout,
		IdleTimeout:   cfg.Service.IdleTimeout,
		LogRequests:   cfg.Service.LogRequests,
	}, logger, metricsClient)

	logger.Info("Server configuration", map[string]interface{}{
		"address":       cfg.Service.ListenAddress,
		"tiers":         tierNames(tiers),
		"default_model": cfg.Embedding.DefaultModel,
		"backfill":      backfill != nil,
	})

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", map[string]interface{}{
			"address": cfg.Service.ListenAddress,
		})
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal", nil)

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Service.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger.Info("Server stopped gracefully", nil)
}

// buildTiers wires the probe chain in order: memory, durable, filesystem,
// vector index. The memory tier is always present; the rest follow their
// configuration flags. Returned closers release the Redis and database
// handles owned by the tiers.
func buildTiers(ctx context.Context, cfg *config.Config, logger observability.Logger, metricsClient observability.MetricsClient) ([]cache.Tier, []func() error, error) {
	var tiers []cache.Tier
	var closers []func() error

	memory, err := cache.NewMemoryTier(cfg.Cache.Capacity)
	if err != nil {
		return nil, nil, err
	}
	tiers = append(tiers, memory)

	if cfg.Cache.Durable.Enabled {
		redisClient := redis.NewClient(cfg.Redis.Options())
		closers = append(closers, redisClient.Close)

		// The client dials lazily, so an unreachable Redis is a warning
		// rather than a startup failure: the tier degrades to misses.
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable at startup, durable tier will degrade to misses", map[string]interface{}{
				"address": cfg.Redis.Address,
				"error":   err.Error(),
			})
		}

		opts := []cache.DurableTierOption{cache.WithKeyPrefix(cfg.Cache.Durable.KeyPrefix)}
		if cfg.S3.Enabled {
			archive, err := storage.NewBlobStore(ctx, cfg.S3.BlobStore())
			if err != nil {
				logger.Warn("Vector archive disabled", map[string]interface{}{
					"bucket": cfg.S3.Bucket,
					"error":  err.Error(),
				})
			} else {
				opts = append(opts, cache.WithVectorArchive(archive))
			}
		}
		tiers = append(tiers, cache.NewDurableTier(redisClient, logger, opts...))
	}

	if cfg.Cache.Filesystem.Enabled {
		tiers = append(tiers, cache.NewFilesystemTier(true, cfg.Cache.Filesystem.Directory, logger))
	}

	if cfg.Cache.VectorIndex.Enabled {
		// An enabled index that cannot even dial is a configuration
		// error: a silently skipped tier would never be populated for
		// the life of the process.
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			for _, closeFn := range closers {
				_ = closeFn()
			}
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		tiers = append(tiers, cache.NewVectorIndexTier(db, cfg.Cache.DimensionContract, logger, metricsClient))
	}

	return tiers, closers, nil
}

func tierNames(tiers []cache.Tier) []string {
	names := make([]string, 0, len(tiers))
	for _, tier := range tiers {
		names = append(names, tier.Name())
	}
	return names
}

func logLevel(s string) observability.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return observability.LogLevelDebug
	case "warn", "warning":
		return observability.LogLevelWarn
	case "error":
		return observability.LogLevelError
	default:
		return observability.LogLevelInfo
	}
}
