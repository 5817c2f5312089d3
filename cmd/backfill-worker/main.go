package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/contentmesh/embedcache/internal/config"
	"github.com/contentmesh/embedcache/internal/worker"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.SQS.QueueURL == "" {
		log.Fatalf("Backfill queue URL is required: set sqs.queue_url or SQS_QUEUE_URL")
	}

	logger := observability.NewLoggerWithLevel("backfill-worker", logLevel(cfg.Service.LogLevel))
	metricsClient := observability.NewMetricsClient()
	defer metricsClient.Close()

	// The worker exists to drain misses. A breaker that trips on a
	// provider hiccup would stall the whole drain, and failed messages
	// are redelivered by the queue anyway.
	cfg.Breaker.Enabled = false

	// Redis serves both the durable tier and message idempotency. The
	// client dials lazily, so unreachable Redis is a warning here.
	redisClient := redis.NewClient(cfg.Redis.Options())
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("Redis close error", map[string]interface{}{"error": err.Error()})
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable at startup", map[string]interface{}{
			"address": cfg.Redis.Address,
			"error":   err.Error(),
		})
	}

	memory, err := cache.NewMemoryTier(cfg.Cache.Capacity)
	if err != nil {
		log.Fatalf("Failed to initialize memory tier: %v", err)
	}
	tiers := []cache.Tier{memory}

	if cfg.Cache.Durable.Enabled {
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
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to vector index database: %v", err)
		}
		defer db.Close()
		tiers = append(tiers, cache.NewVectorIndexTier(db, cfg.Cache.DimensionContract, logger, metricsClient))
	}

	router := embedding.NewRouter(cfg.RouterConfig(), logger, metricsClient)
	defer func() {
		if err := router.Close(); err != nil {
			logger.Warn("Router close error", map[string]interface{}{"error": err.Error()})
		}
	}()
	breaker := embedding.NewCircuitBreaker(cfg.CircuitBreakerConfig())

	facade, err := cache.NewFacade(cfg.FacadeConfig(), tiers, router, breaker, logger, metricsClient)
	if err != nil {
		log.Fatalf("Failed to initialize cache facade: %v", err)
	}

	queueClient, err := queue.NewSQSClient(ctx, cfg.SQS.QueueURL)
	if err != nil {
		log.Fatalf("Failed to initialize SQS client: %v", err)
	}

	w := worker.New(
		queueClient,
		facade,
		worker.NewRedisIdempotency(redisClient),
		worker.NewRetryHandler(cfg.WorkerRetryConfig(), logger),
		cfg.BackfillWorkerConfig(),
		logger,
		metricsClient,
	)

	// Cancel the polling loop on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal", nil)
		cancel()
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Worker exited with error: %v", err)
	}
	logger.Info("Worker stopped gracefully", nil)
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
