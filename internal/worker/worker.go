// Package worker drains queued embedding requests and warms the cache
// through the same acquire path the API serves. It is meant to run with
// the circuit breaker disabled so a backfill grinds on through provider
// hiccups instead of going quiet for a cooldown.
package worker

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/contentmesh/embedcache/pkg/embedding"
	"github.com/contentmesh/embedcache/pkg/embedding/cache"
	"github.com/contentmesh/embedcache/pkg/observability"
	"github.com/contentmesh/embedcache/pkg/queue"
)

const defaultIdempotencyTTL = 24 * time.Hour

// QueueClient is the queue surface the worker needs.
type QueueClient interface {
	Receive(ctx context.Context, maxMessages int32, waitSeconds int32) ([]queue.EmbedRequest, []string, error)
	DeleteMessage(ctx context.Context, receiptHandle string) error
}

// Acquirer resolves text to an embedding through the tiered cache.
type Acquirer interface {
	Acquire(ctx context.Context, text string, opts cache.AcquireOptions) (embedding.Vector, error)
}

// Idempotency remembers processed request ids so a redelivered force
// request does not regenerate twice.
type Idempotency interface {
	Exists(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

type redisIdempotency struct {
	client *redis.Client
}

// NewRedisIdempotency adapts a Redis client to the Idempotency surface.
func NewRedisIdempotency(client *redis.Client) Idempotency {
	return &redisIdempotency{client: client}
}

func (r *redisIdempotency) Exists(ctx context.Context, key string) (int64, error) {
	return r.client.Exists(ctx, key).Result()
}

func (r *redisIdempotency) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Config tunes the polling loop.
type Config struct {
	MaxMessages    int32
	WaitSeconds    int32
	IdempotencyTTL time.Duration
}

// Worker is the backfill polling loop.
type Worker struct {
	queue   QueueClient
	cache   Acquirer
	idem    Idempotency
	retry   *RetryHandler
	config  Config
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New builds a worker. A nil idempotency store disables duplicate
// suppression; a nil retry handler gets defaults.
func New(queueClient QueueClient, acquirer Acquirer, idem Idempotency, retry *RetryHandler, config Config, logger observability.Logger, metrics observability.MetricsClient) *Worker {
	if config.MaxMessages <= 0 {
		config.MaxMessages = 5
	}
	if config.WaitSeconds <= 0 {
		config.WaitSeconds = 10
	}
	if config.IdempotencyTTL <= 0 {
		config.IdempotencyTTL = defaultIdempotencyTTL
	}
	if retry == nil {
		retry = NewRetryHandler(nil, logger)
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Worker{
		queue:   queueClient,
		cache:   acquirer,
		idem:    idem,
		retry:   retry,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Run polls the queue until ctx is cancelled. Receive errors are logged
// and retried after a pause rather than killing the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Backfill worker started", map[string]interface{}{
		"max_messages": w.config.MaxMessages,
		"wait_seconds": w.config.WaitSeconds,
	})

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("Backfill worker stopping", nil)
			return err
		}

		requests, handles, err := w.queue.Receive(ctx, w.config.MaxMessages, w.config.WaitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Backfill worker stopping", nil)
				return ctx.Err()
			}
			w.logger.Error("Queue receive failed", map[string]interface{}{
				"error": err.Error(),
			})
			w.metrics.IncrementCounter("worker.receive_failures", 1)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for i, req := range requests {
			w.process(ctx, req, handles[i])
		}
	}
}

// process handles one message. Success deletes the message; failure
// leaves it for queue redelivery after the visibility timeout.
func (w *Worker) process(ctx context.Context, req queue.EmbedRequest, handle string) {
	if w.alreadyProcessed(ctx, req.RequestID) {
		_ = w.queue.DeleteMessage(ctx, handle)
		w.metrics.IncrementCounter("worker.duplicates_skipped", 1)
		return
	}

	start := time.Now()
	err := w.retry.Execute(ctx, req.RequestID, func() error {
		_, err := w.cache.Acquire(ctx, req.Text, cache.AcquireOptions{Force: req.Force})
		return err
	})
	if err != nil {
		w.logger.Warn("Backfill request failed, leaving message for redelivery", map[string]interface{}{
			"request_id": req.RequestID,
			"source":     req.Source,
			"error":      err.Error(),
		})
		w.metrics.IncrementCounter("worker.failures", 1)
		return
	}

	w.markProcessed(ctx, req.RequestID)
	if err := w.queue.DeleteMessage(ctx, handle); err != nil {
		w.logger.Warn("Failed to delete processed message", map[string]interface{}{
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
	}

	w.metrics.IncrementCounter("worker.processed", 1)
	w.metrics.RecordHistogram("worker.process_duration", time.Since(start).Seconds(), map[string]string{
		"source": req.Source,
	})
}

func (w *Worker) alreadyProcessed(ctx context.Context, requestID string) bool {
	if w.idem == nil || requestID == "" {
		return false
	}
	exists, err := w.idem.Exists(ctx, idempotencyKey(requestID))
	if err != nil {
		// An unreachable store must not stall the backfill; the acquire
		// path is idempotent for non-force requests anyway.
		return false
	}
	return exists == 1
}

func (w *Worker) markProcessed(ctx context.Context, requestID string) {
	if w.idem == nil || requestID == "" {
		return
	}
	if err := w.idem.Set(ctx, idempotencyKey(requestID), "1", w.config.IdempotencyTTL); err != nil {
		w.logger.Warn("Failed to record processed request", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
	}
}

func idempotencyKey(requestID string) string {
	return "embedcache:backfill:processed:" + requestID
}
