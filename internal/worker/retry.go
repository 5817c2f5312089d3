package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/contentmesh/embedcache/pkg/observability"
)

// RetryConfig defines configuration for retry behavior
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Minute,
	}
}

// RetryHandler retries failed acquisitions with exponential backoff
// before handing the message back to the queue for redelivery.
type RetryHandler struct {
	config *RetryConfig
	logger observability.Logger
}

// NewRetryHandler creates a retry handler; a nil config uses defaults.
func NewRetryHandler(config *RetryConfig, logger observability.Logger) *RetryHandler {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &RetryHandler{config: config, logger: logger}
}

// Execute runs fn until it succeeds, the retry budget is exhausted, or
// ctx is cancelled. The label only identifies the operation in logs.
func (r *RetryHandler) Execute(ctx context.Context, label string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialInterval
	b.MaxInterval = r.config.MaxInterval
	b.Multiplier = r.config.Multiplier
	b.MaxElapsedTime = r.config.MaxElapsedTime

	maxRetries := r.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	withRetries := backoff.WithMaxRetries(b, uint64(maxRetries))

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err != nil {
			r.logger.Warn("Attempt failed", map[string]interface{}{
				"label":       label,
				"attempt":     attempt,
				"max_retries": r.config.MaxRetries,
				"error":       err.Error(),
			})
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(withRetries, ctx)); err != nil {
		return err
	}

	if attempt > 1 {
		r.logger.Info("Operation succeeded after retries", map[string]interface{}{
			"label":          label,
			"total_attempts": attempt,
		})
	}
	return nil
}
