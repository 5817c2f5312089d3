package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contentmesh/embedcache/pkg/embedding"
	"github.com/contentmesh/embedcache/pkg/embedding/cache"
	"github.com/contentmesh/embedcache/pkg/observability"
	"github.com/contentmesh/embedcache/pkg/queue"
)

// Config holds the API server configuration
type Config struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	LogRequests   bool
}

// Acquirer is the cache surface the API serves
type Acquirer interface {
	Acquire(ctx context.Context, text string, opts cache.AcquireOptions) (embedding.Vector, error)
	HealthCheck(ctx context.Context) map[string]error
	Stats() cache.Stats
}

// ProviderHealth reports per-backend generation health
type ProviderHealth interface {
	HealthCheck(ctx context.Context) map[string]error
}

// BackfillEnqueuer submits requests to the backfill queue
type BackfillEnqueuer interface {
	Enqueue(ctx context.Context, req queue.EmbedRequest) error
}

// Server represents the API server
type Server struct {
	router    *gin.Engine
	server    *http.Server
	cache     Acquirer
	providers ProviderHealth
	backfill  BackfillEnqueuer
	logger    observability.Logger
	metrics   observability.MetricsClient
}

// NewServer creates a new API server. providers and backfill may be
// nil when generation health or the backfill queue are not wired.
func NewServer(cache Acquirer, providers ProviderHealth, backfill BackfillEnqueuer, cfg Config, logger observability.Logger, metrics observability.MetricsClient) *Server {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.LogRequests {
		router.Use(RequestLogger(logger))
	}
	router.Use(MetricsMiddleware(metrics))

	server := &Server{
		router:    router,
		cache:     cache,
		providers: providers,
		backfill:  backfill,
		logger:    logger,
		metrics:   metrics,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}

	server.setupRoutes()

	return server
}

// setupRoutes initializes all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)

	v1 := s.router.Group("/api/v1")

	embeddingAPI := NewEmbeddingAPI(s.cache, s.backfill)
	embeddingAPI.RegisterRoutes(v1)
}

// Start starts the API server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// healthHandler reports cache tier and provider backend health. Only
// tier failures flip the overall status: cached vectors remain
// servable while generation backends are down.
func (s *Server) healthHandler(c *gin.Context) {
	ctx := c.Request.Context()

	components := make(map[string]string)
	healthy := true
	for name, err := range s.cache.HealthCheck(ctx) {
		if err != nil {
			components[name] = err.Error()
			healthy = false
		} else {
			components[name] = "healthy"
		}
	}

	providers := make(map[string]string)
	if s.providers != nil {
		for name, err := range s.providers.HealthCheck(ctx) {
			if err != nil {
				providers[name] = err.Error()
			} else {
				providers[name] = "healthy"
			}
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":     overall,
		"components": components,
		"providers":  providers,
	})
}
