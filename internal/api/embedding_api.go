package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/contentmesh/embedcache/pkg/embedding/cache"
	"github.com/contentmesh/embedcache/pkg/queue"
)

// EmbeddingAPI handles embedding acquisition operations
type EmbeddingAPI struct {
	cache    Acquirer
	backfill BackfillEnqueuer
}

// NewEmbeddingAPI creates a new EmbeddingAPI instance. A nil backfill
// enqueuer disables the backfill endpoint.
func NewEmbeddingAPI(cache Acquirer, backfill BackfillEnqueuer) *EmbeddingAPI {
	return &EmbeddingAPI{cache: cache, backfill: backfill}
}

// RegisterRoutes registers all embedding-related routes
func (api *EmbeddingAPI) RegisterRoutes(router *gin.RouterGroup) {
	embeddings := router.Group("/embeddings")
	{
		embeddings.POST("/acquire", api.acquireEmbedding)
		embeddings.POST("/backfill", api.enqueueBackfill)
	}

	cacheRoutes := router.Group("/cache")
	{
		cacheRoutes.GET("/stats", api.cacheStats)
	}
}

// AcquireEmbeddingRequest defines the request format for acquiring an embedding
type AcquireEmbeddingRequest struct {
	Text       string `json:"text" binding:"required"`
	Force      bool   `json:"force"`
	LookupOnly bool   `json:"lookup_only"`
}

// acquireEmbedding handles the POST /embeddings/acquire endpoint. A
// miss maps to 404: lookup_only found nothing, or generation is
// suppressed or failing.
func (api *EmbeddingAPI) acquireEmbedding(c *gin.Context) {
	var req AcquireEmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vector, err := api.cache.Acquire(c.Request.Context(), req.Text, cache.AcquireOptions{
		Force:      req.Force,
		LookupOnly: req.LookupOnly,
	})
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "embedding not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"embedding": vector,
		"dimension": len(vector),
	})
}

// BackfillRequest defines the request format for queueing a backfill
type BackfillRequest struct {
	Text  string `json:"text" binding:"required"`
	Force bool   `json:"force"`
}

// enqueueBackfill handles the POST /embeddings/backfill endpoint. The
// request is acknowledged once queued; the worker acquires the
// embedding asynchronously.
func (api *EmbeddingAPI) enqueueBackfill(c *gin.Context) {
	if api.backfill == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backfill queue not configured"})
		return
	}

	var req BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	embedReq := queue.EmbedRequest{
		RequestID: uuid.New().String(),
		Text:      req.Text,
		Force:     req.Force,
		Source:    "api",
	}
	if err := api.backfill.Enqueue(c.Request.Context(), embedReq); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id": embedReq.RequestID,
		"status":     "queued",
	})
}

// cacheStats handles the GET /cache/stats endpoint
func (api *EmbeddingAPI) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, api.cache.Stats())
}
