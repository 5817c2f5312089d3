// Package providers contains the embedding generation backends. Each
// provider speaks one upstream wire protocol; candidate ordering and
// fallback live in the routing layer, not here.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider represents an embedding backend (OpenAI, Bedrock, etc.)
type Provider interface {
	// Name returns the provider name (e.g., "openai", "bedrock")
	Name() string

	// GenerateEmbedding generates an embedding for the given text using the specified model
	GenerateEmbedding(ctx context.Context, req GenerateEmbeddingRequest) (*EmbeddingResponse, error)

	// HealthCheck verifies the provider is accessible and functioning
	HealthCheck(ctx context.Context) error

	// Close cleans up any resources (connections, clients, etc.)
	Close() error
}

// GenerateEmbeddingRequest represents a request to generate an embedding
type GenerateEmbeddingRequest struct {
	Text      string `json:"text"`
	Model     string `json:"model"`
	RequestID string `json:"request_id,omitempty"`
}

// EmbeddingResponse represents the response from generating an embedding
type EmbeddingResponse struct {
	Embedding    []float32        `json:"embedding"`
	Model        string           `json:"model"`
	Dimensions   int              `json:"dimensions"`
	TokensUsed   int              `json:"tokens_used"`
	ProviderInfo ProviderMetadata `json:"provider_info"`
}

// ProviderMetadata contains provider-specific metadata
type ProviderMetadata struct {
	Provider  string `json:"provider"`
	Region    string `json:"region,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// ProviderConfig contains common configuration for providers
type ProviderConfig struct {
	// API credentials
	APIKey string `json:"api_key,omitempty"`

	// Endpoints and regions
	Endpoint string `json:"endpoint,omitempty"`
	Region   string `json:"region,omitempty"`

	// Timeouts
	RequestTimeout time.Duration `json:"request_timeout,omitempty"`

	// Retry configuration (used by the pooled client shape)
	MaxRetries     int           `json:"max_retries,omitempty"`
	RetryDelayBase time.Duration `json:"retry_delay_base,omitempty"`
	RetryDelayMax  time.Duration `json:"retry_delay_max,omitempty"`

	// Custom headers for self-hosted gateways
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
}

// DefaultRequestTimeout bounds a single generation call
const DefaultRequestTimeout = 15 * time.Second

// ProviderError represents an error from a provider
type ProviderError struct {
	Provider    string         `json:"provider"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	StatusCode  int            `json:"status_code,omitempty"`
	RetryAfter  *time.Duration `json:"retry_after,omitempty"`
	IsRetryable bool           `json:"is_retryable"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error [%s]: %s", e.Provider, e.Code, e.Message)
}

// IsRetryable reports whether an error is worth another attempt.
// Untyped errors are assumed transient (network failures surface as
// plain url.Error values).
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable
	}
	return true
}

func isRetryableStatusCode(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
