package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestEmbedding(dimensions int) []float32 {
	embedding := make([]float32, dimensions)
	for i := range embedding {
		embedding[i] = float32(i) / float32(dimensions)
	}
	return embedding
}

func okEmbeddingResponse(model string, dimensions int) openAIResponse {
	return openAIResponse{
		Object: "list",
		Data: []struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{
			{
				Object:    "embedding",
				Embedding: generateTestEmbedding(dimensions),
				Index:     0,
			},
		},
		Model: model,
		Usage: struct {
			PromptTokens int `json:"prompt_tokens"`
			TotalTokens  int `json:"total_tokens"`
		}{
			PromptTokens: 3,
			TotalTokens:  3,
		},
	}
}

func TestNewOpenAIProvider(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		provider, err := NewOpenAIProvider(ProviderConfig{APIKey: "test-api-key"})
		require.NoError(t, err)
		assert.NotNil(t, provider)
		assert.Equal(t, "openai", provider.Name())
		assert.Equal(t, "https://api.openai.com/v1", provider.config.Endpoint)
		assert.Equal(t, DefaultRequestTimeout, provider.config.RequestTimeout)
	})

	t.Run("missing API key", func(t *testing.T) {
		_, err := NewOpenAIProvider(ProviderConfig{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "API key is required")
	})

	t.Run("custom endpoint", func(t *testing.T) {
		provider, err := NewOpenAIProvider(ProviderConfig{
			APIKey:   "test-api-key",
			Endpoint: "https://custom.openai.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://custom.openai.com", provider.config.Endpoint)
	})
}

func TestOpenAIProvider_GenerateEmbedding(t *testing.T) {
	ctx := context.Background()

	t.Run("successful generation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/embeddings", r.URL.Path)
			assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

			var req openAIRequest
			body, _ := io.ReadAll(r.Body)
			err := json.Unmarshal(body, &req)
			require.NoError(t, err)

			require.Len(t, req.Input, 1)
			assert.Equal(t, "test content", req.Input[0])
			assert.Equal(t, "text-embedding-3-small", req.Model)

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(okEmbeddingResponse("text-embedding-3-small", 1536))
		}))
		defer server.Close()

		provider, err := NewOpenAIProvider(ProviderConfig{
			APIKey:   "test-api-key",
			Endpoint: server.URL,
		})
		require.NoError(t, err)

		resp, err := provider.GenerateEmbedding(ctx, GenerateEmbeddingRequest{
			Text:      "test content",
			Model:     "text-embedding-3-small",
			RequestID: "test-123",
		})
		require.NoError(t, err)

		assert.Equal(t, "text-embedding-3-small", resp.Model)
		assert.Equal(t, 1536, resp.Dimensions)
		assert.Len(t, resp.Embedding, 1536)
		assert.Equal(t, 3, resp.TokensUsed)
		assert.Equal(t, "openai", resp.ProviderInfo.Provider)
	})

	t.Run("API error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			errResp := openAIErrorResponse{}
			errResp.Error.Message = "Invalid API key"
			errResp.Error.Type = "invalid_request_error"
			errResp.Error.Code = "invalid_api_key"

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(errResp)
		}))
		defer server.Close()

		provider, err := NewOpenAIProvider(ProviderConfig{
			APIKey:   "invalid-key",
			Endpoint: server.URL,
		})
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(ctx, GenerateEmbeddingRequest{
			Text:  "test",
			Model: "text-embedding-3-small",
		})
		require.Error(t, err)

		provErr, ok := err.(*ProviderError)
		require.True(t, ok)
		assert.Equal(t, "openai", provErr.Provider)
		assert.Equal(t, "invalid_api_key", provErr.Code)
		assert.Equal(t, 401, provErr.StatusCode)
		assert.False(t, provErr.IsRetryable)
	})

	t.Run("rate limit is retryable with retry-after", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			errResp := openAIErrorResponse{}
			errResp.Error.Message = "Rate limit exceeded"
			errResp.Error.Code = "rate_limit_exceeded"

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(errResp)
		}))
		defer server.Close()

		provider, err := NewOpenAIProvider(ProviderConfig{
			APIKey:   "test-api-key",
			Endpoint: server.URL,
		})
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(ctx, GenerateEmbeddingRequest{
			Text:  "test",
			Model: "text-embedding-3-small",
		})
		require.Error(t, err)

		provErr, ok := err.(*ProviderError)
		require.True(t, ok)
		assert.True(t, provErr.IsRetryable)
		require.NotNil(t, provErr.RetryAfter)
		assert.Equal(t, 2*time.Second, *provErr.RetryAfter)
	})

	t.Run("single attempt per call", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		provider, err := NewOpenAIProvider(ProviderConfig{
			APIKey:   "test-api-key",
			Endpoint: server.URL,
		})
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(ctx, GenerateEmbeddingRequest{
			Text:  "test",
			Model: "text-embedding-3-small",
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("empty data is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(openAIResponse{Object: "list"})
		}))
		defer server.Close()

		provider, err := NewOpenAIProvider(ProviderConfig{
			APIKey:   "test-api-key",
			Endpoint: server.URL,
		})
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(ctx, GenerateEmbeddingRequest{
			Text:  "test",
			Model: "text-embedding-3-small",
		})
		require.Error(t, err)
	})
}

func TestOpenAIClientProvider_GenerateEmbedding(t *testing.T) {
	ctx := context.Background()

	t.Run("retries transient failures", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(okEmbeddingResponse("text-embedding-3-small", 1536))
		}))
		defer server.Close()

		provider, err := NewOpenAIClientProvider(ProviderConfig{
			APIKey:         "test-api-key",
			Endpoint:       server.URL,
			MaxRetries:     3,
			RetryDelayBase: 5 * time.Millisecond,
			RetryDelayMax:  20 * time.Millisecond,
		})
		require.NoError(t, err)

		resp, err := provider.GenerateEmbedding(ctx, GenerateEmbeddingRequest{
			Text:  "test",
			Model: "text-embedding-3-small",
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Len(t, resp.Embedding, 1536)
		assert.Equal(t, "openai-client", resp.ProviderInfo.Provider)
	})

	t.Run("non-retryable error stops immediately", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			errResp := openAIErrorResponse{}
			errResp.Error.Message = "Invalid API key"
			errResp.Error.Code = "invalid_api_key"
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(errResp)
		}))
		defer server.Close()

		provider, err := NewOpenAIClientProvider(ProviderConfig{
			APIKey:         "test-api-key",
			Endpoint:       server.URL,
			MaxRetries:     3,
			RetryDelayBase: 5 * time.Millisecond,
		})
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(ctx, GenerateEmbeddingRequest{
			Text:  "test",
			Model: "text-embedding-3-small",
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("retries exhausted returns last error", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		provider, err := NewOpenAIClientProvider(ProviderConfig{
			APIKey:         "test-api-key",
			Endpoint:       server.URL,
			MaxRetries:     2,
			RetryDelayBase: 5 * time.Millisecond,
		})
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(ctx, GenerateEmbeddingRequest{
			Text:  "test",
			Model: "text-embedding-3-small",
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts, "initial attempt plus two retries")
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&ProviderError{IsRetryable: true}))
	assert.False(t, IsRetryable(&ProviderError{IsRetryable: false}))
	assert.True(t, IsRetryable(assert.AnError), "untyped errors assumed transient")
}

func TestParseRetryAfter(t *testing.T) {
	t.Run("seconds", func(t *testing.T) {
		d := parseRetryAfter("5")
		require.NotNil(t, d)
		assert.Equal(t, 5*time.Second, *d)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, parseRetryAfter(""))
	})

	t.Run("http date in the future", func(t *testing.T) {
		d := parseRetryAfter(time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat))
		require.NotNil(t, d)
		assert.Greater(t, *d, 5*time.Second)
	})
}
