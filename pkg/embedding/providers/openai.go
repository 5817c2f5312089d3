package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// OpenAIProvider generates embeddings with a direct HTTP POST against
// an OpenAI-compatible endpoint. It makes exactly one attempt per call;
// the routing layer follows up with the pooled client shape and then
// the fallback candidates, so stacking retries here would multiply
// latency on a degraded upstream.
type OpenAIProvider struct {
	config     ProviderConfig
	httpClient *http.Client
}

// openAIRequest represents the request structure for the embeddings API.
// Input is always sent as a single-element array.
type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	User  string   `json:"user,omitempty"`
}

// openAIResponse represents the response from the embeddings API
type openAIResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// openAIErrorResponse represents an error response
type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// NewOpenAIProvider creates a new direct-call OpenAI provider
func NewOpenAIProvider(config ProviderConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	if config.Endpoint == "" {
		config.Endpoint = "https://api.openai.com/v1"
	}

	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}

	return &OpenAIProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// GenerateEmbedding generates an embedding for the given text
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, req GenerateEmbeddingRequest) (*EmbeddingResponse, error) {
	start := time.Now()

	resp, err := p.doRequest(ctx, openAIRequest{
		Model: req.Model,
		Input: []string{req.Text},
		User:  req.RequestID,
	})
	if err != nil {
		return nil, err
	}

	return &EmbeddingResponse{
		Embedding:  resp.Data[0].Embedding,
		Model:      resp.Model,
		Dimensions: len(resp.Data[0].Embedding),
		TokensUsed: resp.Usage.TotalTokens,
		ProviderInfo: ProviderMetadata{
			Provider:  "openai",
			LatencyMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

// HealthCheck verifies the provider is accessible
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	_, err := p.doRequest(ctx, openAIRequest{
		Model: "text-embedding-3-small",
		Input: []string{"health check"},
	})
	return err
}

// Close cleans up resources
func (p *OpenAIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *OpenAIProvider) doRequest(ctx context.Context, reqBody openAIRequest) (*openAIResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Endpoint+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	for k, v := range p.config.CustomHeaders {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{
			Provider:    "openai",
			Code:        "REQUEST_FAILED",
			Message:     err.Error(),
			IsRetryable: true,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, &ProviderError{
				Provider:    "openai",
				Code:        "UNKNOWN_ERROR",
				Message:     string(body),
				StatusCode:  resp.StatusCode,
				IsRetryable: isRetryableStatusCode(resp.StatusCode),
			}
		}

		return nil, &ProviderError{
			Provider:    "openai",
			Code:        errResp.Error.Code,
			Message:     errResp.Error.Message,
			StatusCode:  resp.StatusCode,
			RetryAfter:  parseRetryAfter(resp.Header.Get("Retry-After")),
			IsRetryable: isRetryableStatusCode(resp.StatusCode),
		}
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(openAIResp.Data) == 0 {
		return nil, &ProviderError{
			Provider: "openai",
			Code:     "EMPTY_RESPONSE",
			Message:  "no embedding data in response",
		}
	}

	return &openAIResp, nil
}

func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}

	// Seconds form
	if seconds, err := strconv.Atoi(header); err == nil {
		duration := time.Duration(seconds) * time.Second
		return &duration
	}

	// HTTP date form
	if t, err := http.ParseTime(header); err == nil {
		duration := time.Until(t)
		if duration > 0 {
			return &duration
		}
	}

	return nil
}
