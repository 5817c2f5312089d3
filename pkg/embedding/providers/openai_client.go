package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// OpenAIClientProvider is the second call shape for the generic
// backend: a connection-pooled client with exponential-backoff retries.
// The routing layer reaches for it after the direct single-shot call
// has failed, so it trades latency for persistence.
type OpenAIClientProvider struct {
	config     ProviderConfig
	httpClient *http.Client
}

// NewOpenAIClientProvider creates the pooled-client provider
func NewOpenAIClientProvider(config ProviderConfig) (*OpenAIClientProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	if config.Endpoint == "" {
		config.Endpoint = "https://api.openai.com/v1"
	}

	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}

	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	if config.RetryDelayBase == 0 {
		config.RetryDelayBase = 500 * time.Millisecond
	}

	if config.RetryDelayMax == 0 {
		config.RetryDelayMax = 8 * time.Second
	}

	return &OpenAIClientProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
	}, nil
}

// Name returns the provider name
func (p *OpenAIClientProvider) Name() string {
	return "openai-client"
}

// GenerateEmbedding generates an embedding, retrying transient failures
// with exponential backoff until MaxRetries is exhausted or the context
// is cancelled.
func (p *OpenAIClientProvider) GenerateEmbedding(ctx context.Context, req GenerateEmbeddingRequest) (*EmbeddingResponse, error) {
	start := time.Now()

	var resp *openAIResponse

	operation := func() error {
		var err error
		resp, err = p.doRequest(ctx, openAIRequest{
			Model: req.Model,
			Input: []string{req.Text},
			User:  req.RequestID,
		})
		if err != nil {
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.config.RetryDelayBase
	expBackoff.MaxInterval = p.config.RetryDelayMax
	expBackoff.MaxElapsedTime = 0

	b := backoff.WithMaxRetries(expBackoff, uint64(p.config.MaxRetries))
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}

	return &EmbeddingResponse{
		Embedding:  resp.Data[0].Embedding,
		Model:      resp.Model,
		Dimensions: len(resp.Data[0].Embedding),
		TokensUsed: resp.Usage.TotalTokens,
		ProviderInfo: ProviderMetadata{
			Provider:  "openai-client",
			LatencyMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

// HealthCheck verifies the provider is accessible
func (p *OpenAIClientProvider) HealthCheck(ctx context.Context) error {
	_, err := p.doRequest(ctx, openAIRequest{
		Model: "text-embedding-3-small",
		Input: []string{"health check"},
	})
	return err
}

// Close cleans up pooled connections
func (p *OpenAIClientProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *OpenAIClientProvider) doRequest(ctx context.Context, reqBody openAIRequest) (*openAIResponse, error) {
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
			Provider:    "openai-client",
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
		message := string(body)
		code := "UNKNOWN_ERROR"
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
			code = errResp.Error.Code
		}

		return nil, &ProviderError{
			Provider:    "openai-client",
			Code:        code,
			Message:     message,
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
			Provider: "openai-client",
			Code:     "EMPTY_RESPONSE",
			Message:  "no embedding data in response",
		}
	}

	return &openAIResp, nil
}
