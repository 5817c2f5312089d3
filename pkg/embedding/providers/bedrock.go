package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockProvider generates embeddings through AWS Bedrock. Unlike the
// generic backend it has a single call shape: the SDK InvokeModel call.
type BedrockProvider struct {
	config ProviderConfig
	client *bedrockruntime.Client
}

// Titan embedding request
type titanEmbeddingRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbeddingResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Cohere embedding request
type cohereEmbeddingRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereEmbeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	ID         string      `json:"id"`
	Meta       struct {
		BilledUnits struct {
			InputTokens int `json:"input_tokens"`
		} `json:"billed_units"`
	} `json:"meta"`
}

// NewBedrockProvider creates a new AWS Bedrock provider
func NewBedrockProvider(providerConfig ProviderConfig) (*BedrockProvider, error) {
	if providerConfig.Region == "" {
		return nil, fmt.Errorf("AWS region is required for bedrock")
	}

	if providerConfig.RequestTimeout == 0 {
		providerConfig.RequestTimeout = DefaultRequestTimeout
	}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(providerConfig.Region),
		config.WithHTTPClient(&http.Client{
			Timeout: providerConfig.RequestTimeout,
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
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		config: providerConfig,
		client: bedrockruntime.NewFromConfig(cfg),
	}, nil
}

// Name returns the provider name
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// GenerateEmbedding generates an embedding for the given text
func (p *BedrockProvider) GenerateEmbedding(ctx context.Context, req GenerateEmbeddingRequest) (*EmbeddingResponse, error) {
	start := time.Now()

	var resp *EmbeddingResponse
	var err error

	switch {
	case strings.Contains(req.Model, "titan"):
		resp, err = p.generateTitanEmbedding(ctx, req)
	case strings.Contains(req.Model, "cohere"):
		resp, err = p.generateCohereEmbedding(ctx, req)
	default:
		return nil, &ProviderError{
			Provider:   "bedrock",
			Code:       "UNSUPPORTED_MODEL",
			Message:    fmt.Sprintf("unsupported model: %s", req.Model),
			StatusCode: 400,
		}
	}
	if err != nil {
		return nil, err
	}

	resp.ProviderInfo.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

// HealthCheck verifies credentials and connectivity with a minimal
// invocation. Model-specific errors count as healthy: valid credentials
// with a bad payload still prove the service is reachable.
func (p *BedrockProvider) HealthCheck(ctx context.Context) error {
	requestBody, err := json.Marshal(titanEmbeddingRequest{InputText: "health"})
	if err != nil {
		return fmt.Errorf("failed to marshal health check request: %w", err)
	}

	_, err = p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String("amazon.titan-embed-text-v2:0"),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		errStr := err.Error()

		if strings.Contains(errStr, "AccessDeniedException") ||
			strings.Contains(errStr, "UnauthorizedClient") ||
			strings.Contains(errStr, "ExpiredToken") ||
			strings.Contains(errStr, "InvalidSignature") ||
			strings.Contains(errStr, "no valid credentials") {
			return fmt.Errorf("bedrock authentication failed: %s", errStr)
		}

		if strings.Contains(errStr, "connection") ||
			strings.Contains(errStr, "timeout") ||
			strings.Contains(errStr, "network") {
			return fmt.Errorf("bedrock connectivity issue: %s", errStr)
		}
	}

	return nil
}

// Close cleans up resources
func (p *BedrockProvider) Close() error {
	return nil
}

func (p *BedrockProvider) generateTitanEmbedding(ctx context.Context, req GenerateEmbeddingRequest) (*EmbeddingResponse, error) {
	requestBody, err := json.Marshal(titanEmbeddingRequest{InputText: req.Text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, &ProviderError{
			Provider:    "bedrock",
			Code:        "INVOCATION_ERROR",
			Message:     err.Error(),
			IsRetryable: isRetryableBedrockError(err),
		}
	}

	var titanResp titanEmbeddingResponse
	if err := json.Unmarshal(resp.Body, &titanResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &EmbeddingResponse{
		Embedding:  titanResp.Embedding,
		Model:      req.Model,
		Dimensions: len(titanResp.Embedding),
		TokensUsed: titanResp.InputTextTokenCount,
		ProviderInfo: ProviderMetadata{
			Provider: "bedrock",
			Region:   p.config.Region,
		},
	}, nil
}

func (p *BedrockProvider) generateCohereEmbedding(ctx context.Context, req GenerateEmbeddingRequest) (*EmbeddingResponse, error) {
	requestBody, err := json.Marshal(cohereEmbeddingRequest{
		Texts:     []string{req.Text},
		InputType: "search_document",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, &ProviderError{
			Provider:    "bedrock",
			Code:        "INVOCATION_ERROR",
			Message:     err.Error(),
			IsRetryable: isRetryableBedrockError(err),
		}
	}

	var cohereResp cohereEmbeddingResponse
	if err := json.Unmarshal(resp.Body, &cohereResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(cohereResp.Embeddings) == 0 {
		return nil, &ProviderError{
			Provider: "bedrock",
			Code:     "EMPTY_RESPONSE",
			Message:  "no embeddings in response",
		}
	}

	return &EmbeddingResponse{
		Embedding:  cohereResp.Embeddings[0],
		Model:      req.Model,
		Dimensions: len(cohereResp.Embeddings[0]),
		TokensUsed: cohereResp.Meta.BilledUnits.InputTokens,
		ProviderInfo: ProviderMetadata{
			Provider: "bedrock",
			Region:   p.config.Region,
		},
	}, nil
}

func isRetryableBedrockError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	retryableErrors := []string{
		"ThrottlingException",
		"ServiceUnavailable",
		"TooManyRequests",
		"RequestTimeout",
		"ModelTimeoutException",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
