package providers

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockProvider implements Provider for tests. Embeddings are
// deterministic per (text, dimensions) so cache-identity assertions
// hold across calls.
type MockProvider struct {
	mu               sync.RWMutex
	name             string
	dimensions       int
	failureRate      float64
	latency          time.Duration
	requestCount     int
	failAfterCount   int
	failModels       map[string]bool
	healthCheckError error
	closed           bool

	generateCalls []GenerateEmbeddingRequest
}

// MockProviderOption configures a MockProvider
type MockProviderOption func(*MockProvider)

// WithDimensions sets the generated vector length (default 1536)
func WithDimensions(dims int) MockProviderOption {
	return func(m *MockProvider) {
		m.dimensions = dims
	}
}

// WithFailureRate sets the failure rate (0.0 to 1.0)
func WithFailureRate(rate float64) MockProviderOption {
	return func(m *MockProvider) {
		m.failureRate = rate
	}
}

// WithLatency sets the simulated latency
func WithLatency(latency time.Duration) MockProviderOption {
	return func(m *MockProvider) {
		m.latency = latency
	}
}

// WithFailAfter causes failures after N requests
func WithFailAfter(count int) MockProviderOption {
	return func(m *MockProvider) {
		m.failAfterCount = count
	}
}

// WithFailForModels makes the given model ids always fail
func WithFailForModels(models ...string) MockProviderOption {
	return func(m *MockProvider) {
		for _, model := range models {
			m.failModels[model] = true
		}
	}
}

// WithHealthCheckError sets a health check error
func WithHealthCheckError(err error) MockProviderOption {
	return func(m *MockProvider) {
		m.healthCheckError = err
	}
}

// NewMockProvider creates a new mock provider
func NewMockProvider(name string, opts ...MockProviderOption) *MockProvider {
	m := &MockProvider{
		name:          name,
		dimensions:    1536,
		failModels:    make(map[string]bool),
		generateCalls: make([]GenerateEmbeddingRequest, 0),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	return m.name
}

// GenerateEmbedding generates a mock embedding
func (m *MockProvider) GenerateEmbedding(ctx context.Context, req GenerateEmbeddingRequest) (*EmbeddingResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, &ProviderError{
			Provider: m.name,
			Code:     "PROVIDER_CLOSED",
			Message:  "provider is closed",
		}
	}

	m.generateCalls = append(m.generateCalls, req)
	m.requestCount++

	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.failModels[req.Model] || m.shouldFail() {
		return nil, &ProviderError{
			Provider:    m.name,
			Code:        "MOCK_FAILURE",
			Message:     fmt.Sprintf("simulated failure for model %s", req.Model),
			StatusCode:  500,
			IsRetryable: true,
		}
	}

	embedding := generateMockEmbedding(req.Text, m.dimensions)

	tokensUsed := len(req.Text) / 4
	if tokensUsed == 0 {
		tokensUsed = 1
	}

	return &EmbeddingResponse{
		Embedding:  embedding,
		Model:      req.Model,
		Dimensions: m.dimensions,
		TokensUsed: tokensUsed,
		ProviderInfo: ProviderMetadata{
			Provider:  m.name,
			LatencyMs: int64(m.latency / time.Millisecond),
		},
	}, nil
}

// HealthCheck verifies the provider is functioning
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("provider is closed")
	}

	return m.healthCheckError
}

// Close cleans up resources
func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Test helper methods

// GetGenerateCalls returns all generate embedding calls made
func (m *MockProvider) GetGenerateCalls() []GenerateEmbeddingRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := make([]GenerateEmbeddingRequest, len(m.generateCalls))
	copy(calls, m.generateCalls)
	return calls
}

// CallCount returns the number of generate calls made
func (m *MockProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// ResetCalls clears the call history
func (m *MockProvider) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generateCalls = m.generateCalls[:0]
	m.requestCount = 0
}

func (m *MockProvider) shouldFail() bool {
	if m.failAfterCount > 0 && m.requestCount > m.failAfterCount {
		return true
	}

	if m.failureRate > 0 && rand.Float64() < m.failureRate {
		return true
	}

	return false
}

// generateMockEmbedding builds a deterministic normalized vector seeded
// by the text hash.
func generateMockEmbedding(text string, dimensions int) []float32 {
	embedding := make([]float32, dimensions)

	hash := 0
	for _, ch := range text {
		hash = hash*31 + int(ch)
	}
	r := rand.New(rand.NewSource(int64(hash)))

	for i := 0; i < dimensions; i++ {
		base := r.Float64()*2 - 1

		wave1 := math.Sin(float64(i) * 0.1)
		wave2 := math.Cos(float64(i) * 0.05)

		embedding[i] = float32(base*0.7 + wave1*0.2 + wave2*0.1)
	}

	var sum float32
	for _, val := range embedding {
		sum += val * val
	}
	magnitude := float32(math.Sqrt(float64(sum)))

	if magnitude > 0 {
		for i := range embedding {
			embedding[i] /= magnitude
		}
	}

	return embedding
}
