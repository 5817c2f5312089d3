package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contentmesh/embedcache/pkg/embedding/providers"
	"github.com/contentmesh/embedcache/pkg/observability"
)

// ErrAllCandidatesFailed reports that every candidate in the fallback
// chain was tried and none produced a contract-passing vector. It is a
// transient condition, not a programming error.
var ErrAllCandidatesFailed = errors.New("all embedding candidates failed")

// RouterConfig configures the provider router
type RouterConfig struct {
	// Backend is the default backend for bare model ids: "openai" or
	// "bedrock". Fingerprints with a provider prefix override it.
	Backend string

	// DefaultModel is the primary fingerprint when no pin is active
	DefaultModel string

	// FallbackModels are tried in order after the primary fails
	FallbackModels []string

	// RequestTimeout bounds each generation call
	RequestTimeout time.Duration

	// DimensionContract rejects vectors of any other length (0 = unenforced)
	DimensionContract int

	OpenAI  providers.ProviderConfig
	Bedrock providers.ProviderConfig
}

// GenerateResult is a successful generation. Fingerprint is the model
// actually used, which differs from the requested primary on a
// fallback win.
type GenerateResult struct {
	Vector      Vector
	Fingerprint string
	Provider    string
	TokensUsed  int
	Fallback    bool
}

// Router dispatches generation to a primary backend and walks an
// ordered fallback chain when it fails. Against the generic backend
// every candidate gets two call shapes (direct POST, then the pooled
// retrying client); the managed platform has one. The router itself is
// stateless across calls; the model pin belongs to the facade.
type Router struct {
	config   RouterConfig
	backends map[string][]providers.Provider
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewRouter builds the router and its backends from configuration.
// A backend whose configuration is incomplete (missing API key or
// region) is logged once here and skipped for every candidate that
// resolves to it; this is never treated as fatal.
func NewRouter(config RouterConfig, logger observability.Logger, metrics observability.MetricsClient) *Router {
	backends := make(map[string][]providers.Provider)

	if config.OpenAI.APIKey == "" {
		logger.Warn("openai backend disabled: API key not configured", nil)
	} else {
		direct, err := providers.NewOpenAIProvider(config.OpenAI)
		if err != nil {
			logger.Error("openai backend disabled", map[string]interface{}{"error": err.Error()})
		} else {
			shapes := []providers.Provider{direct}
			pooled, err := providers.NewOpenAIClientProvider(config.OpenAI)
			if err != nil {
				logger.Error("openai pooled client disabled", map[string]interface{}{"error": err.Error()})
			} else {
				shapes = append(shapes, pooled)
			}
			backends[ProviderOpenAI] = shapes
		}
	}

	if config.Bedrock.Region == "" {
		logger.Warn("bedrock backend disabled: region not configured", nil)
	} else {
		bedrock, err := providers.NewBedrockProvider(config.Bedrock)
		if err != nil {
			logger.Error("bedrock backend disabled", map[string]interface{}{"error": err.Error()})
		} else {
			backends[ProviderBedrock] = []providers.Provider{bedrock}
		}
	}

	return NewRouterWithBackends(config, backends, logger, metrics)
}

// NewRouterWithBackends creates a router over pre-built backends. Tests
// inject mock providers here.
func NewRouterWithBackends(config RouterConfig, backends map[string][]providers.Provider, logger observability.Logger, metrics observability.MetricsClient) *Router {
	if config.Backend == "" {
		config.Backend = ProviderOpenAI
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = providers.DefaultRequestTimeout
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Router{
		config:   config,
		backends: backends,
		logger:   logger,
		metrics:  metrics,
	}
}

// Generate walks the candidate chain for text, starting from the given
// primary fingerprint. The first vector satisfying the dimension
// contract wins. Exhausting every candidate returns
// ErrAllCandidatesFailed; a cancelled parent context aborts the walk
// with the context error.
func (r *Router) Generate(ctx context.Context, text, primary string) (*GenerateResult, error) {
	ctx, span := observability.StartSpan(ctx, "embedding.router.generate")
	defer span.End()
	span.SetAttribute("embedding.primary", primary)

	requestID := uuid.New().String()
	start := time.Now()

	for i, candidate := range r.candidates(primary) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("generation aborted: %w", err)
		}

		backendName, model := r.resolveBackend(candidate)
		shapes, ok := r.backends[backendName]
		if !ok {
			// Backend was skipped at construction; already logged there.
			continue
		}

		for _, shape := range shapes {
			result, err := r.tryShape(ctx, shape, model, text, requestID)
			if err != nil {
				r.logger.Warn("embedding generation attempt failed", map[string]interface{}{
					"model":    candidate,
					"provider": shape.Name(),
					"error":    err.Error(),
				})
				r.metrics.IncrementCounterWithLabels("embedding.router.attempt_failures", 1, map[string]string{
					"model":    candidate,
					"provider": shape.Name(),
				})
				continue
			}

			fallback := i > 0
			if fallback {
				r.logger.Info("fallback model won generation", map[string]interface{}{
					"primary": primary,
					"model":   candidate,
				})
				r.metrics.IncrementCounterWithLabels("embedding.router.fallback_wins", 1, map[string]string{
					"model": candidate,
				})
			}
			r.metrics.RecordHistogram("embedding.router.generate.duration", time.Since(start).Seconds(), map[string]string{
				"model": candidate,
			})

			span.SetAttribute("embedding.model", candidate)
			span.SetAttribute("embedding.fallback", fallback)

			return &GenerateResult{
				Vector:      result.Embedding,
				Fingerprint: candidate,
				Provider:    shape.Name(),
				TokensUsed:  result.TokensUsed,
				Fallback:    fallback,
			}, nil
		}
	}

	r.metrics.IncrementCounter("embedding.router.exhausted", 1)
	span.RecordError(ErrAllCandidatesFailed)
	return nil, ErrAllCandidatesFailed
}

// HealthCheck pings every configured backend shape
func (r *Router) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for name, shapes := range r.backends {
		for _, shape := range shapes {
			results[name+"/"+shape.Name()] = shape.HealthCheck(ctx)
		}
	}
	return results
}

// Close releases every backend's resources
func (r *Router) Close() error {
	var firstErr error
	for _, shapes := range r.backends {
		for _, shape := range shapes {
			if err := shape.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// candidates returns the ordered chain: primary first, then fallbacks
// with duplicates of already-listed candidates dropped.
func (r *Router) candidates(primary string) []string {
	out := make([]string, 0, 1+len(r.config.FallbackModels))
	seen := make(map[string]bool, 1+len(r.config.FallbackModels))

	if primary != "" {
		out = append(out, primary)
		seen[primary] = true
	}
	for _, fb := range r.config.FallbackModels {
		if fb == "" || seen[fb] {
			continue
		}
		out = append(out, fb)
		seen[fb] = true
	}
	return out
}

// resolveBackend splits a fingerprint like "openai/text-embedding-3-small"
// into its backend and bare model id. Fingerprints without a recognized
// provider prefix go to the configured default backend unchanged.
func (r *Router) resolveBackend(fingerprint string) (string, string) {
	if idx := strings.Index(fingerprint, "/"); idx > 0 {
		prefix := fingerprint[:idx]
		switch prefix {
		case ProviderOpenAI, ProviderBedrock, ProviderMock:
			return prefix, fingerprint[idx+1:]
		}
	}
	return r.config.Backend, fingerprint
}

func (r *Router) tryShape(ctx context.Context, shape providers.Provider, model, text, requestID string) (*providers.EmbeddingResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
	defer cancel()

	resp, err := shape.GenerateEmbedding(callCtx, providers.GenerateEmbeddingRequest{
		Text:      text,
		Model:     model,
		RequestID: requestID,
	})
	if err != nil {
		return nil, err
	}

	if r.config.DimensionContract > 0 && len(resp.Embedding) != r.config.DimensionContract {
		return nil, fmt.Errorf("generated vector has %d dimensions, contract requires %d", len(resp.Embedding), r.config.DimensionContract)
	}

	return resp, nil
}
