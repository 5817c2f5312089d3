package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentmesh/embedcache/pkg/embedding/providers"
)

func newTestRouter(config RouterConfig, backends map[string][]providers.Provider) *Router {
	return NewRouterWithBackends(config, backends, nil, nil)
}

func TestRouterGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("primary wins on first shape", func(t *testing.T) {
		mock := providers.NewMockProvider("mock")
		router := newTestRouter(RouterConfig{
			Backend:      ProviderMock,
			DefaultModel: "m1",
		}, map[string][]providers.Provider{
			ProviderMock: {mock},
		})

		result, err := router.Generate(ctx, "hello world", "m1")
		require.NoError(t, err)
		assert.Equal(t, "m1", result.Fingerprint)
		assert.False(t, result.Fallback)
		assert.Len(t, result.Vector, 1536)
		assert.Equal(t, 1, mock.CallCount())
	})

	t.Run("second shape tried after first fails", func(t *testing.T) {
		failing := providers.NewMockProvider("shape1", providers.WithFailForModels("m1"))
		working := providers.NewMockProvider("shape2")
		router := newTestRouter(RouterConfig{
			Backend: ProviderMock,
		}, map[string][]providers.Provider{
			ProviderMock: {failing, working},
		})

		result, err := router.Generate(ctx, "hello", "m1")
		require.NoError(t, err)
		assert.Equal(t, "m1", result.Fingerprint)
		assert.Equal(t, "shape2", result.Provider)
		assert.False(t, result.Fallback, "same candidate, different shape")
		assert.Equal(t, 1, failing.CallCount())
		assert.Equal(t, 1, working.CallCount())
	})

	t.Run("fallback model wins after primary exhausted", func(t *testing.T) {
		mock := providers.NewMockProvider("mock", providers.WithFailForModels("m1"))
		router := newTestRouter(RouterConfig{
			Backend:        ProviderMock,
			FallbackModels: []string{"m2", "m3"},
		}, map[string][]providers.Provider{
			ProviderMock: {mock},
		})

		result, err := router.Generate(ctx, "hello", "m1")
		require.NoError(t, err)
		assert.Equal(t, "m2", result.Fingerprint)
		assert.True(t, result.Fallback)

		calls := mock.GetGenerateCalls()
		require.Len(t, calls, 2)
		assert.Equal(t, "m1", calls[0].Model)
		assert.Equal(t, "m2", calls[1].Model)
	})

	t.Run("fallback identical to primary is skipped", func(t *testing.T) {
		mock := providers.NewMockProvider("mock", providers.WithFailForModels("m1"))
		router := newTestRouter(RouterConfig{
			Backend:        ProviderMock,
			FallbackModels: []string{"m1", "m2"},
		}, map[string][]providers.Provider{
			ProviderMock: {mock},
		})

		result, err := router.Generate(ctx, "hello", "m1")
		require.NoError(t, err)
		assert.Equal(t, "m2", result.Fingerprint)

		calls := mock.GetGenerateCalls()
		require.Len(t, calls, 2, "m1 tried once, not twice")
	})

	t.Run("exhaustion returns sentinel", func(t *testing.T) {
		mock := providers.NewMockProvider("mock", providers.WithFailForModels("m1", "m2"))
		router := newTestRouter(RouterConfig{
			Backend:        ProviderMock,
			FallbackModels: []string{"m2"},
		}, map[string][]providers.Provider{
			ProviderMock: {mock},
		})

		_, err := router.Generate(ctx, "hello", "m1")
		assert.ErrorIs(t, err, ErrAllCandidatesFailed)
	})

	t.Run("dimension contract rejects and falls through", func(t *testing.T) {
		small := providers.NewMockProvider("small", providers.WithDimensions(768))
		large := providers.NewMockProvider("large", providers.WithDimensions(1536))
		router := newTestRouter(RouterConfig{
			Backend:           ProviderMock,
			DimensionContract: 1536,
		}, map[string][]providers.Provider{
			ProviderMock: {small, large},
		})

		result, err := router.Generate(ctx, "hello", "m1")
		require.NoError(t, err)
		assert.Len(t, result.Vector, 1536)
		assert.Equal(t, "large", result.Provider)
	})

	t.Run("unconfigured backend is skipped", func(t *testing.T) {
		mock := providers.NewMockProvider("mock")
		router := newTestRouter(RouterConfig{
			Backend:        ProviderMock,
			FallbackModels: []string{"m2"},
		}, map[string][]providers.Provider{
			ProviderMock: {mock},
		})

		// Primary routes to the missing openai backend, fallback to mock.
		result, err := router.Generate(ctx, "hello", "openai/text-embedding-3-small")
		require.NoError(t, err)
		assert.Equal(t, "m2", result.Fingerprint)
		assert.True(t, result.Fallback)
	})

	t.Run("cancelled context aborts the walk", func(t *testing.T) {
		mock := providers.NewMockProvider("mock")
		router := newTestRouter(RouterConfig{
			Backend: ProviderMock,
		}, map[string][]providers.Provider{
			ProviderMock: {mock},
		})

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := router.Generate(cancelled, "hello", "m1")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, mock.CallCount())
	})
}

func TestRouterResolveBackend(t *testing.T) {
	router := newTestRouter(RouterConfig{Backend: ProviderOpenAI}, nil)

	t.Run("provider prefix routes explicitly", func(t *testing.T) {
		backend, model := router.resolveBackend("bedrock/amazon.titan-embed-text-v2:0")
		assert.Equal(t, ProviderBedrock, backend)
		assert.Equal(t, "amazon.titan-embed-text-v2:0", model)
	})

	t.Run("bare model id uses the default backend", func(t *testing.T) {
		backend, model := router.resolveBackend("text-embedding-3-small")
		assert.Equal(t, ProviderOpenAI, backend)
		assert.Equal(t, "text-embedding-3-small", model)
	})

	t.Run("unknown prefix is part of the model id", func(t *testing.T) {
		backend, model := router.resolveBackend("custom/model")
		assert.Equal(t, ProviderOpenAI, backend)
		assert.Equal(t, "custom/model", model)
	})
}

func TestRouterCandidates(t *testing.T) {
	router := newTestRouter(RouterConfig{
		FallbackModels: []string{"m2", "m1", "m3", "m2", ""},
	}, nil)

	assert.Equal(t, []string{"m1", "m2", "m3"}, router.candidates("m1"))
	assert.Equal(t, []string{"m2", "m1", "m3"}, router.candidates("m2"))
}

func TestRouterHealthCheck(t *testing.T) {
	healthy := providers.NewMockProvider("healthy")
	sick := providers.NewMockProvider("sick", providers.WithHealthCheckError(assert.AnError))
	router := newTestRouter(RouterConfig{Backend: ProviderMock}, map[string][]providers.Provider{
		ProviderMock: {healthy, sick},
	})

	results := router.HealthCheck(context.Background())
	require.Len(t, results, 2)
	assert.NoError(t, results["mock/healthy"])
	assert.Error(t, results["mock/sick"])
}
