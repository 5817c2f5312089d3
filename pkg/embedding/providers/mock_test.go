package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_GenerateEmbedding(t *testing.T) {
	ctx := context.Background()

	t.Run("deterministic per text", func(t *testing.T) {
		m := NewMockProvider("mock")

		r1, err := m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "hello", Model: "m1"})
		require.NoError(t, err)
		r2, err := m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "hello", Model: "m1"})
		require.NoError(t, err)

		assert.Equal(t, r1.Embedding, r2.Embedding)
		assert.Len(t, r1.Embedding, 1536)
	})

	t.Run("different text different vector", func(t *testing.T) {
		m := NewMockProvider("mock")

		r1, err := m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "hello", Model: "m1"})
		require.NoError(t, err)
		r2, err := m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "goodbye", Model: "m1"})
		require.NoError(t, err)

		assert.NotEqual(t, r1.Embedding, r2.Embedding)
	})

	t.Run("custom dimensions", func(t *testing.T) {
		m := NewMockProvider("mock", WithDimensions(768))

		resp, err := m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "hello", Model: "m1"})
		require.NoError(t, err)
		assert.Len(t, resp.Embedding, 768)
		assert.Equal(t, 768, resp.Dimensions)
	})

	t.Run("fail for specific models", func(t *testing.T) {
		m := NewMockProvider("mock", WithFailForModels("bad-model"))

		_, err := m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "hello", Model: "bad-model"})
		require.Error(t, err)

		_, err = m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "hello", Model: "good-model"})
		require.NoError(t, err)
	})

	t.Run("fail after count", func(t *testing.T) {
		m := NewMockProvider("mock", WithFailAfter(2))

		_, err := m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "a", Model: "m1"})
		require.NoError(t, err)
		_, err = m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "b", Model: "m1"})
		require.NoError(t, err)
		_, err = m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "c", Model: "m1"})
		require.Error(t, err)
	})

	t.Run("records calls", func(t *testing.T) {
		m := NewMockProvider("mock")

		_, _ = m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "a", Model: "m1"})
		_, _ = m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "b", Model: "m2"})

		calls := m.GetGenerateCalls()
		require.Len(t, calls, 2)
		assert.Equal(t, "a", calls[0].Text)
		assert.Equal(t, "m2", calls[1].Model)
		assert.Equal(t, 2, m.CallCount())

		m.ResetCalls()
		assert.Empty(t, m.GetGenerateCalls())
		assert.Zero(t, m.CallCount())
	})

	t.Run("closed provider fails", func(t *testing.T) {
		m := NewMockProvider("mock")
		require.NoError(t, m.Close())

		_, err := m.GenerateEmbedding(ctx, GenerateEmbeddingRequest{Text: "a", Model: "m1"})
		require.Error(t, err)
		assert.Error(t, m.HealthCheck(ctx))
	})

	t.Run("health check error option", func(t *testing.T) {
		m := NewMockProvider("mock", WithHealthCheckError(assert.AnError))
		assert.ErrorIs(t, m.HealthCheck(ctx), assert.AnError)
	})
}
