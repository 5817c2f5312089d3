package embedding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	n := NewContentNormalizer()

	t.Run("collapses whitespace runs", func(t *testing.T) {
		assert.Equal(t, "hello world", n.Normalize("hello   world"))
		assert.Equal(t, "hello world", n.Normalize("hello\t\tworld"))
		assert.Equal(t, "hello world", n.Normalize("hello\n\nworld"))
		assert.Equal(t, "hello world", n.Normalize("hello \n\t world"))
	})

	t.Run("trims ends", func(t *testing.T) {
		assert.Equal(t, "hello", n.Normalize("  hello  "))
		assert.Equal(t, "hello", n.Normalize("\nhello\n"))
	})

	t.Run("empty and blank input", func(t *testing.T) {
		assert.Equal(t, "", n.Normalize(""))
		assert.Equal(t, "", n.Normalize("   \n\t  "))
	})

	t.Run("preserves case and punctuation", func(t *testing.T) {
		assert.Equal(t, "Hello, World!", n.Normalize("Hello,  World!"))
	})
}

func TestHashContent(t *testing.T) {
	t.Run("stable hex digest", func(t *testing.T) {
		h := HashContent("hello world")
		assert.Len(t, h, 64)
		assert.Equal(t, h, HashContent("hello world"))
	})

	t.Run("distinct content distinct hash", func(t *testing.T) {
		assert.NotEqual(t, HashContent("hello"), HashContent("world"))
	})

	t.Run("case sensitive", func(t *testing.T) {
		assert.NotEqual(t, HashContent("Hello"), HashContent("hello"))
	})
}

func TestBuildKey(t *testing.T) {
	b := NewKeyBuilder(nil)

	t.Run("whitespace variants share one key", func(t *testing.T) {
		k1 := b.BuildKey("hello   world", "openai/text-embedding-3-small")
		k2 := b.BuildKey(" hello\nworld ", "openai/text-embedding-3-small")
		assert.Equal(t, k1, k2)
	})

	t.Run("fingerprints never collapse", func(t *testing.T) {
		k1 := b.BuildKey("hello", "openai/text-embedding-3-small")
		k2 := b.BuildKey("hello", "bedrock/amazon.titan-embed-text-v2:0")
		assert.Equal(t, k1.Hash, k2.Hash)
		assert.NotEqual(t, k1.String(), k2.String())
	})

	t.Run("canonical string form", func(t *testing.T) {
		k := b.BuildKey("hello", "m1")
		assert.True(t, strings.HasPrefix(k.String(), "m1:"))
		assert.Equal(t, "m1:"+k.Hash, k.String())
	})
}

func BenchmarkNormalize(b *testing.B) {
	n := NewContentNormalizer()
	text := strings.Repeat("some content with   irregular \n whitespace ", 20)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n.Normalize(text)
	}
}

func BenchmarkBuildKey(b *testing.B) {
	kb := NewKeyBuilder(nil)
	text := strings.Repeat("some content for hashing ", 20)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		kb.BuildKey(text, "openai/text-embedding-3-small")
	}
}
