package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// ContentNormalizer canonicalizes text before hashing so that
// insignificant whitespace differences map to the same cache key.
type ContentNormalizer interface {
	Normalize(text string) string
}

// DefaultContentNormalizer collapses runs of whitespace (including
// newlines) to single spaces and trims the ends. It deliberately does
// NOT lowercase or strip words: dedup and similarity callers need equal
// bytes for equal content, nothing looser.
type DefaultContentNormalizer struct {
	whitespaceRegex *regexp.Regexp
}

// NewContentNormalizer creates the default normalizer
func NewContentNormalizer() *DefaultContentNormalizer {
	return &DefaultContentNormalizer{
		whitespaceRegex: regexp.MustCompile(`\s+`),
	}
}

// Normalize canonicalizes text for hashing. Empty or all-whitespace
// input normalizes to the empty string.
func (n *DefaultContentNormalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}
	normalized := n.whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(normalized)
}

// HashContent returns the hex SHA-256 digest of normalized text. The
// digest is an identity key, not a security boundary.
func HashContent(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// KeyBuilder turns raw text plus a model fingerprint into a cache key.
type KeyBuilder struct {
	normalizer ContentNormalizer
}

// NewKeyBuilder creates a key builder over the given normalizer
func NewKeyBuilder(normalizer ContentNormalizer) *KeyBuilder {
	if normalizer == nil {
		normalizer = NewContentNormalizer()
	}
	return &KeyBuilder{normalizer: normalizer}
}

// BuildKey normalizes and hashes text under the given fingerprint.
func (b *KeyBuilder) BuildKey(text, fingerprint string) Key {
	return Key{
		Fingerprint: fingerprint,
		Hash:        HashContent(b.normalizer.Normalize(text)),
	}
}
