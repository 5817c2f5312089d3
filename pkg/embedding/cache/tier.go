// Package cache implements the tiered embedding cache: a process-local
// LRU in front of a durable Redis store, an optional filesystem spill,
// and a pgvector-backed index. Tiers share one interface so the facade
// can probe them in a fixed order and write through to all of them.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/contentmesh/embedcache/pkg/embedding"
)

// Entry is the unit stored by every tier. Fingerprint and Hash together
// form the cache key; Embedding is the payload. TTL is carried from the
// facade to tiers that support expiry and is never persisted itself.
type Entry struct {
	Fingerprint string           `json:"fingerprint"`
	Hash        string           `json:"hash"`
	Embedding   embedding.Vector `json:"embedding"`
	Text        string           `json:"text,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	TTL         time.Duration    `json:"-"`
}

// Key returns the cache key for this entry.
func (e *Entry) Key() embedding.Key {
	return embedding.Key{Fingerprint: e.Fingerprint, Hash: e.Hash}
}

// Tier is a single cache level. Get returns ErrNotFound on a clean miss;
// any other error means the tier is degraded and the caller should treat
// the probe as a miss rather than fail the request.
type Tier interface {
	// Name identifies the tier in logs and metrics.
	Name() string

	// Get retrieves the entry for key, or ErrNotFound.
	Get(ctx context.Context, key embedding.Key) (*Entry, error)

	// Put stores the entry, overwriting any previous value for its key.
	Put(ctx context.Context, entry *Entry) error

	// Health reports whether the tier can currently serve requests.
	Health(ctx context.Context) error
}

// safeFingerprint rewrites a model fingerprint into a form usable as a
// path or object-key segment. Fingerprints contain "/" (provider/model)
// and keys contain ":" separators, neither of which nests safely.
func safeFingerprint(fingerprint string) string {
	s := strings.ReplaceAll(fingerprint, "/", "_")
	return strings.ReplaceAll(s, ":", "_")
}
