package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/contentmesh/embedcache/pkg/embedding"
)

// DefaultMemoryCapacity bounds the in-process tier when no capacity is
// configured.
const DefaultMemoryCapacity = 512

// MemoryTier is the process-local level: a bounded LRU keyed by the
// canonical "fingerprint:hash" string. Get refreshes recency, so entries
// touched by any request survive longer than cold ones.
type MemoryTier struct {
	entries *lru.Cache[string, *Entry]
}

// NewMemoryTier builds a memory tier holding at most capacity entries.
// A capacity of zero or less falls back to DefaultMemoryCapacity.
func NewMemoryTier(capacity int) (*MemoryTier, error) {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	entries, err := lru.New[string, *Entry](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryTier{entries: entries}, nil
}

// Name implements Tier.
func (t *MemoryTier) Name() string {
	return "memory"
}

// Get implements Tier. A hit moves the entry to most-recently-used.
func (t *MemoryTier) Get(_ context.Context, key embedding.Key) (*Entry, error) {
	entry, ok := t.entries.Get(key.String())
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Put implements Tier. Inserting at capacity evicts the least recently
// used entry.
func (t *MemoryTier) Put(_ context.Context, entry *Entry) error {
	t.entries.Add(entry.Key().String(), entry)
	return nil
}

// Health implements Tier. The memory tier cannot degrade.
func (t *MemoryTier) Health(_ context.Context) error {
	return nil
}

// Len reports the number of cached entries.
func (t *MemoryTier) Len() int {
	return t.entries.Len()
}

// Purge drops every entry.
func (t *MemoryTier) Purge() {
	t.entries.Purge()
}
