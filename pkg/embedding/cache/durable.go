package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/contentmesh/embedcache/pkg/common"
	"github.com/contentmesh/embedcache/pkg/embedding"
	"github.com/contentmesh/embedcache/pkg/observability"
)

// DefaultKeyPrefix namespaces durable-tier keys so the cache can share a
// Redis instance with other tenants.
const DefaultKeyPrefix = "embedcache"

// VectorArchive receives a compact binary copy of every embedding the
// durable tier stores. Archival is best effort: a failed upload is
// logged and the write still succeeds.
type VectorArchive interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// durableDocument is the JSON shape stored in Redis. The fingerprint is
// embedded so a read can verify the entry belongs to the model that was
// asked for, independent of how the key was constructed.
type durableDocument struct {
	Fingerprint string           `json:"fingerprint"`
	Embedding   embedding.Vector `json:"embedding"`
	Text        string           `json:"text,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// DurableTier is the shared remote level backed by Redis. Entries written
// with a TTL expire server side; entries written with TTL zero persist
// until overwritten.
type DurableTier struct {
	client  *redis.Client
	prefix  string
	archive VectorArchive
	logger  observability.Logger
}

// DurableTierOption configures optional tier behavior.
type DurableTierOption func(*DurableTier)

// WithKeyPrefix overrides the Redis key namespace.
func WithKeyPrefix(prefix string) DurableTierOption {
	return func(t *DurableTier) {
		if prefix != "" {
			t.prefix = prefix
		}
	}
}

// WithVectorArchive attaches a blob archive that mirrors stored vectors.
func WithVectorArchive(archive VectorArchive) DurableTierOption {
	return func(t *DurableTier) {
		t.archive = archive
	}
}

// NewDurableTier builds a Redis-backed tier around an existing client.
func NewDurableTier(client *redis.Client, logger observability.Logger, opts ...DurableTierOption) *DurableTier {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	t := &DurableTier{
		client: client,
		prefix: DefaultKeyPrefix,
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements Tier.
func (t *DurableTier) Name() string {
	return "durable"
}

// Get implements Tier.
func (t *DurableTier) Get(ctx context.Context, key embedding.Key) (*Entry, error) {
	data, err := t.client.Get(ctx, t.redisKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: redis get %s: %v", ErrStorageUnavailable, key.String(), err)
	}

	var doc durableDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidEntry, key.String(), err)
	}

	// A document recorded under one model must never satisfy a request
	// for another. Treat disagreement as a miss so the caller regenerates.
	if doc.Fingerprint != key.Fingerprint {
		t.logger.Warn("durable entry fingerprint mismatch", map[string]interface{}{
			"key":      key.String(),
			"expected": key.Fingerprint,
			"stored":   doc.Fingerprint,
		})
		return nil, ErrNotFound
	}

	return &Entry{
		Fingerprint: doc.Fingerprint,
		Hash:        key.Hash,
		Embedding:   doc.Embedding,
		Text:        doc.Text,
		CreatedAt:   doc.CreatedAt,
	}, nil
}

// Put implements Tier.
func (t *DurableTier) Put(ctx context.Context, entry *Entry) error {
	doc := durableDocument{
		Fingerprint: entry.Fingerprint,
		Embedding:   entry.Embedding,
		Text:        entry.Text,
		CreatedAt:   entry.CreatedAt,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrInvalidEntry, entry.Key().String(), err)
	}

	if err := t.client.Set(ctx, t.redisKey(entry.Key()), data, entry.TTL).Err(); err != nil {
		return fmt.Errorf("%w: redis set %s: %v", ErrStorageUnavailable, entry.Key().String(), err)
	}

	t.archiveVector(ctx, entry)
	return nil
}

// Health implements Tier.
func (t *DurableTier) Health(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// archiveVector mirrors the raw vector into the blob archive. Failures
// are logged and dropped so archival never blocks the write path.
func (t *DurableTier) archiveVector(ctx context.Context, entry *Entry) {
	if t.archive == nil {
		return
	}
	key := fmt.Sprintf("vectors/%s/%s.vec", safeFingerprint(entry.Fingerprint), entry.Hash)
	data := common.EncodeVectorBinary(entry.Embedding)
	if err := t.archive.Upload(ctx, key, data, "application/octet-stream"); err != nil {
		t.logger.Warn("vector archive upload failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

func (t *DurableTier) redisKey(key embedding.Key) string {
	return fmt.Sprintf("%s:%s:%s", t.prefix, key.Fingerprint, key.Hash)
}
