package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/contentmesh/embedcache/pkg/embedding"
	"github.com/contentmesh/embedcache/pkg/observability"
)

// FilesystemTier persists entries as JSON documents under
// {dir}/{fingerprint}/{hash}.json. It survives process restarts without
// requiring any external service, which makes it the tier of last resort
// before the vector index. Disabled tiers answer every Get with a miss
// and swallow every Put.
type FilesystemTier struct {
	enabled bool
	dir     string
	logger  observability.Logger
}

// NewFilesystemTier builds a filesystem tier rooted at dir. When enabled
// is false the tier is inert and dir may be empty.
func NewFilesystemTier(enabled bool, dir string, logger observability.Logger) *FilesystemTier {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &FilesystemTier{
		enabled: enabled,
		dir:     dir,
		logger:  logger,
	}
}

// Name implements Tier.
func (t *FilesystemTier) Name() string {
	return "filesystem"
}

// Get implements Tier.
func (t *FilesystemTier) Get(_ context.Context, key embedding.Key) (*Entry, error) {
	if !t.enabled {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(t.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, key.String(), err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidEntry, key.String(), err)
	}

	// The path encodes a sanitized fingerprint, so the document itself is
	// the authority on which model produced the vector.
	if entry.Fingerprint != key.Fingerprint {
		t.logger.Warn("filesystem entry fingerprint mismatch", map[string]interface{}{
			"key":      key.String(),
			"expected": key.Fingerprint,
			"stored":   entry.Fingerprint,
		})
		return nil, fmt.Errorf("%w: fingerprint mismatch for %s", ErrInvalidEntry, key.String())
	}

	return &entry, nil
}

// Put implements Tier.
func (t *FilesystemTier) Put(_ context.Context, entry *Entry) error {
	if !t.enabled {
		return nil
	}

	path := t.entryPath(entry.Key())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", ErrStorageUnavailable, entry.Key().String(), err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrInvalidEntry, entry.Key().String(), err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorageUnavailable, entry.Key().String(), err)
	}
	return nil
}

// Health implements Tier. An enabled tier must be able to create its
// root directory.
func (t *FilesystemTier) Health(_ context.Context) error {
	if !t.enabled {
		return nil
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (t *FilesystemTier) entryPath(key embedding.Key) string {
	return filepath.Join(t.dir, safeFingerprint(key.Fingerprint), key.Hash+".json")
}
