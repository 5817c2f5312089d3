package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/contentmesh/embedcache/pkg/common"
	"github.com/contentmesh/embedcache/pkg/embedding"
	"github.com/contentmesh/embedcache/pkg/observability"
)

// VectorIndexTier reuses the pgvector collection as the deepest cache
// level. Rows are keyed by content hash alone; the model fingerprint and
// dimension live in metadata columns and gate every read, so an entry
// written by one model can never satisfy a request for another. Writes
// land here on every successful generation because similarity search
// queries this table directly.
type VectorIndexTier struct {
	db                *sqlx.DB
	dimensionContract int
	logger            observability.Logger
	metrics           observability.MetricsClient
}

type vectorIndexRow struct {
	ModelID   string    `db:"model_id"`
	Dimension int       `db:"dimension"`
	Document  string    `db:"document"`
	Embedding string    `db:"embedding"`
	CreatedAt time.Time `db:"created_at"`
}

// NewVectorIndexTier builds a vector index tier over an open database
// handle. A dimensionContract of zero disables contract checking on
// reads from this tier.
func NewVectorIndexTier(db *sqlx.DB, dimensionContract int, logger observability.Logger, metrics observability.MetricsClient) *VectorIndexTier {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &VectorIndexTier{
		db:                db,
		dimensionContract: dimensionContract,
		logger:            logger,
		metrics:           metrics,
	}
}

// Name implements Tier.
func (t *VectorIndexTier) Name() string {
	return "vector_index"
}

// Get implements Tier. A row is a hit only when its recorded fingerprint
// matches the request and its recorded dimension matches both the actual
// vector length and the contract.
func (t *VectorIndexTier) Get(ctx context.Context, key embedding.Key) (*Entry, error) {
	ctx, span := observability.StartSpan(ctx, "vector_index.get")
	defer span.End()
	span.SetAttribute("content_hash", key.Hash)
	start := time.Now()

	var row vectorIndexRow
	query := `
		SELECT model_id, dimension, document, embedding::text AS embedding, created_at
		FROM embedding_cache
		WHERE content_hash = $1`
	err := t.db.GetContext(ctx, &row, query, key.Hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			t.recordMetrics("get", start, true)
			return nil, ErrNotFound
		}
		t.logger.Error("Failed to read vector index", map[string]interface{}{
			"key":   key.String(),
			"error": err.Error(),
		})
		t.recordMetrics("get", start, false)
		return nil, fmt.Errorf("%w: vector index get %s: %v", ErrStorageUnavailable, key.String(), err)
	}

	if row.ModelID != key.Fingerprint {
		t.logger.Debug("Vector index fingerprint mismatch", map[string]interface{}{
			"key":      key.String(),
			"expected": key.Fingerprint,
			"stored":   row.ModelID,
		})
		t.recordMetrics("get", start, true)
		return nil, ErrNotFound
	}

	vector, err := common.ParseVectorFromPgVector(row.Embedding)
	if err != nil {
		t.recordMetrics("get", start, false)
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidEntry, key.String(), err)
	}

	if row.Dimension != len(vector) {
		t.logger.Warn("Vector index dimension metadata disagrees with stored vector", map[string]interface{}{
			"key":      key.String(),
			"recorded": row.Dimension,
			"actual":   len(vector),
		})
		t.recordMetrics("get", start, true)
		return nil, ErrNotFound
	}
	if t.dimensionContract > 0 && row.Dimension != t.dimensionContract {
		t.recordMetrics("get", start, true)
		return nil, ErrNotFound
	}

	t.recordMetrics("get", start, true)
	return &Entry{
		Fingerprint: row.ModelID,
		Hash:        key.Hash,
		Embedding:   vector,
		Text:        row.Document,
		CreatedAt:   row.CreatedAt,
	}, nil
}

// Put implements Tier. Writing the same content hash twice replaces the
// earlier row, whichever model produced it.
func (t *VectorIndexTier) Put(ctx context.Context, entry *Entry) error {
	ctx, span := observability.StartSpan(ctx, "vector_index.put")
	defer span.End()
	span.SetAttribute("content_hash", entry.Hash)
	span.SetAttribute(string(observability.ModelAttributeKey), entry.Fingerprint)
	start := time.Now()

	query := `
		INSERT INTO embedding_cache (content_hash, model_id, dimension, document, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5::vector, $6)
		ON CONFLICT (content_hash) DO UPDATE SET
			model_id = EXCLUDED.model_id,
			dimension = EXCLUDED.dimension,
			document = EXCLUDED.document,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`
	_, err := t.db.ExecContext(ctx, query,
		entry.Hash,
		entry.Fingerprint,
		len(entry.Embedding),
		entry.Text,
		common.FormatVectorForPgVector(entry.Embedding),
		entry.CreatedAt,
	)
	if err != nil {
		t.logger.Error("Failed to write vector index", map[string]interface{}{
			"key":   entry.Key().String(),
			"error": err.Error(),
		})
		t.recordMetrics("put", start, false)
		return fmt.Errorf("%w: vector index put %s: %v", ErrStorageUnavailable, entry.Key().String(), err)
	}

	t.recordMetrics("put", start, true)
	return nil
}

// Health implements Tier. The tier needs both a reachable database and
// the pgvector extension.
func (t *VectorIndexTier) Health(ctx context.Context) error {
	var one int
	if err := t.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("%w: database ping: %v", ErrStorageUnavailable, err)
	}
	var hasVector bool
	err := t.db.GetContext(ctx, &hasVector, "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')")
	if err != nil {
		return fmt.Errorf("%w: extension check: %v", ErrStorageUnavailable, err)
	}
	if !hasVector {
		return fmt.Errorf("%w: pgvector extension not installed", ErrStorageUnavailable)
	}
	return nil
}

func (t *VectorIndexTier) recordMetrics(operation string, start time.Time, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	t.metrics.RecordHistogram("cache.vector_index.duration", time.Since(start).Seconds(), map[string]string{
		"operation": operation,
		"status":    status,
	})
}
