package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentmesh/embedcache/pkg/common"
	"github.com/contentmesh/embedcache/pkg/embedding"
)

const vectorIndexSelect = "SELECT model_id, dimension, document, embedding::text AS embedding, created_at FROM embedding_cache"

func setupVectorIndexTier(t *testing.T, contract int) (*VectorIndexTier, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewVectorIndexTier(sqlxDB, contract, nil, nil), mock
}

func TestVectorIndexTier_Get(t *testing.T) {
	key := embedding.Key{Fingerprint: "openai/text-embedding-3-small", Hash: "hash-a"}
	vector := embedding.Vector{0.1, 0.2, 0.3, 0.4}

	t.Run("hit", func(t *testing.T) {
		tier, mock := setupVectorIndexTier(t, 4)

		rows := sqlmock.NewRows([]string{"model_id", "dimension", "document", "embedding", "created_at"}).
			AddRow(key.Fingerprint, 4, "some text", common.FormatVectorForPgVector(vector), time.Now().UTC())
		mock.ExpectQuery(vectorIndexSelect).WithArgs(key.Hash).WillReturnRows(rows)

		got, err := tier.Get(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, key.Fingerprint, got.Fingerprint)
		assert.Equal(t, key.Hash, got.Hash)
		assert.Len(t, got.Embedding, 4)
		assert.InDelta(t, 0.2, got.Embedding[1], 1e-6)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss on absent row", func(t *testing.T) {
		tier, mock := setupVectorIndexTier(t, 0)

		mock.ExpectQuery(vectorIndexSelect).
			WithArgs(key.Hash).
			WillReturnRows(sqlmock.NewRows([]string{"model_id", "dimension", "document", "embedding", "created_at"}))

		_, err := tier.Get(context.Background(), key)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss on fingerprint mismatch", func(t *testing.T) {
		tier, mock := setupVectorIndexTier(t, 0)

		rows := sqlmock.NewRows([]string{"model_id", "dimension", "document", "embedding", "created_at"}).
			AddRow("bedrock/amazon.titan-embed-text-v1", 4, "", common.FormatVectorForPgVector(vector), time.Now().UTC())
		mock.ExpectQuery(vectorIndexSelect).WithArgs(key.Hash).WillReturnRows(rows)

		_, err := tier.Get(context.Background(), key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("miss on dimension metadata disagreement", func(t *testing.T) {
		tier, mock := setupVectorIndexTier(t, 0)

		rows := sqlmock.NewRows([]string{"model_id", "dimension", "document", "embedding", "created_at"}).
			AddRow(key.Fingerprint, 99, "", common.FormatVectorForPgVector(vector), time.Now().UTC())
		mock.ExpectQuery(vectorIndexSelect).WithArgs(key.Hash).WillReturnRows(rows)

		_, err := tier.Get(context.Background(), key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("miss on contract violation", func(t *testing.T) {
		tier, mock := setupVectorIndexTier(t, 1536)

		rows := sqlmock.NewRows([]string{"model_id", "dimension", "document", "embedding", "created_at"}).
			AddRow(key.Fingerprint, 4, "", common.FormatVectorForPgVector(vector), time.Now().UTC())
		mock.ExpectQuery(vectorIndexSelect).WithArgs(key.Hash).WillReturnRows(rows)

		_, err := tier.Get(context.Background(), key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("storage error", func(t *testing.T) {
		tier, mock := setupVectorIndexTier(t, 0)

		mock.ExpectQuery(vectorIndexSelect).
			WithArgs(key.Hash).
			WillReturnError(errors.New("connection refused"))

		_, err := tier.Get(context.Background(), key)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	})
}

func TestVectorIndexTier_Put(t *testing.T) {
	tier, mock := setupVectorIndexTier(t, 0)

	entry := testEntry("openai/text-embedding-3-small", "hash-a", 4)
	mock.ExpectExec("INSERT INTO embedding_cache").
		WithArgs(
			entry.Hash,
			entry.Fingerprint,
			4,
			entry.Text,
			common.FormatVectorForPgVector(entry.Embedding),
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tier.Put(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorIndexTier_PutStorageError(t *testing.T) {
	tier, mock := setupVectorIndexTier(t, 0)

	mock.ExpectExec("INSERT INTO embedding_cache").
		WillReturnError(errors.New("connection refused"))

	err := tier.Put(context.Background(), testEntry("m", "hash-a", 4))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestVectorIndexTier_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		tier, mock := setupVectorIndexTier(t, 0)

		mock.ExpectQuery("SELECT 1").
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		assert.NoError(t, tier.Health(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("extension missing", func(t *testing.T) {
		tier, mock := setupVectorIndexTier(t, 0)

		mock.ExpectQuery("SELECT 1").
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		err := tier.Health(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pgvector")
	})

	t.Run("database down", func(t *testing.T) {
		tier, mock := setupVectorIndexTier(t, 0)

		mock.ExpectQuery("SELECT 1").
			WillReturnError(errors.New("connection refused"))

		assert.Error(t, tier.Health(context.Background()))
	})
}
