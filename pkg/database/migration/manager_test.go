package migration

import (
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := sqlx.NewDb(mockDB, "sqlmock")

	manager, err := NewManager(db, Config{
		MigrationsPath:   "migrations/sql",
		MigrationTimeout: 30 * time.Second,
	})
	require.NoError(t, err)
	assert.NotNil(t, manager)

	_, err = NewManager(nil, Config{})
	assert.Error(t, err)
}

func TestNewManager_Defaults(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	manager, err := NewManager(sqlx.NewDb(mockDB, "sqlmock"), Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMigrationsPath, manager.config.MigrationsPath)
	assert.Equal(t, time.Minute, manager.config.MigrationTimeout)
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, CreateMigration(dir, "create embedding cache"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "001_create_embedding_cache.down.sql", entries[0].Name())
	assert.Equal(t, "001_create_embedding_cache.up.sql", entries[1].Name())

	// Numbering continues past the highest existing version.
	require.NoError(t, CreateMigration(dir, "add expiry"))

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "002_add_expiry.up.sql", entries[3].Name())
}

func TestCreateMigration_Validation(t *testing.T) {
	assert.Error(t, CreateMigration("", "x"))
	assert.Error(t, CreateMigration(t.TempDir(), ""))
}
