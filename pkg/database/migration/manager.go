// Package migration manages the embedding cache schema with
// file-based SQL migrations.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
)

// DefaultMigrationsPath is where the schema files live
const DefaultMigrationsPath = "migrations/sql"

// Config holds the migration configuration
type Config struct {
	// MigrationsPath is the directory holding *.up.sql / *.down.sql files
	MigrationsPath string

	// MigrationTimeout bounds a single migration run
	MigrationTimeout time.Duration

	// Steps applies only that many migrations when positive (0 = all)
	Steps int
}

// Manager handles schema migrations for the embedding cache store
type Manager struct {
	db       *sqlx.DB
	config   Config
	migrator *migrate.Migrate
}

// NewManager creates a migration manager over an open connection
func NewManager(db *sqlx.DB, config Config) (*Manager, error) {
	if db == nil {
		return nil, errors.New("db connection cannot be nil")
	}
	if config.MigrationsPath == "" {
		config.MigrationsPath = DefaultMigrationsPath
	}
	if config.MigrationTimeout <= 0 {
		config.MigrationTimeout = time.Minute
	}
	return &Manager{db: db, config: config}, nil
}

// init builds the migrator on first use
func (m *Manager) init() error {
	if m.migrator != nil {
		return nil
	}

	driver, err := postgres.WithInstance(m.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	migrator, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", m.config.MigrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	m.migrator = migrator
	return nil
}

// Up applies pending migrations. A run with nothing to apply is not an
// error.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.init(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.MigrationTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		if m.config.Steps > 0 {
			err = m.migrator.Steps(m.config.Steps)
		} else {
			err = m.migrator.Up()
		}
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No migrations to run")
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("migration error: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("migration timeout after %s", m.config.MigrationTimeout)
	}
}

// Rollback rolls back the most recent migration
func (m *Manager) Rollback() error {
	if err := m.init(); err != nil {
		return err
	}
	return m.migrator.Steps(-1)
}

// Reset rolls back every applied migration
func (m *Manager) Reset() error {
	if err := m.init(); err != nil {
		return err
	}
	err := m.migrator.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No migrations to roll back")
		return nil
	}
	return err
}

// Version returns the current schema version
func (m *Manager) Version() (uint, bool, error) {
	if err := m.init(); err != nil {
		return 0, false, err
	}
	return m.migrator.Version()
}

// Force marks the schema at a specific version without running
// anything, to recover from a dirty state.
func (m *Manager) Force(version int) error {
	if err := m.init(); err != nil {
		return err
	}
	return m.migrator.Force(version)
}

// Validate reports an error when the schema sits at a dirty version
func (m *Manager) Validate() error {
	if err := m.init(); err != nil {
		return err
	}

	version, dirty, err := m.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema is dirty at version %d", version)
	}
	return nil
}

// Close releases the migrator's source and database handles
func (m *Manager) Close() error {
	if m.migrator == nil {
		return nil
	}
	sourceErr, dbErr := m.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("source error: %w", sourceErr)
	}
	return dbErr
}
