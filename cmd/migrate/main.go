package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/contentmesh/embedcache/internal/config"
	"github.com/contentmesh/embedcache/pkg/database/migration"

	_ "github.com/lib/pq"
)

var (
	// Command flags
	createFlag   = flag.Bool("create", false, "Create a new migration")
	upFlag       = flag.Bool("up", false, "Apply pending migrations")
	downFlag     = flag.Bool("down", false, "Roll back the last migration")
	resetFlag    = flag.Bool("reset", false, "Roll back all migrations")
	versionFlag  = flag.Bool("version", false, "Show current migration version")
	validateFlag = flag.Bool("validate", false, "Check that the schema is not dirty")
	forceFlag    = flag.Int("force", -1, "Force migration version")

	// Global flags
	dsn           = flag.String("dsn", "", "Database connection string (defaults to the configured database)")
	migrationsDir = flag.String("dir", migration.DefaultMigrationsPath, "Migrations directory")
	migrationName = flag.String("name", "", "Migration name (used with -create)")
	steps         = flag.Int("steps", 0, "Number of migrations to apply (0 = all)")
	timeout       = flag.Duration("timeout", 1*time.Minute, "Migration timeout")
)

func main() {
	flag.Parse()

	if *createFlag && *migrationName == "" {
		fmt.Println("Error: -name is required when using -create")
		flag.Usage()
		os.Exit(1)
	}

	// Creating migration files does not need a database connection
	if *createFlag {
		if err := migration.CreateMigration(*migrationsDir, *migrationName); err != nil {
			log.Fatalf("Failed to create migration: %v", err)
		}
		return
	}

	_ = godotenv.Load()

	// Fall back to the configured vector index database when no DSN is given
	connStr := *dsn
	if connStr == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		connStr = cfg.Database.DSN()
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	sqlxDB := sqlx.NewDb(db, "postgres")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Received termination signal, canceling operations...")
		cancel()
	}()

	manager, err := migration.NewManager(sqlxDB, migration.Config{
		MigrationsPath:   *migrationsDir,
		MigrationTimeout: *timeout,
		Steps:            *steps,
	})
	if err != nil {
		log.Fatalf("Failed to create migration manager: %v", err)
	}
	defer manager.Close()

	if *versionFlag {
		version, dirty, err := manager.Version()
		if err != nil {
			log.Fatalf("Failed to get migration version: %v", err)
		}
		fmt.Printf("Current migration version: %d (dirty: %t)\n", version, dirty)
		return
	}

	if *validateFlag {
		if err := manager.Validate(); err != nil {
			log.Fatalf("Schema validation failed: %v", err)
		}
		fmt.Println("Schema is clean")
		return
	}

	if *forceFlag >= 0 {
		fmt.Printf("Forcing migration version to %d...\n", *forceFlag)
		if err := manager.Force(*forceFlag); err != nil {
			log.Fatalf("Failed to force version: %v", err)
		}
		fmt.Printf("Migration version forced to %d\n", *forceFlag)
		return
	}

	if *upFlag {
		fmt.Println("Running migrations...")
		startTime := time.Now()
		if err := manager.Up(ctx); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Printf("Migrations completed in %s\n", time.Since(startTime))
		return
	}

	if *downFlag {
		fmt.Println("Rolling back last migration...")
		if err := manager.Rollback(); err != nil {
			log.Fatalf("Failed to roll back migration: %v", err)
		}
		fmt.Println("Rollback completed")
		return
	}

	if *resetFlag {
		fmt.Println("Rolling back all migrations...")
		if err := manager.Reset(); err != nil {
			log.Fatalf("Failed to reset migrations: %v", err)
		}
		fmt.Println("All migrations have been rolled back")
		return
	}

	// If no command is specified, show usage
	flag.Usage()
}
