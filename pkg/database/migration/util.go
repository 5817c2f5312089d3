package migration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CreateMigration scaffolds an empty up/down migration pair in dir,
// numbered after the highest existing version.
func CreateMigration(dir, name string) error {
	if dir == "" {
		return errors.New("migration directory cannot be empty")
	}
	if name == "" {
		return errors.New("migration name cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create migration directory: %w", err)
	}

	version, err := nextVersion(dir)
	if err != nil {
		return fmt.Errorf("failed to determine next migration version: %w", err)
	}

	slug := strings.ToLower(strings.ReplaceAll(name, " ", "_"))
	for _, direction := range []string{"up", "down"} {
		path := filepath.Join(dir, fmt.Sprintf("%03d_%s.%s.sql", version, slug, direction))
		header := fmt.Sprintf("-- %s (%s)\n", name, direction)
		if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
			return fmt.Errorf("failed to create %s migration: %w", direction, err)
		}
		fmt.Printf("created %s\n", path)
	}

	return nil
}

// nextVersion scans dir for NNN_ prefixed files and returns the next
// free number
func nextVersion(dir string) (int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	highest := 0
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		prefix, _, found := strings.Cut(file.Name(), "_")
		if !found {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if version > highest {
			highest = version
		}
	}

	return highest + 1, nil
}
