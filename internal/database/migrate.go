package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// migrationLockID is a unique identifier for the advisory lock that prevents
// concurrent migrations from multiple instances
const migrationLockID = 4158223917

// Migrate runs all pending database migrations from the specified directory
func (db *DB) Migrate(ctx context.Context, migrationsDir string) error {
	// Blocks until the lock is available
	_, err := db.Pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer db.Pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	_, err = db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	rows, err := db.Pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	// Only numbered migrations like 00001_xxx.sql
	var migrations []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(name, ".sql") && len(name) >= 5 && name[0] >= '0' && name[0] <= '9' {
			migrations = append(migrations, name)
		}
	}
	sort.Strings(migrations)

	appliedCount := 0
	for _, filename := range migrations {
		if applied[filename] {
			continue
		}

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		// Each migration runs in its own transaction
		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", filename, err)
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", filename); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", filename, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", filename, err)
		}

		appliedCount++
		fmt.Printf("Applied migration: %s\n", filename)
	}

	if appliedCount == 0 {
		fmt.Println("No new migrations to apply")
	} else {
		fmt.Printf("Applied %d migration(s)\n", appliedCount)
	}

	return nil
}
