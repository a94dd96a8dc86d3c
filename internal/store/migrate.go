package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	migrationTable   = "schema_migrations"
	migrationLockKey = int64(0x62696e676f)
)

// Migrate applies each embedded migration at most once.
func (s *Store) Migrate(ctx context.Context) error {
	if s.driver == DriverPostgres {
		if _, err := s.db.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
		}()
	}

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
);
`, migrationTable)
	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		if err := s.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, file string) error {
	content, err := fs.ReadFile(migrationFS, "migrations/"+file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	q := s.Read()
	var found int
	err = q.queryRow(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = ?", file).Scan(&found)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check migration %s: %w", file, err)
	}

	upSQL := extractUp(string(content))
	if strings.TrimSpace(upSQL) == "" {
		return nil
	}

	return s.WithTx(ctx, func(q *Queries) error {
		if _, err := q.q.ExecContext(ctx, upSQL); err != nil {
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		_, err := q.exec(ctx,
			"INSERT INTO "+migrationTable+" (name, applied_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING",
			file, time.Now().UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		s.logger.Info("Applied migration", "name", file)
		return nil
	})
}

// extractUp returns the SQL in the -- +migrate Up section.
func extractUp(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}
