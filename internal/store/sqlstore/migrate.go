package sqlstore

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// Migrate applies every migration under migrations/ in the dialect's FS
// that has not been applied yet, in file name order.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) NOT NULL PRIMARY KEY
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	files, err := fs.Glob(s.dialect.Migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}

	for _, file := range files {
		version := strings.TrimSuffix(path.Base(file), ".sql")

		var applied int
		if err := s.db.GetContext(ctx, &applied,
			s.db.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), version); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		data, err := fs.ReadFile(s.dialect.Migrations, file)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}
		for _, stmt := range statements(string(data)) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying migration %s: %w", version, err)
			}
		}
		if _, err := s.db.ExecContext(ctx,
			s.db.Rebind(`INSERT INTO schema_migrations (version) VALUES (?)`), version); err != nil {
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		s.log.InfoContext(ctx, "migration applied", "version", version)
	}
	return nil
}

// statements splits a migration file on semicolons. Migrations must not
// contain semicolons inside literals.
func statements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
