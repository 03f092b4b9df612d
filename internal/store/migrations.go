package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
)

// migration is one versioned schema step with per-driver DDL.
type migration struct {
	version  string
	sqlite   string
	postgres string
}

// migrations are applied in version order; each runs at most once.
var migrations = []migration{
	{
		version: "0001_init",
		sqlite: `
CREATE TABLE IF NOT EXISTS documents (
	identity TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	page_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	source_path TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS pages (
	identity TEXT NOT NULL,
	page_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	method TEXT NOT NULL,
	byte_size INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	committed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (identity, page_index)
);
CREATE TABLE IF NOT EXISTS checkpoints (
	identity TEXT NOT NULL,
	page_index INTEGER NOT NULL,
	committed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (identity, page_index)
);
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	documents_total INTEGER NOT NULL DEFAULT 0,
	documents_done INTEGER NOT NULL DEFAULT 0,
	documents_skipped INTEGER NOT NULL DEFAULT 0,
	documents_failed INTEGER NOT NULL DEFAULT 0,
	pages_committed INTEGER NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at);
`,
		postgres: `
CREATE TABLE IF NOT EXISTS documents (
	identity TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	page_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	source_path TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS pages (
	identity TEXT NOT NULL,
	page_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	method TEXT NOT NULL,
	byte_size INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	committed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (identity, page_index)
);
CREATE TABLE IF NOT EXISTS checkpoints (
	identity TEXT NOT NULL,
	page_index INTEGER NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (identity, page_index)
);
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	documents_total INTEGER NOT NULL DEFAULT 0,
	documents_done INTEGER NOT NULL DEFAULT 0,
	documents_skipped INTEGER NOT NULL DEFAULT 0,
	documents_failed INTEGER NOT NULL DEFAULT 0,
	pages_committed INTEGER NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at);
`,
	},
}

// Migrate applies all pending migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureSchemaMigrationsTable(ctx); err != nil {
		return domain.StoreUnavailableError("ensure schema_migrations table", err)
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return domain.StoreUnavailableError("read applied migrations", err)
	}

	pending := make([]migration, 0, len(migrations))
	for _, m := range migrations {
		if !applied[m.version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	for _, m := range pending {
		ddl := m.sqlite
		if s.driver == "postgres" {
			ddl = m.postgres
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return domain.StoreUnavailableError(fmt.Sprintf("apply migration %s", m.version), err)
		}
		if err := s.recordVersion(ctx, m.version); err != nil {
			return domain.StoreUnavailableError(fmt.Sprintf("record migration %s", m.version), err)
		}
	}
	return nil
}

func (s *Store) ensureSchemaMigrationsTable(ctx context.Context) error {
	var query string
	switch s.driver {
	case "postgres":
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				id SERIAL PRIMARY KEY,
				version TEXT UNIQUE NOT NULL,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`
	default:
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				version TEXT UNIQUE NOT NULL,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			)
		`
	}
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *Store) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *Store) recordVersion(ctx context.Context, version string) error {
	query := "INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING"
	_, err := s.db.ExecContext(ctx, query, version)
	return err
}
