// Package store provides the relational backing store for extracted pages,
// document records, checkpoints, and run history.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mmumbaiwala/PageFinder/internal/config"
	"github.com/mmumbaiwala/PageFinder/internal/domain"
)

// ErrNotFound indicates a missing record.
var ErrNotFound = errors.New("record not found")

// DB represents a database connection interface. Both *sql.DB and *sql.Tx
// satisfy it, so repositories run inside or outside transactions.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store owns the database handle and bundles the repositories.
type Store struct {
	db     *sql.DB
	driver string

	Documents   *DocumentRepository
	Pages       *PageRepository
	Checkpoints *CheckpointRepository
	Runs        *RunRepository
}

// Open connects to the configured database, applies sizing pragmas, and runs
// pending migrations. Connection failure is reported as store unavailability.
func Open(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "sqlite":
		dsn := fmt.Sprintf("file:%s?_journal_mode=%s&_busy_timeout=5000", cfg.SQLite.Path, cfg.SQLite.JournalMode)
		db, err = sql.Open("sqlite3", dsn)
		if err == nil {
			maxConns := cfg.SQLite.MaxOpenConns
			if maxConns <= 0 {
				maxConns = 1
			}
			db.SetMaxOpenConns(maxConns)
		}
	case "postgres":
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err == nil {
			db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
			db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
			db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		}
	default:
		return nil, domain.ConfigurationError(fmt.Sprintf("unknown storage driver: %s", cfg.Driver), nil)
	}
	if err != nil {
		return nil, domain.StoreUnavailableError("open database", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, domain.StoreUnavailableError("ping database", err)
	}

	s := &Store{db: db, driver: cfg.Driver}
	if cfg.Driver == "sqlite" {
		if err := s.applyMaxSize(ctx, cfg.MaxSizeMB); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.Documents = NewDocumentRepository(db)
	s.Pages = NewPageRepository(db)
	s.Checkpoints = NewCheckpointRepository(db)
	s.Runs = NewRunRepository(db)
	return s, nil
}

// applyMaxSize caps the SQLite database file at roughly maxSizeMB.
func (s *Store) applyMaxSize(ctx context.Context, maxSizeMB int) error {
	if maxSizeMB <= 0 {
		return nil
	}
	var pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return domain.StoreUnavailableError("read page_size", err)
	}
	if pageSize <= 0 {
		pageSize = 4096
	}
	maxPages := int64(maxSizeMB) * 1024 * 1024 / pageSize
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA max_page_count = %d", maxPages)); err != nil {
		return domain.StoreUnavailableError("set max_page_count", err)
	}
	return nil
}

// CommitPages writes a batch of page results in a single all-or-nothing
// transaction. Error-marked results must be filtered out by the caller;
// only extracted text is durable.
func (s *Store) CommitPages(ctx context.Context, identity string, pages []domain.PageResult) error {
	if len(pages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageTransactionError("begin transaction", err)
	}

	repo := NewPageRepository(tx)
	for _, page := range pages {
		if page.Failed() {
			_ = tx.Rollback()
			return domain.StorageTransactionError(
				fmt.Sprintf("refusing to commit error-marked page %d of %s", page.PageIndex, identity), nil)
		}
		if err := repo.upsert(ctx, page); err != nil {
			_ = tx.Rollback()
			return domain.StorageTransactionError(
				fmt.Sprintf("write page %d of %s", page.PageIndex, identity), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.StorageTransactionError("commit transaction", err)
	}
	return nil
}

// Driver returns the active database driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Handle exposes the raw database handle for migrations and tests.
func (s *Store) Handle() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
