package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
)

// DocumentRepository handles document record persistence.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Upsert inserts or replaces a document record. Calling it twice with the
// same arguments leaves identical state apart from the updated_at stamp.
func (r *DocumentRepository) Upsert(ctx context.Context, rec *domain.DocumentRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO documents (identity, fingerprint, page_count, status, failure_reason, source_path, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			page_count = excluded.page_count,
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			source_path = excluded.source_path,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.Identity, rec.Fingerprint, rec.PageCount, string(rec.Status),
		rec.FailureReason, rec.SourcePath, rec.UpdatedAt,
	)
	return err
}

// Get retrieves a document record by identity.
func (r *DocumentRepository) Get(ctx context.Context, identity string) (*domain.DocumentRecord, error) {
	query := `
		SELECT identity, fingerprint, page_count, status, failure_reason, source_path, updated_at
		FROM documents WHERE identity = $1
	`
	rec := &domain.DocumentRecord{}
	var status string
	err := r.db.QueryRowContext(ctx, query, identity).Scan(
		&rec.Identity, &rec.Fingerprint, &rec.PageCount, &status,
		&rec.FailureReason, &rec.SourcePath, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Status = domain.DocumentStatus(status)
	return rec, nil
}

// List retrieves all document records ordered by identity.
func (r *DocumentRepository) List(ctx context.Context) ([]*domain.DocumentRecord, error) {
	query := `
		SELECT identity, fingerprint, page_count, status, failure_reason, source_path, updated_at
		FROM documents ORDER BY identity
	`
	return r.scanList(ctx, query)
}

// ListByStatus retrieves document records with the given status.
func (r *DocumentRepository) ListByStatus(ctx context.Context, status domain.DocumentStatus) ([]*domain.DocumentRecord, error) {
	query := `
		SELECT identity, fingerprint, page_count, status, failure_reason, source_path, updated_at
		FROM documents WHERE status = $1 ORDER BY identity
	`
	return r.scanList(ctx, query, string(status))
}

func (r *DocumentRepository) scanList(ctx context.Context, query string, args ...interface{}) ([]*domain.DocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DocumentRecord
	for rows.Next() {
		rec := &domain.DocumentRecord{}
		var status string
		if err := rows.Scan(
			&rec.Identity, &rec.Fingerprint, &rec.PageCount, &status,
			&rec.FailureReason, &rec.SourcePath, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.Status = domain.DocumentStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes a document record.
func (r *DocumentRepository) Delete(ctx context.Context, identity string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE identity = $1", identity)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// PageRepository handles committed page persistence.
type PageRepository struct {
	db DB
}

// NewPageRepository creates a new page repository.
func NewPageRepository(db DB) *PageRepository {
	return &PageRepository{db: db}
}

// upsert writes one page result. Called inside CommitPages transactions so
// a resumed document can overwrite a page left behind by a cleared checkpoint.
func (r *PageRepository) upsert(ctx context.Context, page domain.PageResult) error {
	query := `
		INSERT INTO pages (identity, page_index, text, method, byte_size, duration_ms, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity, page_index) DO UPDATE SET
			text = excluded.text,
			method = excluded.method,
			byte_size = excluded.byte_size,
			duration_ms = excluded.duration_ms,
			committed_at = excluded.committed_at
	`
	_, err := r.db.ExecContext(ctx, query,
		page.Identity, page.PageIndex, page.Text, string(page.Method),
		page.ByteSize, page.Duration.Milliseconds(), time.Now().UTC(),
	)
	return err
}

// Get retrieves a single committed page.
func (r *PageRepository) Get(ctx context.Context, identity string, pageIndex int) (*domain.StoredPage, error) {
	query := `
		SELECT identity, page_index, text, method, byte_size, duration_ms, committed_at
		FROM pages WHERE identity = $1 AND page_index = $2
	`
	page := &domain.StoredPage{}
	var method string
	var durationMS int64
	err := r.db.QueryRowContext(ctx, query, identity, pageIndex).Scan(
		&page.Identity, &page.PageIndex, &page.Text, &method,
		&page.ByteSize, &durationMS, &page.CommittedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	page.Method = domain.ExtractionMethod(method)
	page.Duration = time.Duration(durationMS) * time.Millisecond
	return page, nil
}

// ListByDocument retrieves all committed pages of a document in page order.
func (r *PageRepository) ListByDocument(ctx context.Context, identity string) ([]*domain.StoredPage, error) {
	query := `
		SELECT identity, page_index, text, method, byte_size, duration_ms, committed_at
		FROM pages WHERE identity = $1 ORDER BY page_index
	`
	return r.scanList(ctx, query, identity)
}

// CountByDocument counts the committed pages of a document.
func (r *PageRepository) CountByDocument(ctx context.Context, identity string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pages WHERE identity = $1", identity).Scan(&count)
	return count, err
}

// Search finds committed pages whose text contains the query, case-insensitive.
func (r *PageRepository) Search(ctx context.Context, text string, limit int) ([]*domain.StoredPage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT identity, page_index, text, method, byte_size, duration_ms, committed_at
		FROM pages
		WHERE LOWER(text) LIKE '%' || LOWER($1) || '%'
		ORDER BY identity, page_index
		LIMIT $2
	`
	return r.scanList(ctx, query, text, limit)
}

// DeleteByDocument removes all committed pages of a document.
func (r *PageRepository) DeleteByDocument(ctx context.Context, identity string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM pages WHERE identity = $1", identity)
	return err
}

func (r *PageRepository) scanList(ctx context.Context, query string, args ...interface{}) ([]*domain.StoredPage, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*domain.StoredPage
	for rows.Next() {
		page := &domain.StoredPage{}
		var method string
		var durationMS int64
		if err := rows.Scan(
			&page.Identity, &page.PageIndex, &page.Text, &method,
			&page.ByteSize, &durationMS, &page.CommittedAt,
		); err != nil {
			return nil, err
		}
		page.Method = domain.ExtractionMethod(method)
		page.Duration = time.Duration(durationMS) * time.Millisecond
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

// CheckpointRepository handles per-page checkpoint persistence.
type CheckpointRepository struct {
	db DB
}

// NewCheckpointRepository creates a new checkpoint repository.
func NewCheckpointRepository(db DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Pages retrieves the committed page indices of a document.
func (r *CheckpointRepository) Pages(ctx context.Context, identity string) ([]int, error) {
	query := "SELECT page_index FROM checkpoints WHERE identity = $1 ORDER BY page_index"
	rows, err := r.db.QueryContext(ctx, query, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indices []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}
	return indices, rows.Err()
}

// Append marks page indices committed. Re-appending an existing index is a
// no-op, which keeps the operation idempotent.
func (r *CheckpointRepository) Append(ctx context.Context, identity string, pages []int) error {
	query := `
		INSERT INTO checkpoints (identity, page_index, committed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity, page_index) DO NOTHING
	`
	now := time.Now().UTC()
	for _, idx := range pages {
		if _, err := r.db.ExecContext(ctx, query, identity, idx, now); err != nil {
			return err
		}
	}
	return nil
}

// Count counts the committed page indices of a document.
func (r *CheckpointRepository) Count(ctx context.Context, identity string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM checkpoints WHERE identity = $1", identity).Scan(&count)
	return count, err
}

// Clear drops all checkpoint rows of a document.
func (r *CheckpointRepository) Clear(ctx context.Context, identity string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE identity = $1", identity)
	return err
}

// RunRepository handles run history persistence.
type RunRepository struct {
	db DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create appends a run record.
func (r *RunRepository) Create(ctx context.Context, rec *domain.RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query := `
		INSERT INTO runs (id, started_at, finished_at, documents_total, documents_done,
			documents_skipped, documents_failed, pages_committed, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.StartedAt, rec.FinishedAt, rec.DocumentsTotal, rec.DocumentsDone,
		rec.DocumentsSkipped, rec.DocumentsFailed, rec.PagesCommitted, rec.Summary,
	)
	return err
}

// List retrieves the most recent runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, started_at, finished_at, documents_total, documents_done,
			documents_skipped, documents_failed, pages_committed, summary
		FROM runs ORDER BY started_at DESC LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.RunRecord
	for rows.Next() {
		rec := &domain.RunRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.StartedAt, &rec.FinishedAt, &rec.DocumentsTotal, &rec.DocumentsDone,
			&rec.DocumentsSkipped, &rec.DocumentsFailed, &rec.PagesCommitted, &rec.Summary,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
