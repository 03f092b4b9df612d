// Package api exposes the read-only status HTTP endpoints used to
// observe the store while long runs are in flight.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
	"github.com/mmumbaiwala/PageFinder/internal/store"
)

// DocumentSource lists and resolves document records.
type DocumentSource interface {
	List(ctx context.Context) ([]*domain.DocumentRecord, error)
	ListByStatus(ctx context.Context, status domain.DocumentStatus) ([]*domain.DocumentRecord, error)
	Get(ctx context.Context, identity string) (*domain.DocumentRecord, error)
}

// PageSource reads committed pages.
type PageSource interface {
	ListByDocument(ctx context.Context, identity string) ([]*domain.StoredPage, error)
	CountByDocument(ctx context.Context, identity string) (int, error)
}

// CheckpointSource reads committed page indices.
type CheckpointSource interface {
	Pages(ctx context.Context, identity string) ([]int, error)
}

// RunSource lists run audit records.
type RunSource interface {
	List(ctx context.Context, limit int) ([]*domain.RunRecord, error)
}

// Handler serves the status API routes.
type Handler struct {
	docs   DocumentSource
	pages  PageSource
	checks CheckpointSource
	runs   RunSource
	log    *observability.Logger
}

// NewHandler creates a status API handler over the given store views.
func NewHandler(docs DocumentSource, pages PageSource, checks CheckpointSource, runs RunSource, log *observability.Logger) *Handler {
	return &Handler{
		docs:   docs,
		pages:  pages,
		checks: checks,
		runs:   runs,
		log:    log.WithComponent("api"),
	}
}

// Router builds the chi router with all status routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"pagefinder"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/documents", h.ListDocuments)
		r.Get("/documents/{identity}", h.GetDocument)
		r.Get("/runs", h.ListRuns)
	})

	return r
}

// DocumentDTO is the API shape of a document record.
type DocumentDTO struct {
	Identity       string `json:"identity"`
	Status         string `json:"status"`
	Pages          int    `json:"pages"`
	PagesCommitted int    `json:"pagesCommitted"`
	FailureReason  string `json:"failureReason,omitempty"`
	Fingerprint    string `json:"fingerprint"`
	SourcePath     string `json:"sourcePath"`
	UpdatedAt      string `json:"updatedAt"`
}

// DocumentListDTO is the response for the document list route.
type DocumentListDTO struct {
	Documents []DocumentDTO `json:"documents"`
	Count     int           `json:"count"`
}

// PageDTO is the API shape of a committed page. Text is deliberately
// omitted; the search and export surfaces carry page content.
type PageDTO struct {
	PageIndex   int    `json:"pageIndex"`
	Method      string `json:"method"`
	ByteSize    int    `json:"byteSize"`
	CommittedAt string `json:"committedAt"`
}

// DocumentDetailDTO is the response for the single-document route.
type DocumentDetailDTO struct {
	Document          DocumentDTO `json:"document"`
	CheckpointedPages int         `json:"checkpointedPages"`
	Pages             []PageDTO   `json:"pages"`
}

// RunDTO is the API shape of a run audit record.
type RunDTO struct {
	ID               string `json:"id"`
	StartedAt        string `json:"startedAt"`
	FinishedAt       string `json:"finishedAt"`
	DocumentsTotal   int    `json:"documentsTotal"`
	DocumentsDone    int    `json:"documentsDone"`
	DocumentsSkipped int    `json:"documentsSkipped"`
	DocumentsFailed  int    `json:"documentsFailed"`
	PagesCommitted   int    `json:"pagesCommitted"`
	Summary          string `json:"summary"`
}

// RunListDTO is the response for the run list route.
type RunListDTO struct {
	Runs  []RunDTO `json:"runs"`
	Count int      `json:"count"`
}

var validStatuses = map[domain.DocumentStatus]bool{
	domain.StatusPending:    true,
	domain.StatusInProgress: true,
	domain.StatusCompleted:  true,
	domain.StatusFailed:     true,
}

// ListDocuments handles GET /api/v1/documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		records []*domain.DocumentRecord
		err     error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.DocumentStatus(raw)
		if !validStatuses[status] {
			h.writeError(w, http.StatusBadRequest, "invalid status",
				"must be one of: pending, in_progress, completed, failed")
			return
		}
		records, err = h.docs.ListByStatus(ctx, status)
	} else {
		records, err = h.docs.List(ctx)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("document list failed")
		h.writeError(w, http.StatusInternalServerError, "document list failed", err.Error())
		return
	}

	resp := DocumentListDTO{Documents: make([]DocumentDTO, 0, len(records))}
	for _, rec := range records {
		committed, err := h.pages.CountByDocument(ctx, rec.Identity)
		if err != nil {
			h.log.Error().Err(err).Msg("page count failed")
			h.writeError(w, http.StatusInternalServerError, "page count failed", err.Error())
			return
		}
		resp.Documents = append(resp.Documents, documentDTO(rec, committed))
	}
	resp.Count = len(resp.Documents)

	h.writeJSON(w, http.StatusOK, resp)
}

// GetDocument handles GET /api/v1/documents/{identity}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := chi.URLParam(r, "identity")

	rec, err := h.docs.Get(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "document not found", identity)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("document lookup failed")
		h.writeError(w, http.StatusInternalServerError, "document lookup failed", err.Error())
		return
	}

	indices, err := h.checks.Pages(ctx, identity)
	if err != nil {
		h.log.Error().Err(err).Msg("checkpoint lookup failed")
		h.writeError(w, http.StatusInternalServerError, "checkpoint lookup failed", err.Error())
		return
	}

	pages, err := h.pages.ListByDocument(ctx, identity)
	if err != nil {
		h.log.Error().Err(err).Msg("page list failed")
		h.writeError(w, http.StatusInternalServerError, "page list failed", err.Error())
		return
	}

	resp := DocumentDetailDTO{
		Document:          documentDTO(rec, len(pages)),
		CheckpointedPages: len(indices),
		Pages:             make([]PageDTO, 0, len(pages)),
	}
	for _, p := range pages {
		resp.Pages = append(resp.Pages, PageDTO{
			PageIndex:   p.PageIndex,
			Method:      string(p.Method),
			ByteSize:    p.ByteSize,
			CommittedAt: p.CommittedAt.UTC().Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ListRuns handles GET /api/v1/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid limit", "must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.runs.List(ctx, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("run list failed")
		h.writeError(w, http.StatusInternalServerError, "run list failed", err.Error())
		return
	}

	resp := RunListDTO{Runs: make([]RunDTO, 0, len(records))}
	for _, rec := range records {
		resp.Runs = append(resp.Runs, RunDTO{
			ID:               rec.ID,
			StartedAt:        rec.StartedAt.UTC().Format(time.RFC3339),
			FinishedAt:       rec.FinishedAt.UTC().Format(time.RFC3339),
			DocumentsTotal:   rec.DocumentsTotal,
			DocumentsDone:    rec.DocumentsDone,
			DocumentsSkipped: rec.DocumentsSkipped,
			DocumentsFailed:  rec.DocumentsFailed,
			PagesCommitted:   rec.PagesCommitted,
			Summary:          rec.Summary,
		})
	}
	resp.Count = len(resp.Runs)

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

func documentDTO(rec *domain.DocumentRecord, committed int) DocumentDTO {
	return DocumentDTO{
		Identity:       rec.Identity,
		Status:         string(rec.Status),
		Pages:          rec.PageCount,
		PagesCommitted: committed,
		FailureReason:  rec.FailureReason,
		Fingerprint:    rec.Fingerprint,
		SourcePath:     rec.SourcePath,
		UpdatedAt:      rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{"error": message}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}
