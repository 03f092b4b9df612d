// Package scan discovers PDF documents in the input directory and computes
// their content fingerprints.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
)

// Scanner finds *.pdf files one level deep and preflights each with pdfcpu.
// A file that fails preflight is rejected on its own; the scan carries on.
type Scanner struct {
	log       *observability.Logger
	preflight func(path string) (int, error)
}

// NewScanner creates a directory scanner.
func NewScanner(log *observability.Logger) *Scanner {
	return &Scanner{
		log:       log.WithComponent("scan"),
		preflight: pdfcpuPreflight,
	}
}

// Rejection is a discovered file the engine refuses to process.
type Rejection struct {
	Identity string
	Path     string
	// Fingerprint is set when hashing succeeded before the rejection.
	Fingerprint string
	Err         error
}

// Result is one directory scan.
type Result struct {
	Documents []domain.Document
	Rejected  []Rejection
}

// Scan discovers the PDF files directly under dir, in name order. Identity
// is the file stem, so it stays stable across runs and content changes.
func (s *Scanner) Scan(ctx context.Context, dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, domain.ConfigurationError(fmt.Sprintf("read input directory %s", dir), err)
	}

	res := &Result{}
	seen := make(map[string]string)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		identity := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))

		if prev, dup := seen[identity]; dup {
			s.reject(res, Rejection{
				Identity: identity,
				Path:     path,
				Err:      domain.ValidationError(fmt.Sprintf("identity %q already claimed by %s", identity, prev), nil),
			})
			continue
		}
		seen[identity] = path

		doc, err := s.inspect(path, identity)
		if err != nil {
			s.reject(res, Rejection{
				Identity:    identity,
				Path:        path,
				Fingerprint: doc.Fingerprint,
				Err:         err,
			})
			continue
		}
		s.log.Debug().
			Str("document", identity).
			Int("pages", doc.PageCount).
			Int64("size_bytes", doc.SizeBytes).
			Msg("document discovered")
		res.Documents = append(res.Documents, doc)
	}

	s.log.Info().
		Str("dir", dir).
		Int("documents", len(res.Documents)).
		Int("rejected", len(res.Rejected)).
		Msg("scan complete")
	return res, nil
}

func (s *Scanner) reject(res *Result, r Rejection) {
	s.log.Warn().Str("path", r.Path).Err(r.Err).Msg("document rejected")
	res.Rejected = append(res.Rejected, r)
}

func (s *Scanner) inspect(path, identity string) (domain.Document, error) {
	doc := domain.Document{Identity: identity, Path: path}

	info, err := os.Stat(path)
	if err != nil {
		return doc, domain.ValidationError(fmt.Sprintf("stat %s", path), err)
	}
	doc.SizeBytes = info.Size()

	doc.Fingerprint, err = Fingerprint(path)
	if err != nil {
		return doc, domain.ValidationError(fmt.Sprintf("fingerprint %s", path), err)
	}

	pages, err := s.preflight(path)
	if err != nil {
		return doc, domain.ValidationError(fmt.Sprintf("preflight %s", path), err)
	}
	doc.PageCount = pages
	return doc, nil
}

// Fingerprint hashes a file's raw bytes to a hex SHA-256 digest.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func pdfcpuPreflight(path string) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, cfg); err != nil {
		return 0, fmt.Errorf("validate pdf: %w", err)
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	return pages, nil
}
