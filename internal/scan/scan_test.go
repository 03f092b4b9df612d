package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
)

func newTestScanner(pages map[string]int, fail map[string]error) *Scanner {
	s := NewScanner(observability.Nop())
	s.preflight = func(path string) (int, error) {
		name := filepath.Base(path)
		if err := fail[name]; err != nil {
			return 0, err
		}
		return pages[name], nil
	}
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanDiscoversPDFs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "alpha.pdf", "alpha content")
	writeFile(t, dir, "Beta.PDF", "beta content")
	writeFile(t, dir, "notes.txt", "not a pdf")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.pdf"), 0o755))
	writeFile(t, filepath.Join(dir, "nested.pdf"), "inner.pdf", "never seen")

	s := newTestScanner(map[string]int{"alpha.pdf": 3, "Beta.PDF": 7}, nil)
	res, err := s.Scan(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, res.Documents, 2)
	assert.Empty(t, res.Rejected)

	beta, alpha := res.Documents[0], res.Documents[1]
	assert.Equal(t, "Beta", beta.Identity)
	assert.Equal(t, "alpha", alpha.Identity)
	assert.Equal(t, 7, beta.PageCount)
	assert.Equal(t, 3, alpha.PageCount)
	assert.Equal(t, filepath.Join(dir, "alpha.pdf"), alpha.Path)
	assert.Equal(t, int64(len("alpha content")), alpha.SizeBytes)

	sum := sha256.Sum256([]byte("alpha content"))
	assert.Equal(t, hex.EncodeToString(sum[:]), alpha.Fingerprint)
}

func TestScanFingerprintTracksContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", "version one")
	writeFile(t, dir, "b.pdf", "version one")
	writeFile(t, dir, "c.pdf", "version two")

	s := newTestScanner(map[string]int{"a.pdf": 1, "b.pdf": 1, "c.pdf": 1}, nil)
	res, err := s.Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, res.Documents, 3)

	a, b, c := res.Documents[0], res.Documents[1], res.Documents[2]
	assert.Equal(t, a.Fingerprint, b.Fingerprint, "identical bytes hash identically")
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)

	// Rewriting a file's bytes changes its fingerprint but not its identity.
	writeFile(t, dir, "a.pdf", "version three")
	res2, err := s.Scan(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, a.Identity, res2.Documents[0].Identity)
	assert.NotEqual(t, a.Fingerprint, res2.Documents[0].Fingerprint)
}

func TestScanRejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.pdf", "fine")
	writeFile(t, dir, "bad.pdf", "garbage")

	s := newTestScanner(
		map[string]int{"good.pdf": 2},
		map[string]error{"bad.pdf": errors.New("xref table missing")},
	)
	res, err := s.Scan(context.Background(), dir)
	require.NoError(t, err, "a corrupt file must not abort the scan")

	require.Len(t, res.Documents, 1)
	assert.Equal(t, "good", res.Documents[0].Identity)

	require.Len(t, res.Rejected, 1)
	rej := res.Rejected[0]
	assert.Equal(t, "bad", rej.Identity)
	assert.True(t, domain.IsValidation(rej.Err))
	assert.ErrorContains(t, rej.Err, "xref table missing")
	assert.NotEmpty(t, rej.Fingerprint, "hashing succeeded before preflight failed")
}

func TestScanRejectsDuplicateIdentity(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "report.PDF", "upper")
	writeFile(t, dir, "report.pdf", "lower")

	s := newTestScanner(map[string]int{"report.PDF": 1, "report.pdf": 1}, nil)
	res, err := s.Scan(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, res.Documents, 1)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "report", res.Rejected[0].Identity)
	assert.True(t, domain.IsValidation(res.Rejected[0].Err))
	assert.ErrorContains(t, res.Rejected[0].Err, "already claimed")
}

func TestScanMissingDirectory(t *testing.T) {
	s := newTestScanner(nil, nil)
	_, err := s.Scan(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.True(t, domain.IsConfiguration(err))
}

func TestScanEmptyDirectory(t *testing.T) {
	s := newTestScanner(nil, nil)
	res, err := s.Scan(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
	assert.Empty(t, res.Rejected)
}

func TestScanCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", "content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScanner(map[string]int{"a.pdf": 1}, nil)
	_, err := s.Scan(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}
