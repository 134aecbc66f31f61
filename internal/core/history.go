package core

import (
	"context"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/zeebo/xxh3"
)

// ImportHistoryEntry records one finished import.
type ImportHistoryEntry struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	Fingerprint string    `json:"fingerprint"` // xxh3 of the raw upload
	UserID      string    `json:"userId"`
	Created     int       `json:"created"`
	Skipped     int       `json:"skipped"`
	Errored     int       `json:"errored"`
	Outcome     string    `json:"outcome"` // success, failure, cancelled
	Message     string    `json:"message,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	Duration    int64     `json:"durationMs"`
}

// fingerprintReader hashes everything read through it.
type fingerprintReader struct {
	r io.Reader
	h hash.Hash64
}

func newFingerprintReader(r io.Reader) *fingerprintReader {
	return &fingerprintReader{r: r, h: xxh3.New()}
}

func (f *fingerprintReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if n > 0 {
		f.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the hex digest of the bytes read so far.
func (f *fingerprintReader) Sum() string {
	return fmt.Sprintf("%016x", f.h.Sum64())
}

// ImportHistory returns recent imports, newest first.
func (s *Service) ImportHistory(ctx context.Context, limit int) ([]ImportHistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.ListImportHistory(ctx, limit)
}

func (s *Service) recordHistory(ctx context.Context, h ImportHistoryEntry) {
	if err := s.store.InsertImportHistory(ctx, h); err != nil {
		s.log(ctx).Warn("import history write failed", "import_id", h.ID, "error", err)
	}
}
