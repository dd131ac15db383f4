// Package memory stores summary documents in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/summary-ingestor/internal/clock/system"
	"github.com/JakeFAU/summary-ingestor/internal/id/uuid"
	"github.com/JakeFAU/summary-ingestor/internal/ingest"
)

type entry struct {
	id  string
	seq int
	doc ingest.SummaryDocument
}

// SummaryStore is an append-only document store guarded by a RWMutex.
type SummaryStore struct {
	mu      sync.RWMutex
	entries []entry
	ids     ingest.IDGenerator
	clock   ingest.Clock
}

// NewSummaryStore constructs a SummaryStore. Nil collaborators fall back to
// UUID7 IDs and the system clock.
func NewSummaryStore(ids ingest.IDGenerator, clock ingest.Clock) *SummaryStore {
	if ids == nil {
		ids = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	return &SummaryStore{ids: ids, clock: clock}
}

// WriteSummary stamps FetchedAt and appends the document.
func (s *SummaryStore) WriteSummary(_ context.Context, doc ingest.SummaryDocument) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate document id: %w", err)
	}
	doc.FetchedAt = s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{id: id, seq: len(s.entries), doc: doc})
	return id, nil
}

// ListLatest returns up to limit documents, newest first. Documents with
// equal timestamps are ordered by most recent write.
func (s *SummaryStore) ListLatest(_ context.Context, limit int) ([]ingest.SummaryListItem, error) {
	if limit <= 0 {
		return []ingest.SummaryListItem{}, nil
	}
	s.mu.RLock()
	sorted := make([]entry, len(s.entries))
	copy(sorted, s.entries)
	s.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.doc.FetchedAt.Equal(b.doc.FetchedAt) {
			return a.doc.FetchedAt.After(b.doc.FetchedAt)
		}
		return a.seq > b.seq
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]ingest.SummaryListItem, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, ingest.ToListItem(e.id, e.doc))
	}
	return out, nil
}

// Get returns a stored document by ID.
func (s *SummaryStore) Get(id string) (ingest.SummaryDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.id == id {
			return e.doc, true
		}
	}
	return ingest.SummaryDocument{}, false
}

// Len reports the number of stored documents.
func (s *SummaryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
