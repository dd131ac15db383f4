// Package blob stores summary documents as JSON objects in a bucket-like
// object store. Object names embed an inverted timestamp so a lexicographic
// listing yields the newest documents first.
package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/summary-ingestor/internal/clock/system"
	"github.com/JakeFAU/summary-ingestor/internal/id/uuid"
	"github.com/JakeFAU/summary-ingestor/internal/ingest"
)

const (
	defaultPrefix = "summaries"
	objectSuffix  = ".json"
	// Width of math.MaxInt64 in decimal.
	tsWidth = 19
)

// ObjectStore is the subset of object storage the summary store needs.
// ListObjects returns up to limit names under prefix in lexicographic order.
type ObjectStore interface {
	PutObject(ctx context.Context, name, contentType string, data []byte) error
	ListObjects(ctx context.Context, prefix string, limit int) ([]string, error)
	GetObject(ctx context.Context, name string) ([]byte, error)
}

// SummaryStore writes one object per summary document.
type SummaryStore struct {
	objects ObjectStore
	prefix  string
	ids     ingest.IDGenerator
	clock   ingest.Clock
}

// NewSummaryStore creates a SummaryStore rooted at prefix.
func NewSummaryStore(objects ObjectStore, prefix string, ids ingest.IDGenerator, clock ingest.Clock) (*SummaryStore, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ids == nil {
		ids = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	return &SummaryStore{objects: objects, prefix: prefix, ids: ids, clock: clock}, nil
}

// WriteSummary stamps FetchedAt and uploads the document as JSON.
func (s *SummaryStore) WriteSummary(ctx context.Context, doc ingest.SummaryDocument) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate document id: %w", err)
	}
	doc.FetchedAt = s.clock.Now()
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal summary document: %w", err)
	}
	if err := s.objects.PutObject(ctx, s.objectName(id, doc.FetchedAt), "application/json", data); err != nil {
		return "", ingest.WrapError(http.StatusServiceUnavailable, ingest.ErrStorageWrite,
			"Storage write failed: "+err.Error(), err)
	}
	return id, nil
}

// ListLatest returns up to limit documents, newest first.
func (s *SummaryStore) ListLatest(ctx context.Context, limit int) ([]ingest.SummaryListItem, error) {
	if limit <= 0 {
		return []ingest.SummaryListItem{}, nil
	}
	names, err := s.objects.ListObjects(ctx, s.prefix+"/", limit)
	if err != nil {
		return nil, queryError(err)
	}
	items := make([]ingest.SummaryListItem, 0, len(names))
	for _, name := range names {
		id, ok := ParseObjectName(name)
		if !ok {
			continue
		}
		data, err := s.objects.GetObject(ctx, name)
		if err != nil {
			return nil, queryError(err)
		}
		var doc ingest.SummaryDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, queryError(fmt.Errorf("object %s: %w", name, err))
		}
		items = append(items, ingest.ToListItem(id, doc))
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

func (s *SummaryStore) objectName(id string, at time.Time) string {
	return path.Join(s.prefix, fmt.Sprintf("%0*d-%s%s", tsWidth, invertedNanos(at), id, objectSuffix))
}

func invertedNanos(t time.Time) int64 {
	return math.MaxInt64 - t.UnixNano()
}

// ParseObjectName extracts the document ID from an object name written by
// SummaryStore.
func ParseObjectName(name string) (string, bool) {
	base := path.Base(name)
	if !strings.HasSuffix(base, objectSuffix) || len(base) <= tsWidth+1 || base[tsWidth] != '-' {
		return "", false
	}
	id := strings.TrimSuffix(base[tsWidth+1:], objectSuffix)
	if id == "" {
		return "", false
	}
	return id, true
}

func queryError(err error) error {
	return ingest.WrapError(http.StatusServiceUnavailable, ingest.ErrStorageQuery,
		"Storage query failed: "+err.Error(), err)
}
