package ingest

import (
	"context"
	"time"
)

// DocumentWriter appends a summary document and returns its ID.
type DocumentWriter interface {
	WriteSummary(ctx context.Context, doc SummaryDocument) (string, error)
}

// DocumentLister returns the most recent documents, newest first.
type DocumentLister interface {
	ListLatest(ctx context.Context, limit int) ([]SummaryListItem, error)
}

// WriterFunc adapts a function to DocumentWriter.
type WriterFunc func(ctx context.Context, doc SummaryDocument) (string, error)

// WriteSummary implements DocumentWriter.
func (f WriterFunc) WriteSummary(ctx context.Context, doc SummaryDocument) (string, error) {
	return f(ctx, doc)
}

// ListerFunc adapts a function to DocumentLister.
type ListerFunc func(ctx context.Context, limit int) ([]SummaryListItem, error)

// ListLatest implements DocumentLister.
func (f ListerFunc) ListLatest(ctx context.Context, limit int) ([]SummaryListItem, error) {
	return f(ctx, limit)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces document IDs.
type IDGenerator interface {
	NewID() (string, error)
}
