// Package ingest implements the summary ingestion pipeline: host guarding,
// bounded fetching, HTML text extraction and the two runners that produce
// ingest results.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// Limits applied by the runners and the fetcher.
const (
	MaxURLLength     = 2048
	MaxResponseBytes = 2 * 1024 * 1024
	MaxTextChars     = 40000
	FetchTimeout     = 15 * time.Second
)

// Media types accepted from upstream servers.
const (
	ContentTypeHTML  = "text/html"
	ContentTypePlain = "text/plain"
)

// Result is produced by a runner and consumed once by the request envelope.
type Result struct {
	// NormalizedURL is set by the URL runner.
	NormalizedURL string
	// SourceURL is set by preset runners.
	SourceURL   string
	ContentType string
	Text        string
	Meta        *PresetMeta
}

// PresetMeta records the parameters a preset search ran with.
type PresetMeta struct {
	Preset      string `json:"preset"`
	DateFrom    string `json:"dateFrom"`
	DateTo      string `json:"dateTo"`
	MinPages    int    `json:"minPages"`
	Materiality string `json:"materiality,omitempty"`
	Section     string `json:"section,omitempty"`
}

// DocumentStatus is the terminal state of an ingestion call.
type DocumentStatus string

// Persisted document states.
const (
	StatusDone   DocumentStatus = "done"
	StatusFailed DocumentStatus = "failed"
)

// SummaryDocument is written once per ingestion call. FetchedAt is left zero
// by callers and stamped by the writer at write time.
type SummaryDocument struct {
	Source      Source         `json:"source"`
	Status      DocumentStatus `json:"status"`
	FetchedAt   time.Time      `json:"fetchedAt"`
	ContentType string         `json:"contentType,omitempty"`
	Text        string         `json:"text,omitempty"`
	Meta        *PresetMeta    `json:"meta,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorType   ErrorType      `json:"errorType,omitempty"`
	DurationMs  int64          `json:"durationMs"`
}

// UnmarshalJSON decodes a stored document, resolving the source variant.
func (d *SummaryDocument) UnmarshalJSON(data []byte) error {
	type plain SummaryDocument
	var raw struct {
		plain
		Source json.RawMessage `json:"source"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode summary document: %w", err)
	}
	source, err := DecodeSource(raw.Source)
	if err != nil {
		return err
	}
	*d = SummaryDocument(raw.plain)
	d.Source = source
	return nil
}

// SummaryListItem is the listing projection of a stored document.
type SummaryListItem struct {
	ID          string         `json:"id"`
	Status      DocumentStatus `json:"status"`
	Source      Source         `json:"source"`
	ContentType *string        `json:"contentType"`
	Error       *string        `json:"error"`
	Chars       int            `json:"chars"`
	DurationMs  *int64         `json:"durationMs"`
	FetchedAt   *string        `json:"fetchedAt"`
}

// FormatTimestamp renders t as an ISO-8601 UTC string with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ToListItem projects a stored document into its listing form.
func ToListItem(id string, doc SummaryDocument) SummaryListItem {
	item := SummaryListItem{
		ID:     id,
		Status: doc.Status,
		Source: doc.Source,
		Chars:  utf8.RuneCountInString(doc.Text),
	}
	if doc.ContentType != "" {
		ct := doc.ContentType
		item.ContentType = &ct
	}
	if doc.Error != "" {
		msg := doc.Error
		item.Error = &msg
	}
	if doc.Status != "" {
		duration := doc.DurationMs
		item.DurationMs = &duration
	}
	if !doc.FetchedAt.IsZero() {
		ts := FormatTimestamp(doc.FetchedAt)
		item.FetchedAt = &ts
	}
	return item
}
