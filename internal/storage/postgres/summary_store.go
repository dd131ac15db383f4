// Package postgres provides a Postgres-backed summary document store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/summary-ingestor/internal/clock/system"
	"github.com/JakeFAU/summary-ingestor/internal/id/uuid"
	"github.com/JakeFAU/summary-ingestor/internal/ingest"
)

const defaultTable = "summaries"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StoreConfig controls the Postgres connection pool used for summary rows.
type StoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// SummaryStore writes and lists summary documents in a single table.
type SummaryStore struct {
	pool  pool
	table string
	ids   ingest.IDGenerator
	clock ingest.Clock
}

// NewSummaryStore creates a Postgres-backed SummaryStore using the provided config.
func NewSummaryStore(ctx context.Context, cfg StoreConfig) (*SummaryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SummaryStore{pool: p, table: table, ids: uuid.New(), clock: system.New()}, nil
}

// NewSummaryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSummaryStoreWithPool(p pool, table string, ids ingest.IDGenerator, clock ingest.Clock) (*SummaryStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	return &SummaryStore{pool: p, table: name, ids: ids, clock: clock}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *SummaryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *SummaryStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the summaries table and its listing index if missing.
func (s *SummaryStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id           uuid PRIMARY KEY,
	source       jsonb,
	status       text NOT NULL,
	fetched_at   timestamptz NOT NULL,
	content_type text,
	text         text,
	meta         jsonb,
	error        text,
	error_type   text,
	duration_ms  bigint NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS %[1]s_fetched_at_idx ON %[1]s (fetched_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// WriteSummary inserts a document row and returns its generated ID.
func (s *SummaryStore) WriteSummary(ctx context.Context, doc ingest.SummaryDocument) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate document id: %w", err)
	}
	sourceJSON, err := json.Marshal(doc.Source)
	if err != nil {
		return "", fmt.Errorf("marshal source: %w", err)
	}
	var metaJSON []byte
	if doc.Meta != nil {
		if metaJSON, err = json.Marshal(doc.Meta); err != nil {
			return "", fmt.Errorf("marshal meta: %w", err)
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	source,
	status,
	fetched_at,
	content_type,
	text,
	meta,
	error,
	error_type,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		id,
		sourceJSON,
		string(doc.Status),
		s.clock.Now(),
		nullable(doc.ContentType),
		nullable(doc.Text),
		metaJSON,
		nullable(doc.Error),
		nullable(string(doc.ErrorType)),
		doc.DurationMs,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", ingest.WrapError(http.StatusServiceUnavailable, ingest.ErrStorageWrite,
			"Storage write failed: "+err.Error(), err)
	}
	return id, nil
}

// ListLatest returns up to limit documents ordered by fetched_at descending.
func (s *SummaryStore) ListLatest(ctx context.Context, limit int) ([]ingest.SummaryListItem, error) {
	if limit <= 0 {
		return []ingest.SummaryListItem{}, nil
	}
	query := fmt.Sprintf(`
SELECT
	id::text,
	COALESCE(source, 'null'::jsonb),
	status,
	fetched_at,
	COALESCE(content_type, ''),
	COALESCE(text, ''),
	COALESCE(meta, 'null'::jsonb),
	COALESCE(error, ''),
	COALESCE(error_type, ''),
	duration_ms
FROM %s
ORDER BY fetched_at DESC, id DESC
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, queryError(err)
	}
	defer rows.Close()

	items := make([]ingest.SummaryListItem, 0, limit)
	for rows.Next() {
		var (
			id, status, contentType, text, errText, errType string
			sourceJSON, metaJSON                            []byte
			fetchedAt                                       time.Time
			durationMs                                      int64
		)
		if err := rows.Scan(&id, &sourceJSON, &status, &fetchedAt, &contentType, &text,
			&metaJSON, &errText, &errType, &durationMs); err != nil {
			return nil, queryError(err)
		}
		source, err := ingest.DecodeSource(sourceJSON)
		if err != nil {
			return nil, queryError(err)
		}
		doc := ingest.SummaryDocument{
			Source:      source,
			Status:      ingest.DocumentStatus(status),
			FetchedAt:   fetchedAt,
			ContentType: contentType,
			Text:        text,
			Error:       errText,
			ErrorType:   ingest.ErrorType(errType),
			DurationMs:  durationMs,
		}
		if len(metaJSON) > 0 && string(metaJSON) != "null" {
			var meta ingest.PresetMeta
			if err := json.Unmarshal(metaJSON, &meta); err != nil {
				return nil, queryError(err)
			}
			doc.Meta = &meta
		}
		items = append(items, ingest.ToListItem(id, doc))
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err)
	}
	return items, nil
}

func queryError(err error) error {
	return ingest.WrapError(http.StatusServiceUnavailable, ingest.ErrStorageQuery,
		"Storage query failed: "+err.Error(), err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
