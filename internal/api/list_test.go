package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/summary-ingestor/internal/ingest"
)

func TestParseListLimit(t *testing.T) {
	t.Parallel()

	valid := []struct {
		in   []string
		want int
	}{
		{nil, 20},
		{[]string{"1"}, 1},
		{[]string{"50"}, 50},
		{[]string{" 7 "}, 7},
		{[]string{"007"}, 7},
	}
	for _, tc := range valid {
		got, err := ParseListLimit(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}

	invalid := [][]string{
		{"0"}, {"51"}, {"2.5"}, {"abc"}, {"-1"}, {""}, {"1e1"},
		{"10", "20"},
		{"99999999999999999999999"},
	}
	for _, in := range invalid {
		_, err := ParseListLimit(in)
		var ie *ingest.Error
		require.ErrorAs(t, err, &ie, in)
		require.Equal(t, http.StatusBadRequest, ie.Status)
		require.Equal(t, ingest.ErrValidation, ie.Type)
		require.Equal(t, "Query 'limit' must be a single integer between 1 and 50", ie.Message)
	}
}

type fakeLister struct {
	limits []int
	items  []ingest.SummaryListItem
	err    error
}

func (f *fakeLister) ListLatest(_ context.Context, limit int) ([]ingest.SummaryListItem, error) {
	f.limits = append(f.limits, limit)
	return f.items, f.err
}

func serveList(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestListHandlerSuccess(t *testing.T) {
	t.Parallel()

	contentType := "text/html"
	fetchedAt := "2025-01-02T03:04:05.000Z"
	duration := int64(12)
	lister := &fakeLister{items: []ingest.SummaryListItem{{
		ID:          "doc-1",
		Status:      ingest.StatusDone,
		Source:      ingest.URLSource{URL: "https://example.com/"},
		ContentType: &contentType,
		Chars:       5,
		DurationMs:  &duration,
		FetchedAt:   &fetchedAt,
	}}}
	h := NewListHandler(RouteListLatest, lister, zap.NewNop())

	rec := serveList(h, http.MethodGet, "/listLatestSummaries?limit=5")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{5}, lister.limits)
	require.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	body := decodeJSON(t, rec)
	require.Equal(t, true, body["ok"])
	require.Equal(t, float64(1), body["count"])
	require.IsType(t, float64(0), body["durationMs"])
	summaries := body["summaries"].([]any)
	require.Len(t, summaries, 1)
	first := summaries[0].(map[string]any)
	require.Equal(t, "doc-1", first["id"])
	require.Nil(t, first["error"])
	require.Equal(t, map[string]any{"type": "url", "url": "https://example.com/"}, first["source"])
}

func TestListHandlerDefaultsAndEmpty(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{}
	rec := serveList(NewListHandler(RouteListLatest, lister, nil), http.MethodGet, "/listLatestSummaries")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{DefaultListLimit}, lister.limits)
	require.Contains(t, rec.Body.String(), `"summaries":[]`)
	require.Contains(t, rec.Body.String(), `"count":0`)
}

func TestListHandlerRejectsBadLimit(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{}
	h := NewListHandler(RouteListLatest, lister, zap.NewNop())

	for _, target := range []string{"/l?limit=0", "/l?limit=51", "/l?limit=2.5", "/l?limit=abc", "/l?limit=1&limit=2"} {
		rec := serveList(h, http.MethodGet, target)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		body := decodeJSON(t, rec)
		require.Equal(t, "ValidationError", body["errorType"])
		require.Equal(t, false, body["ok"])
	}
	require.Empty(t, lister.limits)
}

func TestListHandlerPropagatesStorageErrors(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{err: ingest.WrapError(http.StatusServiceUnavailable, ingest.ErrStorageQuery,
		"Storage query failed: connection reset", errors.New("connection reset"))}
	rec := serveList(NewListHandler(RouteListLatest, lister, zap.NewNop()), http.MethodGet, "/l")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeJSON(t, rec)
	require.Equal(t, "StorageQueryError", body["errorType"])
	require.Equal(t, "Storage query failed: connection reset", body["error"])
}

func TestListHandlerMethodGating(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{}
	h := NewListHandler(RouteListLatest, lister, zap.NewNop())

	rec := serveList(h, http.MethodOptions, "/l")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serveList(h, http.MethodPost, "/l")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.JSONEq(t, `{"ok":false,"error":"Method not allowed"}`, rec.Body.String())
	require.Empty(t, lister.limits)
}

func TestListHandlerMissingLister(t *testing.T) {
	t.Parallel()

	rec := serveList(NewListHandler(RouteListLatest, nil, zap.NewNop()), http.MethodGet, "/l")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeJSON(t, rec)
	require.Equal(t, "MisconfigurationError", body["errorType"])
	require.Equal(t, "Server misconfiguration: listSummaries missing", body["error"])
}
