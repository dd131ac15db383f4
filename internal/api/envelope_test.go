package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/summary-ingestor/internal/ingest"
)

type fakeWriter struct {
	mu   sync.Mutex
	docs []ingest.SummaryDocument
	errs []error
}

func (f *fakeWriter) WriteSummary(_ context.Context, doc ingest.SummaryDocument) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := len(f.docs)
	f.docs = append(f.docs, doc)
	if call < len(f.errs) && f.errs[call] != nil {
		return "", f.errs[call]
	}
	return "doc-" + string(rune('a'+call)), nil
}

func (f *fakeWriter) written() []ingest.SummaryDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ingest.SummaryDocument(nil), f.docs...)
}

type countingRunner struct {
	mu     sync.Mutex
	calls  int
	bodies []map[string]any
	result ingest.Result
	err    error
}

func (c *countingRunner) run(_ context.Context, body map[string]any) (ingest.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.bodies = append(c.bodies, body)
	return c.result, c.err
}

func newTestEnvelope(writer ingest.DocumentWriter) *Envelope {
	env := NewEnvelope(writer, zap.NewNop())
	env.since = func(time.Time) time.Duration { return 25 * time.Millisecond }
	return env
}

func testEndpoint(runner *countingRunner) Endpoint {
	return Endpoint{
		Name: "testEndpoint",
		Run:  runner.run,
		Source: func(result ingest.Result) ingest.Source {
			return ingest.URLSource{URL: result.NormalizedURL}
		},
	}
}

func serve(handler http.Handler, method, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/testEndpoint", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestEnvelopeOptionsShortCircuits(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{}
	writer := &fakeWriter{}
	rec := serve(newTestEnvelope(writer).Handle(testEndpoint(runner)), http.MethodOptions, "")

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	require.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	require.Zero(t, runner.calls)
	require.Empty(t, writer.written())
}

func TestEnvelopeRejectsOtherMethods(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{}
	writer := &fakeWriter{}
	handler := newTestEnvelope(writer).Handle(testEndpoint(runner))

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec := serve(handler, method, "")
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		require.JSONEq(t, `{"ok":false,"error":"Method not allowed"}`, rec.Body.String())
		require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	require.Zero(t, runner.calls)
	require.Empty(t, writer.written())
}

func TestEnvelopeMissingWriter(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{}
	rec := serve(newTestEnvelope(nil).Handle(testEndpoint(runner)), http.MethodPost, `{"url":"https://example.com"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{
		"ok":false,
		"error":"Server misconfiguration: writeSummaryDoc missing",
		"errorType":"MisconfigurationError",
		"id":null,
		"status":"failed",
		"durationMs":25
	}`, rec.Body.String())
	require.Zero(t, runner.calls)
}

func TestEnvelopeSuccess(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{result: ingest.Result{
		NormalizedURL: "https://example.com/",
		ContentType:   ingest.ContentTypeHTML,
		Text:          "שלום world",
		Meta:          &ingest.PresetMeta{Preset: "p", MinPages: 3},
	}}
	writer := &fakeWriter{}
	rec := serve(newTestEnvelope(writer).Handle(testEndpoint(runner)), http.MethodPost, `{"url":"https://example.com"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true,"id":"doc-a","status":"done","chars":10,"durationMs":25}`, rec.Body.String())
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, []map[string]any{{"url": "https://example.com"}}, runner.bodies)

	docs := writer.written()
	require.Len(t, docs, 1)
	require.Equal(t, ingest.SummaryDocument{
		Source:      ingest.URLSource{URL: "https://example.com/"},
		Status:      ingest.StatusDone,
		ContentType: ingest.ContentTypeHTML,
		Text:        "שלום world",
		Meta:        &ingest.PresetMeta{Preset: "p", MinPages: 3},
		DurationMs:  25,
	}, docs[0])
}

func TestEnvelopeRunnerFailureWritesOneFailedDocument(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{err: ingest.NewError(http.StatusBadGateway, ingest.ErrUpstreamHTTP, "Upstream returned HTTP 500")}
	writer := &fakeWriter{}
	rec := serve(newTestEnvelope(writer).Handle(testEndpoint(runner)), http.MethodPost, `{"url":"https://example.com/x"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeJSON(t, rec)
	require.Equal(t, false, body["ok"])
	require.Equal(t, "Upstream returned HTTP 500", body["error"])
	require.Equal(t, "UpstreamHttpError", body["errorType"])
	require.Equal(t, "doc-a", body["id"])
	require.Equal(t, "failed", body["status"])
	require.IsType(t, float64(0), body["durationMs"])

	docs := writer.written()
	require.Len(t, docs, 1)
	require.Equal(t, ingest.SummaryDocument{
		Source:     ingest.URLSource{URL: "https://example.com/x"},
		Status:     ingest.StatusFailed,
		Error:      "Upstream returned HTTP 500",
		ErrorType:  ingest.ErrUpstreamHTTP,
		DurationMs: 25,
	}, docs[0])
}

func TestEnvelopeUnclassifiedErrorDoesNotLeak(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{err: errors.New("dial tcp 10.0.0.5:5432: secret detail")}
	writer := &fakeWriter{}
	rec := serve(newTestEnvelope(writer).Handle(testEndpoint(runner)), http.MethodPost, `{}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "secret")
	body := decodeJSON(t, rec)
	require.Equal(t, "Unexpected error", body["error"])
	require.Equal(t, "Error", body["errorType"])
	require.Equal(t, ingest.URLSource{}, writer.written()[0].Source)
}

func TestEnvelopeFailureSourceFallbacks(t *testing.T) {
	t.Parallel()

	cases := map[string]func(map[string]any) (ingest.Source, error){
		"error": func(map[string]any) (ingest.Source, error) {
			return nil, errors.New("cannot build")
		},
		"panic": func(map[string]any) (ingest.Source, error) {
			panic("boom")
		},
		"nil": func(map[string]any) (ingest.Source, error) {
			return nil, nil
		},
	}

	for name, builder := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			runner := &countingRunner{err: ingest.Validation("bad")}
			writer := &fakeWriter{}
			ep := testEndpoint(runner)
			ep.FailureSource = builder

			rec := serve(newTestEnvelope(writer).Handle(ep), http.MethodPost, `{"url":"https://fallback.example"}`)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, ingest.URLSource{URL: "https://fallback.example"}, writer.written()[0].Source)

			rec = serve(newTestEnvelope(writer).Handle(ep), http.MethodPost, `{"url":42}`)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, ingest.URLSource{}, writer.written()[1].Source)
		})
	}
}

func TestEnvelopeFailureSourceBuilderUsed(t *testing.T) {
	t.Parallel()

	preset := ingest.PresetSource{Provider: "supreme.court.gov.il", Preset: "weekly"}
	runner := &countingRunner{err: ingest.NewError(http.StatusBadGateway, ingest.ErrSupremeLanding, "landing")}
	writer := &fakeWriter{}
	ep := testEndpoint(runner)
	ep.FailureSource = func(map[string]any) (ingest.Source, error) { return preset, nil }

	serve(newTestEnvelope(writer).Handle(ep), http.MethodPost, `{}`)
	require.Equal(t, preset, writer.written()[0].Source)
}

func TestEnvelopeFailedFailureWriteStillResponds(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{err: ingest.NewError(http.StatusGatewayTimeout, ingest.ErrFetchTimeout, "Fetch timed out after 15 seconds")}
	writer := &fakeWriter{errs: []error{errors.New("storage down")}}
	rec := serve(newTestEnvelope(writer).Handle(testEndpoint(runner)), http.MethodPost, `{"url":"https://example.com"}`)

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	require.JSONEq(t, `{
		"ok":false,
		"error":"Fetch timed out after 15 seconds",
		"errorType":"FetchTimeout",
		"id":null,
		"status":"failed",
		"durationMs":25
	}`, rec.Body.String())
	require.Len(t, writer.written(), 1)
}

func TestEnvelopeSuccessWriteFailureTakesFailurePath(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{result: ingest.Result{NormalizedURL: "https://example.com/", ContentType: "text/plain", Text: "x"}}
	writeErr := ingest.NewError(http.StatusServiceUnavailable, ingest.ErrStorageWrite, "Summary write failed")
	writer := &fakeWriter{errs: []error{writeErr}}
	rec := serve(newTestEnvelope(writer).Handle(testEndpoint(runner)), http.MethodPost, `{"url":"https://example.com"}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeJSON(t, rec)
	require.Equal(t, "StorageWriteError", body["errorType"])
	require.Equal(t, "doc-b", body["id"])

	docs := writer.written()
	require.Len(t, docs, 2)
	require.Equal(t, ingest.StatusDone, docs[0].Status)
	require.Equal(t, ingest.StatusFailed, docs[1].Status)
}

func TestEnvelopeMalformedBody(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`{"url":`:  "Invalid JSON body",
		`["a"]`:    "Request body must be a JSON object",
		`"string"`: "Request body must be a JSON object",
		`{"url":"` + strings.Repeat("a", maxRequestBodyBytes) + `"}`: "Request body too large (max 65536 bytes)",
	}
	for payload, message := range cases {
		runner := &countingRunner{}
		writer := &fakeWriter{}
		rec := serve(newTestEnvelope(writer).Handle(testEndpoint(runner)), http.MethodPost, payload)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeJSON(t, rec)
		require.Equal(t, "ValidationError", body["errorType"])
		require.Equal(t, message, body["error"])
		require.Zero(t, runner.calls)
		require.Len(t, writer.written(), 1)
	}
}

func TestEnvelopeEmptyBodyIsEmptyObject(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{result: ingest.Result{Text: "ok"}}
	writer := &fakeWriter{}
	rec := serve(newTestEnvelope(writer).Handle(testEndpoint(runner)), http.MethodPost, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []map[string]any{{}}, runner.bodies)
}

func TestEnvelopeExecuteWithoutHTTP(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{result: ingest.Result{NormalizedURL: "https://example.com/", Text: "abc"}}
	writer := &fakeWriter{}

	status, resp := newTestEnvelope(writer).Execute(context.Background(), testEndpoint(runner), map[string]any{"url": "https://example.com"}, nil)

	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.OK)
	require.Equal(t, "doc-a", *resp.ID)
	require.Equal(t, 3, *resp.Chars)
	require.Equal(t, int64(25), resp.DurationMs)
	require.Len(t, writer.written(), 1)
}

func TestEnvelopeExecuteBodyErrorSkipsRunner(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{}
	writer := &fakeWriter{}
	bodyErr := ingest.NewError(http.StatusBadRequest, ingest.ErrValidation, "Invalid JSON body")

	status, resp := newTestEnvelope(writer).Execute(context.Background(), testEndpoint(runner), map[string]any{}, bodyErr)

	require.Equal(t, http.StatusBadRequest, status)
	require.False(t, resp.OK)
	require.Equal(t, ingest.ErrValidation, resp.ErrorType)
	require.Equal(t, "Invalid JSON body", resp.Error)
	require.Zero(t, runner.calls)
	docs := writer.written()
	require.Len(t, docs, 1)
	require.Equal(t, ingest.StatusFailed, docs[0].Status)
}

func TestEnvelopeWritesDocumentAfterRequestCanceled(t *testing.T) {
	t.Parallel()

	for _, runErr := range []error{nil, ingest.NewError(http.StatusBadGateway, ingest.ErrFetch, "Fetch failed: aborted")} {
		ctx, cancel := context.WithCancel(context.Background())
		var persisted []ingest.SummaryDocument
		writer := ingest.WriterFunc(func(ctx context.Context, doc ingest.SummaryDocument) (string, error) {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			_, hasDeadline := ctx.Deadline()
			require.True(t, hasDeadline)
			persisted = append(persisted, doc)
			return "doc-1", nil
		})
		ep := Endpoint{
			Name: "testEndpoint",
			Run: func(context.Context, map[string]any) (ingest.Result, error) {
				cancel()
				return ingest.Result{NormalizedURL: "https://example.com/", Text: "abc"}, runErr
			},
			Source: func(result ingest.Result) ingest.Source {
				return ingest.URLSource{URL: result.NormalizedURL}
			},
		}

		status, resp := newTestEnvelope(writer).Execute(ctx, ep, map[string]any{"url": "https://example.com"}, nil)

		require.NotNil(t, resp.ID, runErr)
		require.Equal(t, "doc-1", *resp.ID)
		require.Len(t, persisted, 1)
		if runErr == nil {
			require.Equal(t, http.StatusOK, status)
			require.Equal(t, ingest.StatusDone, persisted[0].Status)
		} else {
			require.Equal(t, http.StatusBadGateway, status)
			require.Equal(t, ingest.StatusFailed, persisted[0].Status)
		}
	}
}
