package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/summary-ingestor/internal/ingest"
	"github.com/JakeFAU/summary-ingestor/internal/metrics"
)

const (
	maxRequestBodyBytes  = 64 * 1024
	documentWriteTimeout = 10 * time.Second
	tracerName           = "github.com/JakeFAU/summary-ingestor/internal/api"

	postMethods = "POST, OPTIONS"
	getMethods  = "GET, OPTIONS"
)

// Runner performs one ingestion call against the decoded request body.
type Runner func(ctx context.Context, body map[string]any) (ingest.Result, error)

// Endpoint binds a runner to the way its documents describe their source.
type Endpoint struct {
	Name string
	Run  Runner
	// Source describes a successful result.
	Source func(ingest.Result) ingest.Source
	// FailureSource describes a failed call from the request body. Optional.
	FailureSource func(body map[string]any) (ingest.Source, error)
}

// Envelope wraps runners with CORS, method gating, timing, persistence and
// a uniform JSON response.
type Envelope struct {
	writer ingest.DocumentWriter
	logger *zap.Logger
	since  func(time.Time) time.Duration
}

// NewEnvelope builds an Envelope. A nil writer is reported to callers as a
// server misconfiguration.
func NewEnvelope(writer ingest.DocumentWriter, logger *zap.Logger) *Envelope {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Envelope{writer: writer, logger: logger, since: time.Since}
}

// IngestResponse is the JSON body returned by ingestion endpoints.
type IngestResponse struct {
	OK         bool             `json:"ok"`
	ID         *string          `json:"id"`
	Status     string           `json:"status"`
	Chars      *int             `json:"chars,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorType  ingest.ErrorType `json:"errorType,omitempty"`
	DurationMs int64            `json:"durationMs"`
}

// Handle returns the HTTP handler for ep.
func (e *Envelope) Handle(ep Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w, postMethods)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}

		body, err := decodeBody(r)
		status, resp := e.Execute(r.Context(), ep, body, err)
		writeJSON(w, status, resp)
	}
}

// Execute runs ep against an already decoded request body and persists
// exactly one document describing the outcome. A non-nil bodyErr is treated
// as the call's failure. It returns the HTTP status and response body.
func (e *Envelope) Execute(ctx context.Context, ep Endpoint, body map[string]any, bodyErr error) (int, IngestResponse) {
	start := time.Now()
	logger := e.logger.With(zap.String("endpoint", ep.Name))

	if e.writer == nil {
		const message = "Server misconfiguration: writeSummaryDoc missing"
		logger.Error("endpoint_event",
			zap.String("status", string(ingest.StatusFailed)),
			zap.String("errorType", string(ingest.ErrMisconfiguration)),
			zap.String("message", message),
		)
		metrics.ObserveIngest(ep.Name, string(ingest.StatusFailed), string(ingest.ErrMisconfiguration), e.since(start))
		return http.StatusInternalServerError, IngestResponse{
			Status:     string(ingest.StatusFailed),
			Error:      message,
			ErrorType:  ingest.ErrMisconfiguration,
			DurationMs: e.since(start).Milliseconds(),
		}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "api."+ep.Name)
	defer span.End()
	logger.Info("endpoint_event", zap.String("status", "started"))

	err := bodyErr
	var result ingest.Result
	if err == nil {
		result, err = ep.Run(ctx, body)
	}
	if err == nil {
		id, writeErr := e.writeSuccess(ctx, ep, result, e.since(start))
		if writeErr == nil {
			duration := e.since(start)
			chars := len([]rune(result.Text))
			logger.Info("endpoint_event",
				zap.String("status", string(ingest.StatusDone)),
				zap.Int64("durationMs", duration.Milliseconds()),
				zap.String("docId", id),
				zap.Int("chars", chars),
			)
			metrics.ObserveIngest(ep.Name, string(ingest.StatusDone), "", duration)
			span.SetAttributes(attribute.String("summary.id", id))
			return http.StatusOK, IngestResponse{
				OK:         true,
				ID:         &id,
				Status:     string(ingest.StatusDone),
				Chars:      &chars,
				DurationMs: duration.Milliseconds(),
			}
		}
		err = writeErr
	}

	status, errType, message := ingest.Classify(err)
	duration := e.since(start)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(errType))

	source := e.failureSource(logger, ep, body, duration)
	var id *string
	writeCtx, cancel := persistContext(ctx)
	defer cancel()
	docID, writeErr := e.writer.WriteSummary(writeCtx, ingest.SummaryDocument{
		Source:     source,
		Status:     ingest.StatusFailed,
		Error:      message,
		ErrorType:  errType,
		DurationMs: duration.Milliseconds(),
	})
	metrics.ObserveDocumentWrite(string(ingest.StatusFailed), writeErr)
	if writeErr != nil {
		logger.Error("endpoint_event",
			zap.String("status", string(ingest.StatusFailed)),
			zap.String("errorType", string(ingest.TypeOf(writeErr))),
			zap.Int64("durationMs", duration.Milliseconds()),
			zap.String("message", "Failed writing failed summary doc"),
			zap.Error(writeErr),
		)
	} else {
		id = &docID
	}

	logger.Error("endpoint_event",
		zap.String("status", string(ingest.StatusFailed)),
		zap.Int64("durationMs", duration.Milliseconds()),
		zap.String("errorType", string(errType)),
		zap.String("error", message),
		zap.Stringp("docId", id),
		zap.NamedError("cause", err),
	)
	metrics.ObserveIngest(ep.Name, string(ingest.StatusFailed), string(errType), duration)
	return status, IngestResponse{
		ID:         id,
		Status:     string(ingest.StatusFailed),
		Error:      message,
		ErrorType:  errType,
		DurationMs: duration.Milliseconds(),
	}
}

func (e *Envelope) writeSuccess(
	ctx context.Context,
	ep Endpoint,
	result ingest.Result,
	duration time.Duration,
) (string, error) {
	var source ingest.Source
	if ep.Source != nil {
		source = ep.Source(result)
	}
	ctx, cancel := persistContext(ctx)
	defer cancel()
	id, err := e.writer.WriteSummary(ctx, ingest.SummaryDocument{
		Source:      source,
		Status:      ingest.StatusDone,
		ContentType: result.ContentType,
		Text:        result.Text,
		Meta:        result.Meta,
		DurationMs:  duration.Milliseconds(),
	})
	metrics.ObserveDocumentWrite(string(ingest.StatusDone), err)
	if err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return id, nil
}

// persistContext detaches document writes from the caller's cancellation so
// an aborted request still leaves its document behind.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), documentWriteTimeout)
}

// failureSource asks the endpoint's builder first and falls back to the
// body's url field when the builder is absent, fails, panics or returns nil.
func (e *Envelope) failureSource(
	logger *zap.Logger,
	ep Endpoint,
	body map[string]any,
	duration time.Duration,
) (source ingest.Source) {
	fallback := ingest.URLSource{}
	if u, ok := body["url"].(string); ok {
		fallback.URL = u
	}
	if ep.FailureSource == nil {
		return fallback
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("endpoint_event",
				zap.String("status", string(ingest.StatusFailed)),
				zap.String("errorType", string(ingest.ErrUnclassified)),
				zap.Int64("durationMs", duration.Milliseconds()),
				zap.String("message", "Failed building failure source"),
				zap.Any("panic", rec),
			)
			source = fallback
		}
	}()

	built, err := ep.FailureSource(body)
	if err != nil {
		logger.Error("endpoint_event",
			zap.String("status", string(ingest.StatusFailed)),
			zap.String("errorType", string(ingest.TypeOf(err))),
			zap.Int64("durationMs", duration.Milliseconds()),
			zap.String("message", "Failed building failure source"),
			zap.Error(err),
		)
		return fallback
	}
	if built == nil {
		return fallback
	}
	return built
}

// decodeBody reads a JSON object body. An empty body decodes to an empty map.
func decodeBody(r *http.Request) (map[string]any, error) {
	body := map[string]any{}
	if r.Body == nil {
		return body, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		return body, ingest.Validation("Could not read request body")
	}
	if len(data) > maxRequestBodyBytes {
		return body, ingest.Validation(fmt.Sprintf("Request body too large (max %d bytes)", maxRequestBodyBytes))
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return body, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return body, ingest.Validation("Request body must be a JSON object")
		}
		return body, ingest.Validation("Invalid JSON body")
	}
	return decoded, nil
}

func setCORSHeaders(w http.ResponseWriter, methods string) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", methods)
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "Method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
