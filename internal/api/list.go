package api

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/summary-ingestor/internal/ingest"
	"github.com/JakeFAU/summary-ingestor/internal/metrics"
)

// Listing bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 50
)

const limitMessage = "Query 'limit' must be a single integer between 1 and 50"

var digitsRe = regexp.MustCompile(`^\d+$`)

// ParseListLimit validates the raw values of the "limit" query parameter.
// No values yields the default; repeated, non-integer or out of range values
// are rejected alike.
func ParseListLimit(values []string) (int, error) {
	if len(values) == 0 {
		return DefaultListLimit, nil
	}
	if len(values) > 1 {
		return 0, ingest.Validation(limitMessage)
	}
	normalized := strings.TrimSpace(values[0])
	if !digitsRe.MatchString(normalized) {
		return 0, ingest.Validation(limitMessage)
	}
	limit, err := strconv.Atoi(normalized)
	if err != nil || limit < 1 || limit > MaxListLimit {
		return 0, ingest.Validation(limitMessage)
	}
	return limit, nil
}

type listResponse struct {
	OK         bool                     `json:"ok"`
	Count      int                      `json:"count"`
	Summaries  []ingest.SummaryListItem `json:"summaries"`
	DurationMs int64                    `json:"durationMs"`
}

type listErrorResponse struct {
	OK         bool             `json:"ok"`
	Error      string           `json:"error"`
	ErrorType  ingest.ErrorType `json:"errorType"`
	DurationMs int64            `json:"durationMs"`
}

// ListHandler serves the latest stored summaries.
type ListHandler struct {
	name   string
	lister ingest.DocumentLister
	logger *zap.Logger
}

// NewListHandler builds a ListHandler. A nil lister is reported to callers as
// a server misconfiguration.
func NewListHandler(name string, lister ingest.DocumentLister, logger *zap.Logger) *ListHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListHandler{name: name, lister: lister, logger: logger.With(zap.String("endpoint", name))}
}

func (h *ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, getMethods)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	start := time.Now()
	if h.lister == nil {
		const message = "Server misconfiguration: listSummaries missing"
		h.logger.Error("endpoint_event",
			zap.String("status", string(ingest.StatusFailed)),
			zap.String("errorType", string(ingest.ErrMisconfiguration)),
			zap.String("message", message),
		)
		writeJSON(w, http.StatusInternalServerError, listErrorResponse{
			Error:      message,
			ErrorType:  ingest.ErrMisconfiguration,
			DurationMs: time.Since(start).Milliseconds(),
		})
		return
	}

	limit, err := ParseListLimit(r.URL.Query()["limit"])
	var summaries []ingest.SummaryListItem
	if err == nil {
		summaries, err = h.lister.ListLatest(r.Context(), limit)
	}
	duration := time.Since(start)
	if err != nil {
		status, errType, message := ingest.Classify(err)
		h.logger.Error("endpoint_event",
			zap.String("status", string(ingest.StatusFailed)),
			zap.Int64("durationMs", duration.Milliseconds()),
			zap.String("errorType", string(errType)),
			zap.String("error", message),
			zap.NamedError("cause", err),
		)
		metrics.ObserveIngest(h.name, string(ingest.StatusFailed), string(errType), duration)
		writeJSON(w, status, listErrorResponse{
			Error:      message,
			ErrorType:  errType,
			DurationMs: duration.Milliseconds(),
		})
		return
	}

	if summaries == nil {
		summaries = []ingest.SummaryListItem{}
	}
	h.logger.Info("endpoint_event",
		zap.String("status", string(ingest.StatusDone)),
		zap.Int64("durationMs", duration.Milliseconds()),
		zap.Int("limit", limit),
		zap.Int("count", len(summaries)),
	)
	metrics.ObserveIngest(h.name, string(ingest.StatusDone), "", duration)
	writeJSON(w, http.StatusOK, listResponse{
		OK:         true,
		Count:      len(summaries),
		Summaries:  summaries,
		DurationMs: duration.Milliseconds(),
	})
}
