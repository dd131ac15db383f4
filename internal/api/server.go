package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/summary-ingestor/internal/ingest"
	"github.com/JakeFAU/summary-ingestor/internal/metrics"
)

// Route names double as endpoint names in logs and metrics.
const (
	RouteCreateFromURL = "createSummaryFromUrl"
	RouteSupremeSearch = "searchSupremeLastWeekDecisions"
	RouteListLatest    = "listLatestSummaries"
)

// ReadinessCheck reports whether downstream dependencies are usable.
type ReadinessCheck func(ctx context.Context) error

// Options collects the collaborators the HTTP surface is built from.
type Options struct {
	Writer         ingest.DocumentWriter
	Lister         ingest.DocumentLister
	URLRunner      *ingest.URLRunner
	Preset         ingest.ForcedPreset
	PresetSource   ingest.PresetSource
	RequestTimeout time.Duration
	Ready          ReadinessCheck
}

// Server wires HTTP handlers to the ingestion runners and stores.
type Server struct {
	router chi.Router
	ready  ReadinessCheck
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{ready: opts.Ready, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if opts.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	envelope := NewEnvelope(opts.Writer, logger.Named("envelope"))
	if opts.URLRunner != nil {
		r.HandleFunc("/"+RouteCreateFromURL, envelope.Handle(URLEndpoint(opts.URLRunner)))
	}
	if opts.Preset.Next != nil {
		r.HandleFunc("/"+RouteSupremeSearch, envelope.Handle(PresetEndpoint(opts.Preset, opts.PresetSource)))
	}
	r.Handle("/"+RouteListLatest, NewListHandler(RouteListLatest, opts.Lister, logger.Named("list")))

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// URLEndpoint runs the URL ingest runner on the body's "url" field.
func URLEndpoint(runner *ingest.URLRunner) Endpoint {
	return Endpoint{
		Name: RouteCreateFromURL,
		Run: func(ctx context.Context, body map[string]any) (ingest.Result, error) {
			raw, _ := body["url"].(string)
			return runner.Run(ctx, raw)
		},
		Source: func(result ingest.Result) ingest.Source {
			return ingest.URLSource{URL: result.NormalizedURL}
		},
		FailureSource: func(body map[string]any) (ingest.Source, error) {
			raw, ok := body["url"].(string)
			if !ok {
				return nil, nil
			}
			return ingest.URLSource{URL: strings.TrimSpace(raw)}, nil
		},
	}
}

// PresetEndpoint runs the preset search. Both outcomes are attributed to
// the preset source.
func PresetEndpoint(runner ingest.ForcedPreset, source ingest.PresetSource) Endpoint {
	return Endpoint{
		Name: RouteSupremeSearch,
		Run:  runner.Run,
		Source: func(result ingest.Result) ingest.Source {
			out := source
			if result.SourceURL != "" {
				out.URL = result.SourceURL
			}
			return out
		},
		FailureSource: func(map[string]any) (ingest.Source, error) {
			return source, nil
		},
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
