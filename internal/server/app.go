// Package server builds the application graph and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/summary-ingestor/internal/api"
	"github.com/JakeFAU/summary-ingestor/internal/clock/system"
	"github.com/JakeFAU/summary-ingestor/internal/config"
	"github.com/JakeFAU/summary-ingestor/internal/id/uuid"
	"github.com/JakeFAU/summary-ingestor/internal/ingest"
	"github.com/JakeFAU/summary-ingestor/internal/metrics"
	"github.com/JakeFAU/summary-ingestor/internal/policy/ratelimit"
	"github.com/JakeFAU/summary-ingestor/internal/publisher"
	gcppublisher "github.com/JakeFAU/summary-ingestor/internal/publisher/pubsub"
	"github.com/JakeFAU/summary-ingestor/internal/storage/blob"
	gcsstorage "github.com/JakeFAU/summary-ingestor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/summary-ingestor/internal/storage/local"
	memorystorage "github.com/JakeFAU/summary-ingestor/internal/storage/memory"
	pgstore "github.com/JakeFAU/summary-ingestor/internal/storage/postgres"
	"github.com/JakeFAU/summary-ingestor/internal/telemetry"
)

type summaryStore interface {
	ingest.DocumentWriter
	ingest.DocumentLister
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	httpClient *http.Client
	clock      ingest.Clock
	version    string
}

// WithHTTPClient sets the client used for outbound fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(o *buildOptions) { o.httpClient = c }
}

// WithClock sets the clock used for preset date windows and timestamps.
func WithClock(c ingest.Clock) Option {
	return func(o *buildOptions) { o.clock = c }
}

// WithVersion records the build version on telemetry resources.
func WithVersion(v string) Option {
	return func(o *buildOptions) { o.version = v }
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	envelope  *api.Envelope
	urlRunner *ingest.URLRunner
	preset    ingest.ForcedPreset
	supreme   *ingest.SupremeSearch
	source    ingest.PresetSource
	store     summaryStore
	writer    ingest.DocumentWriter
	ready     api.ReadinessCheck

	telemetry    *telemetry.Providers
	storage      *storage.Client
	pgStore      *pgstore.SummaryStore
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	closeOnce    sync.Once
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := buildOptions{clock: system.New(), version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	type sanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		Environment    string `json:"environment,omitempty"`
		StorageBackend string `json:"storage_backend"`
		PubSubTopic    string `json:"pubsub_topic,omitempty"`
	}
	logger.Info("building application dependencies", zap.Any("config", sanitizedConfig{
		ServerPort:     cfg.Server.Port,
		Environment:    cfg.App.Environment,
		StorageBackend: cfg.Storage.Backend,
		PubSubTopic:    cfg.PubSub.TopicName,
	}))

	app := &App{cfg: cfg, logger: logger}

	providers, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     o.version,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.telemetry = providers

	if err := app.setupStorage(ctx, o.clock); err != nil {
		app.abortBuild(ctx)
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.abortBuild(ctx)
		return nil, err
	}

	fetcher := ingest.NewFetcher(ingest.FetcherConfig{
		Timeout:   cfg.FetchTimeout(),
		MaxBytes:  cfg.Fetch.MaxResponseBytes,
		UserAgent: cfg.Fetch.UserAgent,
	}, fetchClient(cfg.Fetch, o.httpClient))
	app.urlRunner = ingest.NewURLRunner(fetcher, ingest.URLRunnerConfig{
		MaxURLLength:   cfg.Fetch.MaxURLLength,
		MaxTextChars:   cfg.Fetch.MaxTextChars,
		BlockedDomains: cfg.Fetch.BlockedDomains,
	})
	supreme := ingest.NewSupremeSearch(fetcher, fieldResolver(cfg.Preset.Fields), o.clock, ingest.SupremeConfig{
		SearchURL:    cfg.Preset.SearchURL,
		Provider:     cfg.Preset.Provider,
		Preset:       cfg.Preset.Name,
		MinPages:     cfg.Preset.MinPages,
		FreeText:     cfg.Preset.FreeText,
		SubmitLabel:  cfg.Preset.SubmitLabel,
		Location:     cfg.PresetLocation(),
		MaxTextChars: cfg.Fetch.MaxTextChars,
	})
	app.supreme = supreme
	app.source = supreme.Source()
	metrics.TrackSite(app.source.URL)
	app.preset = ingest.ForcedPreset{
		Next:      supreme,
		Enabled:   cfg.ForceFlagsEnabled(),
		SourceURL: app.source.URL,
	}
	if app.preset.Enabled {
		logger.Warn("preset force flags enabled", zap.String("environment", cfg.App.Environment))
	}

	app.envelope = api.NewEnvelope(app.writer, logger.Named("envelope"))
	app.apiServer = api.NewServer(api.Options{
		Writer:         app.writer,
		Lister:         app.store,
		URLRunner:      app.urlRunner,
		Preset:         app.preset,
		PresetSource:   app.source,
		RequestTimeout: cfg.RequestTimeout(),
		Ready:          app.ready,
	}, logger.Named("api"))

	return app, nil
}

func (a *App) setupStorage(ctx context.Context, clock ingest.Clock) error {
	ids := uuid.New()
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewSummaryStore(ctx, pgstore.StoreConfig{
			DSN:             a.cfg.Database.DSN,
			Table:           a.cfg.Database.Table,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.Database.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("summary store init failed: %w", err)
		}
		a.pgStore = store
		if a.cfg.Database.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("summary schema init failed: %w", err)
			}
		}
		a.store = store
		a.ready = store.Ping
		a.logger.Info("using postgres storage backend", zap.String("table", a.cfg.Database.Table))
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		objects, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		store, err := blob.NewSummaryStore(objects, a.cfg.Storage.Prefix, ids, clock)
		if err != nil {
			return fmt.Errorf("gcs summary store init failed: %w", err)
		}
		a.store = store
		a.ready = objects.Ping
		a.logger.Info("using GCS storage backend",
			zap.String("bucket", a.cfg.Storage.GCSBucket),
			zap.String("prefix", a.cfg.Storage.Prefix),
		)
	case config.BackendLocal:
		objects, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		store, err := blob.NewSummaryStore(objects, a.cfg.Storage.Prefix, ids, clock)
		if err != nil {
			return fmt.Errorf("local summary store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
	default:
		a.store = memorystorage.NewSummaryStore(ids, clock)
		a.logger.Info("using in-memory storage backend")
	}
	a.writer = a.store
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, summary notifications disabled")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	pub, err := gcppublisher.NewForTopic(client, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.writer = publisher.NewNotifyingWriter(a.store, pub, a.cfg.PubSub.TopicName, a.logger.Named("publisher"))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// fetchClient layers the per-host limiter over the injected client, or over
// the default fetch transport when none is injected.
func fetchClient(cfg config.FetchConfig, injected *http.Client) *http.Client {
	if cfg.HostRPS <= 0 {
		return injected
	}
	var c http.Client
	var base http.RoundTripper = ingest.NewHTTPTransport()
	if injected != nil {
		c = *injected
		if c.Transport != nil {
			base = c.Transport
		}
	}
	c.Transport = ratelimit.NewTransport(base, ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HostRPS,
		DefaultBurst: cfg.HostBurst,
	}))
	return &c
}

func fieldResolver(f config.PresetFields) ingest.StaticFieldResolver {
	r := ingest.DefaultFieldResolver()
	overrides := map[ingest.FormField][]string{
		ingest.FieldDateFrom: f.DateFrom,
		ingest.FieldDateTo:   f.DateTo,
		ingest.FieldMinPages: f.MinPages,
		ingest.FieldFreeText: f.FreeText,
		ingest.FieldSubmit:   f.Submit,
	}
	for field, names := range overrides {
		if len(names) > 0 {
			r[field] = names
		}
	}
	return r
}

// Handler returns the HTTP handler serving all routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// IngestURL runs the URL endpoint in-process and returns its response.
func (a *App) IngestURL(ctx context.Context, rawURL string) (int, api.IngestResponse) {
	return a.envelope.Execute(ctx, api.URLEndpoint(a.urlRunner), map[string]any{"url": rawURL}, nil)
}

// RunPreset runs the preset endpoint in-process and returns its response.
func (a *App) RunPreset(ctx context.Context) (int, api.IngestResponse) {
	return a.envelope.Execute(ctx, api.PresetEndpoint(a.preset, a.source), map[string]any{}, nil)
}

// RunPresetAt runs the preset as if the current time were asOf, searching the
// week that ends on asOf's date in the preset timezone.
func (a *App) RunPresetAt(ctx context.Context, asOf time.Time) (int, api.IngestResponse) {
	preset := a.preset
	preset.Next = a.supreme.WithClock(system.At(asOf))
	return a.envelope.Execute(ctx, api.PresetEndpoint(preset, a.source), map[string]any{}, nil)
}

// ListLatest returns the newest stored documents.
func (a *App) ListLatest(ctx context.Context, limit int) ([]ingest.SummaryListItem, error) {
	items, err := a.store.ListLatest(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list latest summaries: %w", err)
	}
	return items, nil
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases clients and flushes telemetry. It is safe to call more
// than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return nil
}

// abortBuild releases whatever Build created before it failed.
func (a *App) abortBuild(ctx context.Context) {
	a.closeInfrastructure()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}
