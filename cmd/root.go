// Package cmd defines and implements the CLI commands for the summaries executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/summary-ingestor/internal/api"
	"github.com/JakeFAU/summary-ingestor/internal/config"
	"github.com/JakeFAU/summary-ingestor/internal/ingest"
	"github.com/JakeFAU/summary-ingestor/internal/logging"
	"github.com/JakeFAU/summary-ingestor/internal/server"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. Tests inject a
// fake through newApp.
type App interface {
	Run(ctx context.Context) error
	IngestURL(ctx context.Context, rawURL string) (int, api.IngestResponse)
	RunPreset(ctx context.Context) (int, api.IngestResponse)
	RunPresetAt(ctx context.Context, asOf time.Time) (int, api.IngestResponse)
	ListLatest(ctx context.Context, limit int) ([]ingest.SummaryListItem, error)
	Close(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     cfg.Telemetry.ServiceName,
		Version:     Version,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	app, err := server.Build(ctx, cfg, logger, server.WithVersion(Version))
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}
	return app, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "summaries",
		Short:         "Ingests web pages and preset legal searches into summary documents.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd(), newIngestCmd(), newPresetCmd(), newListCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		os.Exit(1)
	}
}

// runWithApp hands the App stored by PersistentPreRunE to fn and closes it
// afterwards, whether or not fn fails.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, app App) error) (err error) {
	appInstance, ok := cmd.Context().Value(appKey).(App)
	if !ok || appInstance == nil {
		return errors.New("application not initialized")
	}
	defer func() {
		if closeErr := appInstance.Close(context.WithoutCancel(cmd.Context())); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close application: %w", closeErr))
		}
	}()
	return fn(cmd.Context(), appInstance)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
