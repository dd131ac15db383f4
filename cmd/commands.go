package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/summary-ingestor/internal/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(ctx context.Context, app App) error {
				if err := app.Run(ctx); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			})
		},
	}
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <url>",
		Short: "Fetches a URL, stores its text and prints the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, app App) error {
				status, resp := app.IngestURL(ctx, args[0])
				return reportIngest(cmd, status, resp)
			})
		},
	}
}

func newPresetCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "Runs the preset legal search and stores its text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(ctx context.Context, app App) error {
				if asOf == "" {
					status, resp := app.RunPreset(ctx)
					return reportIngest(cmd, status, resp)
				}
				day, err := time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
				// Noon UTC keeps the calendar date in any preset timezone.
				status, resp := app.RunPresetAt(ctx, day.Add(12*time.Hour))
				return reportIngest(cmd, status, resp)
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "search the week ending on this date (YYYY-MM-DD) instead of today")
	return cmd
}

func newListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Prints the most recent summary documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(ctx context.Context, app App) error {
				n, err := api.ParseListLimit([]string{strconv.Itoa(limit)})
				if err != nil {
					return err
				}
				items, err := app.ListLatest(ctx, n)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", api.DefaultListLimit, "number of documents to print (1-50)")
	return cmd
}

func reportIngest(cmd *cobra.Command, status int, resp api.IngestResponse) error {
	if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	if status != http.StatusOK {
		return errors.New(resp.Error)
	}
	return nil
}
