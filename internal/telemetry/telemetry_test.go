package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitInstallsProvidersOnce(t *testing.T) {
	ctx := context.Background()

	first, err := Init(ctx, Config{ServiceName: "summary-ingestor-test", Version: "dev"})
	require.NoError(t, err)
	require.NotNil(t, first.Tracer)
	require.NotNil(t, first.Meter)
	require.Same(t, first.Tracer, otel.GetTracerProvider())

	second, err := Init(ctx, Config{ServiceName: "ignored"})
	require.NoError(t, err)
	require.Same(t, first, second)

	_, span := otel.Tracer("test").Start(ctx, "op")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, first.Shutdown(ctx))
	require.NoError(t, second.Shutdown(ctx))
}

func TestShutdownNilProviders(t *testing.T) {
	var p *Providers
	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, (&Providers{}).Shutdown(context.Background()))
}
