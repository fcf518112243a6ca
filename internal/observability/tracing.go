// Package observability wires OpenTelemetry tracing into the service.
//
// Traces are exported over OTLP HTTP to a local collector; the collector
// handles authentication and forwarding, so no vendor credentials live in
// the application. An empty endpoint disables tracing entirely.
package observability

import (
	"context"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/embedchat/embedchat/internal/log"
)

// ServiceName tags exported spans.
const ServiceName = "embedchat"

// Setup registers an OTLP HTTP exporter with genkit's TracerProvider, so
// pipeline spans (embedding, generation) and our own spans share one trace
// tree. Returns a shutdown function that flushes pending spans.
//
// An empty endpoint, or an exporter that fails to start, disables tracing
// without failing startup.
func Setup(ctx context.Context, endpoint string, logger log.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if logger == nil {
		logger = log.NewNop()
	}
	if endpoint == "" {
		return noop, nil
	}

	// Genkit's TracerProvider reads the service name from the environment.
	_ = os.Setenv("OTEL_SERVICE_NAME", ServiceName)

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("tracing exporter unavailable, tracing disabled", "endpoint", endpoint, "error", err)
		return noop, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)
	logger.Info("tracing enabled", "endpoint", endpoint, "service", ServiceName)

	return tracing.TracerProvider().Shutdown, nil
}
