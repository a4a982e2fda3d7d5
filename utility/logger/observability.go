package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"cloud.google.com/go/errorreporting"
	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var tp *sdktrace.TracerProvider

// Close flushes any buffered traces or error reports.
func Close() {
	if errorClient != nil {
		errorClient.Close()
	}
	if tp != nil {
		if err := tp.Shutdown(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down tracer provider: %v\n", err)
		}
	}
}

func initErrorReporting(ctx context.Context, projectID, service string) {
	var err error
	errorClient, err = errorreporting.NewClient(ctx, projectID, errorreporting.Config{
		ServiceName: service,
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "Could not log error to Error Reporting: %v\n", err)
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create errorreporting client: %v\n", err)
	}
}

func initTracing(ctx context.Context, projectID, service string) {
	exporter, err := texporter.New(texporter.WithProjectID(projectID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create Cloud Trace exporter: %v\n", err)
		return
	}

	res, err := resource.New(ctx,
		resource.WithDetectors(gcp.NewDetector()),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceNameKey.String(service)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to detect resource attributes: %v\n", err)
		res = resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(service))
	}

	// Batch runs are long; sample a small share of per-record spans.
	tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
}

func severity(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARNING"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// cloudHandlerOptions renames the default slog keys to the ones Cloud Logging
// parses from structured JSON payloads.
func cloudHandlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				return slog.String("severity", severity(a.Value.Any().(slog.Level)))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: a.Value}
			case slog.SourceKey:
				source := a.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)

				return slog.Attr{Key: "sourceLocation", Value: slog.AnyValue(source)}
			}

			return a
		},
	}
}
