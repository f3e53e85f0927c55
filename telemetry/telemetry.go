package telemetry

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func GetOtelEnabled() bool {
	val := os.Getenv("OUTER_OTEL_ENABLED")
	if val == "" {
		return false
	}
	lower := strings.ToLower(val)
	return lower != "false" && lower != "0"
}

// GetTraceFilePath returns the file traces are written to; empty means
// stdout.
func GetTraceFilePath() string {
	return os.Getenv("OUTER_TRACE_FILE")
}

// InitTracer installs the global tracer provider for the store spans.
// Returns a shutdown function to flush on exit.
func InitTracer(serviceName string) (func(context.Context) error, error) {
	if !GetOtelEnabled() {
		return func(ctx context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if tracePath := GetTraceFilePath(); tracePath != "" {
		file, err := os.OpenFile(tracePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		opts = append(opts, stdouttrace.WithWriter(file))
	}

	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
