package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	metric2 "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// instrumentationName names the meter and the log bridge scope.
const instrumentationName = "github.com/ogero/mmdb"

const metricsExportInterval = 30 * time.Second

var (
	// CacheGetsTotal counts cache lookups, by key prefix and hit/miss result.
	CacheGetsTotal metric2.Int64Counter
	// PosterDownloadsTotal counts poster downloads, by resolution and result.
	PosterDownloadsTotal metric2.Int64Counter
	// CatalogRequestsTotal counts catalog requests, by operation and result.
	CatalogRequestsTotal metric2.Int64Counter
)

// The global meter delegates to the provider registered by InitInstrumentation,
// until then every counter is a no-op.
func init() {
	if err := createCounters(otel.Meter(instrumentationName)); err != nil {
		panic(err)
	}
}

// InitInstrumentation registers OTLP metric and trace providers and the W3C propagators.
// The returned function flushes and stops both providers.
func InitInstrumentation(serviceName, serviceVersion, serviceEnvironment, exporterEndpoint string) (func(ctx context.Context), error) {
	ctx := context.Background()

	res, err := serviceResource(serviceName, serviceVersion, serviceEnvironment)
	if err != nil {
		return nil, err
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(exporterEndpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to otlpmetricgrpc.New: %w", err)
	}
	meterProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(metricsExportInterval))),
	)

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(exporterEndpoint))
	if err != nil {
		_ = meterProvider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to otlptracegrpc.New: %w", err)
	}
	tracerProvider := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(res),
	)

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) {
		if err := errors.Join(meterProvider.Shutdown(ctx), tracerProvider.Shutdown(ctx)); err != nil {
			Log.WarnContext(ctx, "Failed to shutdown instrumentation", "err", err)
		}
	}, nil
}

// serviceResource describes this process to the collector.
func serviceResource(serviceName, serviceVersion, serviceEnvironment string) (*resource.Resource, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			semconv.DeploymentEnvironmentName(serviceEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resource.Merge: %w", err)
	}

	return res, nil
}

func createCounters(meter metric2.Meter) error {
	counters := []struct {
		counter *metric2.Int64Counter
		name    string
	}{
		{&CacheGetsTotal, "cache_gets_total"},
		{&PosterDownloadsTotal, "poster_downloads_total"},
		{&CatalogRequestsTotal, "catalog_requests_total"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
		*c.counter = counter
	}

	return nil
}
