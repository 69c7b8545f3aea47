package common

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/sdk/log"
)

// Log writes to the default slog handler until InitLogger replaces it.
var Log = slog.Default()

// InitLogger points Log at the OTLP collector. Local environments also get debug output on stdout.
// The returned function flushes pending records.
func InitLogger(serviceName, serviceVersion, serviceEnvironment, exporterEndpoint string) (func(ctx context.Context) error, error) {
	res, err := serviceResource(serviceName, serviceVersion, serviceEnvironment)
	if err != nil {
		return nil, err
	}

	exporter, err := otlploggrpc.New(context.Background(),
		otlploggrpc.WithEndpoint(exporterEndpoint),
		otlploggrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("failed to otlploggrpc.New: %w", err)
	}

	provider := log.NewLoggerProvider(
		log.WithProcessor(log.NewBatchProcessor(exporter)),
		log.WithResource(res),
	)

	var handler slog.Handler = otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
	if IsLocalEnvironment(serviceEnvironment) {
		handler = slogmulti.Fanout(handler,
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	Log = slog.New(handler)

	return provider.Shutdown, nil
}

// IsLocalEnvironment reports whether logs should also be written to stdout.
func IsLocalEnvironment(serviceEnvironment string) bool {
	return serviceEnvironment == "lcl" || serviceEnvironment == "dk"
}
