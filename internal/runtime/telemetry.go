package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/errandhq/errand/config"
)

// Telemetry owns the process-global tracer and meter providers plus the
// Prometheus scrape endpoint. Instrumented code reaches the providers
// through otel.Tracer and otel.Meter; the handle exists only for Shutdown.
type Telemetry struct {
	tp      *sdktrace.TracerProvider
	mp      *sdkmetric.MeterProvider
	scrape  *http.Server
	logger  *log.Logger
	enabled bool
}

// SetupTelemetry installs the global OTel providers for one engine process.
// With telemetry disabled it returns an inert handle and the default no-op
// globals stay in place.
func SetupTelemetry(ctx context.Context, cfg config.TelemetryConfig, serviceName string) (*Telemetry, error) {
	t := &Telemetry{logger: log.New(os.Stdout, "[TELEMETRY] ", log.LstdFlags)}
	if !cfg.Enabled {
		return t, nil
	}
	t.enabled = true

	res := engineResource(serviceName)
	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	if err := t.installTracing(ctx, endpoint, res); err != nil {
		return nil, err
	}
	registry, err := t.installMetrics(ctx, endpoint, res)
	if err != nil {
		return nil, err
	}
	if cfg.MetricsPort > 0 {
		t.serveScrape(cfg.MetricsPort, registry)
	}
	return t, nil
}

// engineResource describes this process to the collector. The namespace
// groups every errand service under one umbrella in the backend.
func engineResource(serviceName string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		attribute.String("service.namespace", "errand"),
		attribute.String("engine.role", "orchestrator"),
	)
}

func (t *Telemetry) installTracing(ctx context.Context, endpoint string, res *resource.Resource) error {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithBlock()),
	)
	if err != nil {
		return fmt.Errorf("otlp trace exporter: %w", err)
	}
	t.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(t.tp)
	return nil
}

// installMetrics wires two readers: a Prometheus exporter backing the local
// scrape endpoint and a periodic OTLP push to the collector.
func (t *Telemetry) installMetrics(ctx context.Context, endpoint string, res *resource.Resource) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	scrapeExporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	pushExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithDialOption(grpc.WithBlock()),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	t.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(scrapeExporter),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(pushExporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(t.mp)
	return registry, nil
}

func (t *Telemetry) serveScrape(port int, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	t.scrape = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := t.scrape.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Printf("scrape endpoint: %v", err)
		}
	}()
}

// Shutdown flushes both providers and stops the scrape endpoint. Safe on an
// inert handle.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || !t.enabled {
		return nil
	}
	var errs []error
	if t.scrape != nil {
		if err := t.scrape.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scrape shutdown: %w", err))
		}
	}
	if t.tp != nil {
		if err := t.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
		}
	}
	if t.mp != nil {
		if err := t.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
