// Package observability installs the OpenTelemetry tracer and meter providers
// and exposes the Prometheus scrape handler mounted by the HTTP server.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	stdoutmetric "go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/config"
)

const (
	shutdownTimeout    = 10 * time.Second
	exporterDialWait   = 10 * time.Second
	stdoutMetricPeriod = 30 * time.Second
)

// Manager owns the tracer and meter providers for one process.
type Manager struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry
	metricsHandler http.Handler
	cfg            config.Observability
}

// Module exposes the observability manager to Fx.
var Module = fx.Provide(NewManager)

// NewManager builds providers from configuration. They become the global otel
// providers when the application starts and are flushed on stop.
func NewManager(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Manager, error) {
	ctx := context.Background()
	obs := cfg.Observability

	resource, err := newResource(ctx, obs)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	mgr := &Manager{cfg: obs}

	if obs.EnableTracing {
		exporter, err := traceExporter(ctx, obs)
		if err != nil {
			return nil, err
		}
		if exporter == nil {
			logger.Warn("unsupported trace exporter, tracing disabled", zap.String("exporter", obs.TraceExporter))
		} else {
			mgr.tracerProvider = sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exporter),
				sdktrace.WithResource(resource),
			)
		}
	}

	if obs.EnableMetrics {
		if err := mgr.initMetrics(resource, logger); err != nil {
			return nil, err
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			mgr.install()
			logger.Info("observability ready",
				zap.Bool("tracing", mgr.TracingEnabled()),
				zap.Bool("metrics", mgr.MetricsEnabled()),
			)
			return nil
		},
		OnStop: mgr.Shutdown,
	})

	return mgr, nil
}

func newResource(ctx context.Context, obs config.Observability) (*sdkresource.Resource, error) {
	return sdkresource.New(ctx,
		sdkresource.WithFromEnv(),
		sdkresource.WithHost(),
		sdkresource.WithAttributes(
			semconv.ServiceName(obs.ServiceName),
			semconv.ServiceVersion(buildVersion()),
			attribute.String("service.environment", obs.Environment),
		),
	)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// traceExporter returns nil without error for an unknown exporter name.
func traceExporter(ctx context.Context, obs config.Observability) (sdktrace.SpanExporter, error) {
	switch obs.TraceExporter {
	case "", "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		if obs.TraceEndpoint == "" {
			return nil, fmt.Errorf("OBS_OTLP_ENDPOINT must be set for otlp exporter")
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(obs.TraceEndpoint)}
		if obs.TraceInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		dialCtx, cancel := context.WithTimeout(ctx, exporterDialWait)
		defer cancel()
		return otlptracegrpc.New(dialCtx, opts...)
	default:
		return nil, nil
	}
}

// initMetrics uses a private registry so repeated managers in one process
// (tests, CLI subcommands) never collide on collector registration.
func (m *Manager) initMetrics(resource *sdkresource.Resource, logger *zap.Logger) error {
	switch m.cfg.MetricsExporter {
	case "prometheus":
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return fmt.Errorf("prometheus exporter: %w", err)
		}
		m.registry = registry
		m.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(resource),
		)
		m.metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint(), stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return fmt.Errorf("stdout metric exporter: %w", err)
		}
		m.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(stdoutMetricPeriod))),
			sdkmetric.WithResource(resource),
		)
	default:
		logger.Warn("unsupported metrics exporter, metrics disabled", zap.String("exporter", m.cfg.MetricsExporter))
	}
	return nil
}

func (m *Manager) install() {
	if m.tracerProvider != nil {
		otel.SetTracerProvider(m.tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	if m.meterProvider != nil {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// Shutdown flushes pending spans and metrics.
func (m *Manager) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var err error
	if m.tracerProvider != nil {
		err = errors.Join(err, m.tracerProvider.Shutdown(ctx))
	}
	if m.meterProvider != nil {
		err = errors.Join(err, m.meterProvider.Shutdown(ctx))
	}
	return err
}

// TracingEnabled reports whether spans are exported.
func (m *Manager) TracingEnabled() bool {
	return m.tracerProvider != nil
}

// MetricsEnabled reports whether a meter provider is installed.
func (m *Manager) MetricsEnabled() bool {
	return m.meterProvider != nil
}

// MeterProvider returns the configured provider, or nil when metrics are off.
func (m *Manager) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// MetricsHandler serves the Prometheus scrape endpoint, or nil for other exporters.
func (m *Manager) MetricsHandler() http.Handler {
	return m.metricsHandler
}

// PrometheusPath returns the configured metrics endpoint path.
func (m *Manager) PrometheusPath() string {
	return m.cfg.PrometheusPath
}
