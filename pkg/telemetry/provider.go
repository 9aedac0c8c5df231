package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Provider exposes the wired tracer/meter providers and, when Prometheus is
// enabled, the /metrics handler a host HTTP server should mount.
type Provider struct {
	tracerProvider    trace.TracerProvider
	meterProvider     metric.MeterProvider
	prometheusHandler http.Handler
	shutdownFuncs     []func(context.Context) error
}

// TracerProvider returns the wired tracer provider, or a no-op one.
func (p *Provider) TracerProvider() trace.TracerProvider { return p.tracerProvider }

// MeterProvider returns the wired meter provider, or a no-op one.
func (p *Provider) MeterProvider() metric.MeterProvider { return p.meterProvider }

// PrometheusHandler returns the /metrics handler, or nil if Prometheus
// wasn't enabled in Config.
func (p *Provider) PrometheusHandler() http.Handler { return p.prometheusHandler }

// Shutdown flushes and closes every exporter/reader the Provider created,
// collecting (not short-circuiting on) individual failures so one exporter
// refusing to flush doesn't leave the others dangling.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Builder constructs a Provider from Config, choosing real exporters only
// for the signals the config actually enables.
type Builder struct {
	config Config
}

// NewBuilder creates a Builder for cfg.
func NewBuilder(cfg Config) *Builder {
	return &Builder{config: cfg}
}

// Build validates cfg and wires up the requested backends.
func (b *Builder) Build(ctx context.Context) (*Provider, error) {
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	res, err := b.createResource(ctx)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  noop.NewMeterProvider(),
	}

	var metricReaders []sdkmetric.Reader

	if b.config.EnablePrometheusMetricsPath {
		reader, handler, err := newPrometheusReader()
		if err != nil {
			return nil, err
		}
		metricReaders = append(metricReaders, reader)
		p.prometheusHandler = handler
	}

	if b.config.OTLPEndpoint != "" && b.config.MetricsEnabled {
		exporter, err := b.newOTLPMetricExporter(ctx)
		if err != nil {
			return nil, err
		}
		reader := sdkmetric.NewPeriodicReader(exporter)
		metricReaders = append(metricReaders, reader)
		p.shutdownFuncs = append(p.shutdownFuncs, reader.Shutdown)
	}

	if len(metricReaders) > 0 {
		opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
		for _, r := range metricReaders {
			opts = append(opts, sdkmetric.WithReader(r))
		}
		mp := sdkmetric.NewMeterProvider(opts...)
		p.meterProvider = mp
		p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)
	}

	if b.config.OTLPEndpoint != "" && b.config.TracingEnabled {
		exporter, err := b.newOTLPTraceExporter(ctx)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(b.samplingRate())),
		)
		p.tracerProvider = tp
		p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)
	}

	return p, nil
}

func (b *Builder) samplingRate() float64 {
	if b.config.SamplingRate <= 0 {
		return 1.0
	}
	return b.config.SamplingRate
}

func (b *Builder) createResource(ctx context.Context) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(b.config.ServiceName),
			semconv.ServiceVersion(b.config.ServiceVersion),
		),
	)
}

func (b *Builder) newOTLPMetricExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(b.config.OTLPEndpoint)}
	if b.config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(b.config.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(b.config.Headers))
	}
	return otlpmetrichttp.New(ctx, opts...)
}

func (b *Builder) newOTLPTraceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(b.config.OTLPEndpoint)}
	if b.config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(b.config.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(b.config.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}

func newPrometheusReader() (sdkmetric.Reader, http.Handler, error) {
	reader, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}
	return reader, promHandler(), nil
}
