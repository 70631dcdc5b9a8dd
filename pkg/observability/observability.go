// Package observability wires structured logging, distributed tracing
// and anchoring metrics. Tracing and metrics export over OTLP gRPC; both
// are optional and the Metrics type is nil-safe so call sites never
// guard on configuration.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the telemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // e.g. "localhost:4317"
	SampleRate     float64 // 0.0 to 1.0; default 1.0
	Enabled        bool
	Insecure       bool // dev only
}

// NewLogger builds the process-wide slog JSON logger.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Provider manages the OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	metrics        *Metrics
}

// New creates the telemetry provider. With Enabled=false it returns a
// provider whose tracer is a no-op and whose metrics are nil.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = &Config{ServiceName: "anchord", SampleRate: 1.0}
	}
	p := &Provider{config: config}
	if !config.Enabled {
		p.tracer = otel.Tracer(config.ServiceName)
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	sampleRate := config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRate)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	p.tracer = p.tracerProvider.Tracer(config.ServiceName)

	p.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(p.meterProvider)

	m, err := newMetrics(p.meterProvider.Meter(config.ServiceName))
	if err != nil {
		return nil, err
	}
	p.metrics = m

	return p, nil
}

// Tracer returns the service tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Metrics returns the anchoring metrics; nil when telemetry is disabled,
// which every Metrics method tolerates.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer provider: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter provider: %w", err)
		}
	}
	return nil
}

// Metrics holds the anchoring counters.
type Metrics struct {
	uploads        metric.Int64Counter
	anchorAttempts metric.Int64Counter
	verifyVerdicts metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	uploads, err := meter.Int64Counter("evidence.uploads",
		metric.WithDescription("Accepted evidence uploads"))
	if err != nil {
		return nil, fmt.Errorf("create uploads counter: %w", err)
	}
	attempts, err := meter.Int64Counter("evidence.anchor.attempts",
		metric.WithDescription("Ledger anchoring attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create anchor counter: %w", err)
	}
	verdicts, err := meter.Int64Counter("evidence.verify.verdicts",
		metric.WithDescription("Verification verdicts by kind"))
	if err != nil {
		return nil, fmt.Errorf("create verdict counter: %w", err)
	}
	return &Metrics{uploads: uploads, anchorAttempts: attempts, verifyVerdicts: verdicts}, nil
}

// UploadAccepted counts one accepted upload.
func (m *Metrics) UploadAccepted(ctx context.Context) {
	if m == nil {
		return
	}
	m.uploads.Add(ctx, 1)
}

// AnchorAttempt counts one anchoring attempt with its outcome
// ("confirmed" or "failed").
func (m *Metrics) AnchorAttempt(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.anchorAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// VerifyVerdict counts one verification verdict.
func (m *Metrics) VerifyVerdict(ctx context.Context, verdict string) {
	if m == nil {
		return
	}
	m.verifyVerdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}
