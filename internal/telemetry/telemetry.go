// Package telemetry manages the OpenTelemetry meter provider for membank.
// Builds emit counters and histograms (builds, invocations, tokens); this
// package ships them to an OTLP collector when one is configured.
//
// Telemetry failures never fail a build; the provider degrades to no-op.
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Config controls metric export.
type Config struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`

	// Endpoint is the OTLP collector address, host:port.
	Endpoint string `koanf:"endpoint"`

	// Protocol selects the exporter transport: "grpc" or "http".
	Protocol string `koanf:"protocol"`

	Insecure bool `koanf:"insecure"`

	// ExportInterval is how often accumulated metrics are pushed.
	ExportInterval time.Duration `koanf:"export_interval"`
}

// NewDefaultConfig returns telemetry defaults: disabled, local collector.
func NewDefaultConfig() Config {
	return Config{
		ServiceName:    "membank",
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ExportInterval: 30 * time.Second,
	}
}

// Validate checks config consistency.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry enabled but no endpoint configured")
	}
	if c.Protocol != "grpc" && c.Protocol != "http" {
		return fmt.Errorf("invalid telemetry protocol %q: must be grpc or http", c.Protocol)
	}
	return nil
}

// Telemetry owns the meter provider lifecycle.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
	degraded      atomic.Bool
	reason        atomic.Value
}

// New initializes the global meter provider. When disabled, or when the
// exporter cannot be built, the returned instance is a working no-op and
// Degraded reports why.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{}
	if !cfg.Enabled {
		return t, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		t.setDegraded("resource creation failed: %v", err)
		return t, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		t.setDegraded("exporter creation failed: %v", err)
		return t, nil
	}

	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(cfg.ExportInterval))),
	)
	otel.SetMeterProvider(t.meterProvider)
	return t, nil
}

func newExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

// Degraded reports whether telemetry fell back to no-op, and why.
func (t *Telemetry) Degraded() (bool, string) {
	if !t.degraded.Load() {
		return false, ""
	}
	reason, _ := t.reason.Load().(string)
	return true, reason
}

func (t *Telemetry) setDegraded(format string, args ...any) {
	t.degraded.Store(true)
	t.reason.Store(fmt.Sprintf(format, args...))
}

// Shutdown flushes pending metrics. Safe on a no-op instance.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.meterProvider == nil {
		return nil
	}
	return t.meterProvider.Shutdown(ctx)
}
