package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/bulwark/bulkhead"
	"github.com/kbukum/bulwark/config"
	"github.com/kbukum/bulwark/logger"
)

// BulkheadMeterName is the instrumentation scope of bulkhead instruments.
const BulkheadMeterName = "github.com/kbukum/bulwark/bulkhead"

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (development, staging, production).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns development defaults for serviceName.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfigFor(config.ServiceConfig{Name: serviceName})
}

// MeterConfigFor derives the meter settings from the host's service config.
// Only development exports over plain HTTP. Debug services export every
// five seconds so bulkhead gauges track short bursts.
func MeterConfigFor(svc config.ServiceConfig) MeterConfig {
	name, version, env := serviceIdentity(svc)
	interval := 15 * time.Second
	if svc.Debug {
		interval = 5 * time.Second
	}
	return MeterConfig{
		ServiceName:    name,
		ServiceVersion: version,
		Environment:    env,
		Endpoint:       "localhost:4318",
		Insecure:       env == "development",
		Interval:       interval,
	}
}

// serviceIdentity fills the resource attributes a ServiceConfig may leave empty.
func serviceIdentity(svc config.ServiceConfig) (name, version, env string) {
	name, version, env = svc.Name, svc.Version, svc.Environment
	if version == "" {
		version = "1.0.0"
	}
	if env == "" {
		env = "development"
	}
	return name, version, env
}

// InitMeter initializes the OpenTelemetry meter provider with an OTLP
// exporter and installs it globally.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, cfg *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}

	mp, err := newMeterProvider(sdkmetric.NewPeriodicReader(exporter, readerOpts...), cfg)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		"interval", cfg.Interval.String(),
	))

	return mp, nil
}

// NewBulkheadMeter builds a meter provider on reader, tagged with cfg's
// service resource, and binds instruments for every bulkhead in reg.
// The provider is not installed globally. Close the instruments before
// shutting the provider down.
func NewBulkheadMeter(reader sdkmetric.Reader, cfg *MeterConfig, reg *bulkhead.Registry) (*sdkmetric.MeterProvider, *BulkheadInstruments, error) {
	mp, err := newMeterProvider(reader, cfg)
	if err != nil {
		return nil, nil, err
	}
	inst, err := NewBulkheadInstruments(mp.Meter(BulkheadMeterName), reg)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, nil, err
	}
	return mp, inst, nil
}

func newMeterProvider(reader sdkmetric.Reader, cfg *MeterConfig) (*sdkmetric.MeterProvider, error) {
	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}
