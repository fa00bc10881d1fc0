// Package telemetry sets up OpenTelemetry tracing for the daemon.
package telemetry

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/throw-if-null/easel/internal/config"
)

const ServiceName = "easeld"

type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	Insecure       bool
}

// FromConfig maps the [telemetry] section onto a Config for this service.
func FromConfig(c config.TelemetryConfig, version string) Config {
	return Config{
		Enabled:        c.Enabled,
		ServiceName:    ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   c.OTLPEndpoint,
		Insecure:       c.Insecure,
	}
}

func noop(context.Context) error { return nil }

// Init installs a global TracerProvider exporting over OTLP/HTTP and returns
// its shutdown func. When tracing is disabled the global no-op provider is
// left in place and shutdown does nothing.
func Init(ctx context.Context, cfg Config, log logrus.FieldLogger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return noop, nil
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("service name required")
	}

	endpoint, insecure, err := parseEndpoint(cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure || insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	tp, err := newProvider(sdktrace.NewBatchSpanProcessor(exporter), cfg)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, err
	}

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.WithError(err).Warn("otel export")
	}))
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(tp)
	log.WithField("endpoint", endpoint).Info("tracing enabled")

	return tp.Shutdown, nil
}

// parseEndpoint accepts either host:port or a URL. An http:// URL implies
// an insecure exporter.
func parseEndpoint(ep string) (host string, insecure bool, err error) {
	ep = strings.TrimSpace(ep)
	if ep == "" {
		return "127.0.0.1:4318", true, nil
	}
	if !strings.Contains(ep, "://") {
		return ep, false, nil
	}
	u, err := url.Parse(ep)
	if err != nil {
		return "", false, err
	}
	if u.Host == "" {
		return "", false, errors.New("otlp endpoint has no host: " + ep)
	}
	return u.Host, u.Scheme == "http", nil
}

func newProvider(sp sdktrace.SpanProcessor, cfg Config) (*sdktrace.TracerProvider, error) {
	res, err := sdkresource.New(context.Background(), sdkresource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sp),
	), nil
}
