// Package otelx installs the global tracer provider and propagator.
//
// Spans come from otelhttp on the site listener and on the stylesheet
// loader, from page handling, and from the S3 content source.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
)

// collectorDialTimeout bounds exporter setup; the collector is a local agent.
const collectorDialTimeout = 3 * time.Second

type Options struct {
	Enabled  bool
	Endpoint string // host:port of the OTLP gRPC collector
	Insecure bool
	Sample   float64 // root span ratio, children follow their parent

	Service   string
	Component string
	Version   string
}

func (o Options) serviceName() string {
	if o.Component == "" {
		return o.Service
	}
	return o.Service + "." + o.Component
}

// userAgent identifies this exporter to the collector.
func (o Options) userAgent() string {
	ua := o.Service
	if o.Component != "" {
		ua += "-" + o.Component
	}
	if o.Version != "" {
		ua += "/" + o.Version
	}
	return ua + " otlptracegrpc"
}

func propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Init sets the global provider and returns its shutdown. When disabled an
// unexported provider still records span contexts so trace ids propagate
// to the legacy origin and into response headers.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagator())
	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(o.userAgent())),
	}
	if o.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	dialCtx, cancel := context.WithTimeout(ctx, collectorDialTimeout)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx, exporterOpts...)
	if err != nil {
		return nil, err
	}

	// partial resources are still usable, detector errors are not fatal
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.serviceName()),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.Sample))),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
