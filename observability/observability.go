package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexp "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tnop "go.opentelemetry.io/otel/trace/noop"
)

const (
	serviceName = "blockengine"
	// prefix of the metric names in Prometheus
	metricsNamespace = "be"
)

/*
Observability bundles the logger, metrics and tracing providers which are
passed to the components of the node.
*/
type Observability struct {
	log *slog.Logger
	mp  metric.MeterProvider
	tp  trace.TracerProvider
	pr  *prometheus.Registry

	shutdown []func(context.Context) error
}

/*
New creates observability with given exporters: metrics is "" (disabled) or
"prometheus", traces is "" (disabled) or "stdout".
*/
func New(metrics, traces, version string, log *slog.Logger) (*Observability, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("creating OTEL resource: %w", err)
	}

	o := &Observability{log: log}
	if o.mp, err = o.newMeterProvider(metrics, res); err != nil {
		return nil, err
	}
	if o.tp, err = o.newTracerProvider(traces, res); err != nil {
		return nil, errors.Join(err, o.Shutdown())
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return o, nil
}

func (o *Observability) newMeterProvider(exporter string, res *resource.Resource) (metric.MeterProvider, error) {
	switch exporter {
	case "":
		return noop.NewMeterProvider(), nil
	case "prometheus":
	default:
		return nil, fmt.Errorf("unsupported metrics exporter %q", exporter)
	}

	o.pr = prometheus.NewRegistry()
	if err := o.pr.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering Go collector: %w", err)
	}
	reader, err := promexp.New(promexp.WithRegisterer(o.pr), promexp.WithNamespace(metricsNamespace))
	if err != nil {
		return nil, fmt.Errorf("creating Prometheus exporter: %w", err)
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(reader)}
	for scope, buckets := range histogramBuckets {
		opts = append(opts, sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: scope[1], Scope: instrumentation.Scope{Name: scope[0]}},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: buckets}},
		)))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	o.shutdown = append(o.shutdown, mp.Shutdown)
	return mp, nil
}

// histogramBuckets overrides the default buckets of the histograms, keyed by {scope, instrument name}.
var histogramBuckets = map[[2]string][]float64{
	{"consensus", "block.exec.time"}: {0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
}

func (o *Observability) newTracerProvider(exporter string, res *resource.Resource) (trace.TracerProvider, error) {
	switch exporter {
	case "":
		return tnop.NewTracerProvider(), nil
	case "stdout":
		exp, err := stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithBatcher(exp))
		o.shutdown = append(o.shutdown, tp.Shutdown)
		return tp, nil
	}
	return nil, fmt.Errorf("unsupported trace exporter %q", exporter)
}

func (o *Observability) Logger() *slog.Logger { return o.log }

func (o *Observability) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.mp.Meter(name, opts...)
}

func (o *Observability) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return o.tp.Tracer(name, options...)
}

func (o *Observability) TracerProvider() trace.TracerProvider { return o.tp }

// PrometheusRegisterer returns nil when prometheus exporter is not enabled.
func (o *Observability) PrometheusRegisterer() prometheus.Registerer {
	if o.pr == nil {
		return nil
	}
	return o.pr
}

// MetricsHandler returns nil when prometheus exporter is not enabled.
func (o *Observability) MetricsHandler() http.Handler {
	if o.pr == nil {
		return nil
	}
	return promhttp.HandlerFor(o.pr, promhttp.HandlerOpts{MaxRequestsInFlight: 1})
}

// Shutdown flushes the exporters, it gives up after five seconds.
func (o *Observability) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, f := range o.shutdown {
		errs = append(errs, f(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("observability shutdown: %w", err)
	}
	return nil
}
