package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
	tnop "go.opentelemetry.io/otel/trace/noop"

	testlogr "github.com/alphabill-org/blockengine/internal/testutils/logger"
)

/*
Observability implementation for tests: logs go to the test log, metrics
are collected by manual reader (see MetricReader) and tracing is no-op.
*/
type Observability struct {
	log    *slog.Logger
	mp     metric.MeterProvider
	tp     trace.TracerProvider
	reader *sdkmetric.ManualReader
}

/*
NOPObservability creates observability implementation where everything is no-op.
Use it for tests for which it absolutely doesn't make sense to create any logs or metrics.
*/
func NOPObservability() *Observability {
	return &Observability{
		log: testlogr.NOP(),
		mp:  noop.NewMeterProvider(),
		tp:  tnop.NewTracerProvider(),
	}
}

// Default creates observability which logs into the test log and collects metrics.
func Default(t testing.TB) *Observability {
	reader := sdkmetric.NewManualReader()
	return &Observability{
		log:    testlogr.New(t),
		mp:     sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		tp:     tnop.NewTracerProvider(),
		reader: reader,
	}
}

func (o *Observability) Logger() *slog.Logger { return o.log }

func (o *Observability) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.mp.Meter(name, opts...)
}

func (o *Observability) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return o.tp.Tracer(name, options...)
}

func (o *Observability) TracerProvider() trace.TracerProvider { return o.tp }

func (o *Observability) PrometheusRegisterer() prometheus.Registerer { return nil }

func (o *Observability) Shutdown() error { return nil }

// MetricReader returns reader of the collected metrics, nil for NOP observability.
func (o *Observability) MetricReader() *sdkmetric.ManualReader { return o.reader }

/*
CounterValue returns the sum of all data points of the int64 counter with
given name (over all attribute sets).
*/
func (o *Observability) CounterValue(t testing.TB, name string) int64 {
	t.Helper()
	require.NotNil(t, o.reader, "metrics are not collected")
	var rm metricdata.ResourceMetrics
	require.NoError(t, o.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
