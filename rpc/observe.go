package rpc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/alphabill-org/blockengine/logger"
)

type httpObserver struct {
	tracer   trace.Tracer
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	log      *slog.Logger
}

/*
newHTTPObserver creates the instruments for the API calls. When creating an
instrument fails the requests are only traced.
*/
func newHTTPObserver(obs Observability) *httpObserver {
	o := &httpObserver{tracer: obs.Tracer(metricsScopeRESTAPI), log: obs.Logger()}
	m := obs.Meter(metricsScopeRESTAPI)
	var err error
	if o.calls, err = m.Int64Counter("calls", metric.WithDescription("Number of API calls")); err != nil {
		o.log.Error("creating calls counter", logger.Error(err))
	}
	if o.duration, err = m.Float64Histogram("duration",
		metric.WithDescription("Time it took to serve the request"),
		metric.WithUnit("s"),
		// block range responses may contain hundreds of blocks
		metric.WithExplicitBucketBoundaries(100e-6, 400e-6, 0.0016, 0.01, 0.05, 0.1, 0.5, 1, 2.5)); err != nil {
		o.log.Error("creating duration histogram", logger.Error(err))
	}
	if o.size, err = m.Int64Histogram("response.size",
		metric.WithDescription("Size of the response body"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 1024, 8*1024, 64*1024, 512*1024, 4*1024*1024)); err != nil {
		o.log.Error("creating response size histogram", logger.Error(err))
	}
	return o
}

// middleware wraps the API handlers, the span and the metrics are labeled with the route template.
func (o *httpObserver) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		route := req.URL.Path
		if tmpl, err := mux.CurrentRoute(req).GetPathTemplate(); err == nil {
			route = tmpl
		}
		ctx, span := o.tracer.Start(req.Context(), req.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req.WithContext(ctx))

		attrs := attribute.NewSet(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.HTTPRoute(route),
			semconv.HTTPResponseStatusCode(rec.status),
		)
		span.SetAttributes(attrs.ToSlice()...)
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		if o.calls != nil {
			o.calls.Add(ctx, 1, metric.WithAttributeSet(attrs))
		}
		if o.duration != nil {
			o.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributeSet(attrs))
		}
		if o.size != nil {
			o.size.Record(ctx, rec.written, metric.WithAttributeSet(attrs))
		}
	})
}

// responseRecorder remembers the status code and the body size of the response.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
