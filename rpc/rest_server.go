package rpc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	applicationJson   = "application/json"
	applicationCBOR   = "application/cbor"

	apiPrefix           = "/api/v1"
	pathMetrics         = "/metrics"
	metricsScopeRESTAPI = "rest_api"

	// DefaultMaxBodySize is the maximum size of the request body, enough for a single transaction.
	DefaultMaxBodySize int64 = 32 * 1024
)

type (
	// Registrar adds the handlers of an API area to the router.
	Registrar interface {
		Register(r *mux.Router)
	}

	RegistrarFunc func(r *mux.Router)

	Observability interface {
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		Tracer(name string, options ...trace.TracerOption) trace.Tracer
		Logger() *slog.Logger
	}
)

func (f RegistrarFunc) Register(r *mux.Router) { f(r) }

/*
NewRESTServer returns HTTP server for the node API. Endpoints of the
registrars are served under the "/api/v1" prefix, "/metrics" is served
outside of it when the metrics handler is not nil.
*/
func NewRESTServer(addr string, maxBodySize int64, obs Observability, metrics http.Handler, registrars ...Registrar) *http.Server {
	root := mux.NewRouter()
	root.NotFoundHandler = http.HandlerFunc(http.NotFound)
	if metrics != nil {
		root.Handle(pathMetrics, metrics).Methods(http.MethodGet)
	}

	api := root.PathPrefix(apiPrefix).Subrouter()
	api.Use(
		handlers.CORS(handlers.AllowedHeaders([]string{headerAccept, headerContentType, "Accept-Language", "Content-Language", "Origin"})),
		newHTTPObserver(obs).middleware,
	)
	for _, r := range registrars {
		r.Register(api)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handlers.CompressHandler(http.MaxBytesHandler(root, maxBodySize)),
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       3 * time.Second,
		// serving the block range may take a while
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}
