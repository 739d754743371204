package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
)

func TestNew(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("unsupported exporters", func(t *testing.T) {
		_, err := New("statsd", "", "0.1.0", log)
		require.EqualError(t, err, `unsupported metrics exporter "statsd"`)
		_, err = New("", "jaeger", "0.1.0", log)
		require.EqualError(t, err, `unsupported trace exporter "jaeger"`)
	})

	t.Run("disabled", func(t *testing.T) {
		obs, err := New("", "", "0.1.0", log)
		require.NoError(t, err)
		require.Nil(t, obs.MetricsHandler())
		require.Nil(t, obs.PrometheusRegisterer())
		require.Equal(t, log, obs.Logger())
		require.NotNil(t, obs.Tracer("test"))
		require.NoError(t, obs.Shutdown())
	})

	t.Run("prometheus", func(t *testing.T) {
		obs, err := New("prometheus", "", "0.1.0", log)
		require.NoError(t, err)
		defer func() { require.NoError(t, obs.Shutdown()) }()

		cnt, err := obs.Meter("consensus").Int64Counter("block.applied", metric.WithDescription("test counter"))
		require.NoError(t, err)
		cnt.Add(context.Background(), 3)

		h := obs.MetricsHandler()
		require.NotNil(t, h)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "be_block_applied_total")
		require.Contains(t, rec.Body.String(), "go_goroutines")
	})
}
