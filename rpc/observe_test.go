package rpc

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	testobserve "github.com/alphabill-org/blockengine/internal/testutils/observability"
)

func TestHTTPObserver(t *testing.T) {
	obs := testobserve.Default(t)
	r := mux.NewRouter()
	r.Use(newHTTPObserver(obs).middleware)
	r.HandleFunc("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		// status can't be changed once written
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/1", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
	require.EqualValues(t, 1, obs.CounterValue(t, "calls"))
}

func TestResponseRecorder(t *testing.T) {
	w := httptest.NewRecorder()
	rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
	n, err := rec.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	rec.WriteHeader(http.StatusNotFound)
	require.Equal(t, http.StatusOK, rec.status)
	require.EqualValues(t, 3, rec.written)
	require.Equal(t, w, rec.Unwrap())
}
