package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})
}

func newTestServer(t *testing.T, pprof bool) *Server {
	t.Helper()
	srv, err := New(&Config{
		ListenAddr:  "127.0.0.1:0",
		EnablePprof: pprof,
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, pingRoutes{})
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestMountsRoutes(t *testing.T) {
	srv := newTestServer(t, false)
	rr := get(t, srv.Handler(), "/api/v1/ping")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pong", rr.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, srv.Handler(), "/debug/pprof/").Code)
}

func TestDrainCycle(t *testing.T) {
	srv := newTestServer(t, false)
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/livez").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	rr := get(t, h, "/drain")
	assert.JSONEq(t, `{"status":"draining"}`, rr.Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	assert.JSONEq(t, `{"status":"already draining"}`, get(t, h, "/drain").Body.String())

	// Liveness is unaffected by draining.
	assert.Equal(t, http.StatusOK, get(t, h, "/livez").Code)

	assert.JSONEq(t, `{"status":"ready"}`, get(t, h, "/undrain").Body.String())
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)
	assert.JSONEq(t, `{"status":"already ready"}`, get(t, h, "/undrain").Body.String())
}

func TestPprofEnabled(t *testing.T) {
	srv := newTestServer(t, true)
	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/debug/pprof/").Code)
}

func TestMetricsRecorder(t *testing.T) {
	srv := newTestServer(t, false)
	require.NotNil(t, srv.Metrics())
}
