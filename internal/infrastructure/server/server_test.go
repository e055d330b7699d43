package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Widgets.Dir = filepath.Join(t.TempDir(), "widgets")
	cfg.State.Backend = "file"
	cfg.State.Dir = t.TempDir()
	cfg.Logging.Level = "error"

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func TestRoutesAreWired(t *testing.T) {
	srv := newTestServer(t)

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/manifests", http.StatusOK},
		{http.MethodGet, "/canvases", http.StatusOK},
		{http.MethodPost, "/canvases", http.StatusCreated},
		{http.MethodGet, "/canvases/unknown/edges", http.StatusNotFound},
		{http.MethodGet, "/traces/trc_unknown", http.StatusNotFound},
		{http.MethodGet, "/metrics", http.StatusOK},
	} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.want, w.Code, "%s %s", tc.method, tc.path)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(w.Body.String(), "widgethost_http_requests_total"))
}

func TestOperationsIncludeHostCapabilities(t *testing.T) {
	names := map[string]bool{}
	for _, op := range operations(config.Default(), nil, nil) {
		names[op.Name] = true
	}
	assert.True(t, names["network.fetch"])
	assert.True(t, names["compute.stats"])
	assert.True(t, names["compute.correlation"])
}

func TestShutdownClosesCanvases(t *testing.T) {
	srv := newTestServer(t)
	_, err := srv.Manager().Create("a")
	require.NoError(t, err)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Empty(t, srv.Manager().List())
}

func TestNewServerRejectsBrokenStateBackend(t *testing.T) {
	cfg := config.Default()
	cfg.State.Backend = "carrier-pigeon"
	_, err := NewServer(cfg)
	assert.Error(t, err)
}
