// Copyright © 2025 CloudLens Authors, All Rights reserved

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudlens/devgate/pkg/config"
	"github.com/cloudlens/devgate/pkg/route"
)

func testConfig(t *testing.T, rules ...*route.Rule) config.Config {
	t.Helper()
	return config.Config{
		ListenAddr:              "127.0.0.1:0",
		LogLevel:                "info",
		Rules:                   rules,
		RequestTimeout:          2 * time.Second,
		ServerReadTimeout:       time.Second,
		ServerWriteTimeout:      time.Second,
		ServerIdleTimeout:       time.Second,
		GracefulShutdownTimeout: time.Second,
	}
}

func mustRule(t *testing.T, prefix, target string) *route.Rule {
	t.Helper()
	r, err := route.New(prefix, target, true, true)
	require.NoError(t, err)
	return r
}

func TestManagerForwardsMatchingRequests(t *testing.T) {
	var upstreamPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"accounts":[{"id":"123456789012"}]}`)
	}))
	defer upstream.Close()

	m, err := NewManager(testConfig(t, mustRule(t, "/api", upstream.URL)))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://localhost:5173/api/accounts", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/accounts", upstreamPath)
	// Round-trip fidelity: identical status and body bytes.
	assert.Equal(t, `{"accounts":[{"id":"123456789012"}]}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestManagerLeavesNonMatchingPathsAlone(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected upstream call: %s", r.URL.Path)
	}))
	defer upstream.Close()

	m, err := NewManager(testConfig(t, mustRule(t, "/api", upstream.URL)))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://localhost:5173/dashboard", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManagerHealthEndpoint(t *testing.T) {
	m, err := NewManager(testConfig(t, mustRule(t, "/api", "https://scan.example.com")))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://localhost:5173/healthz", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
		Routes int    `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Routes)
}

func TestManagerMetricsEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	m, err := NewManager(testConfig(t, mustRule(t, "/api", upstream.URL)))
	require.NoError(t, err)

	// Drive one request through the rule so the counter has a sample.
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://localhost:5173/api/scan", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://localhost:5173/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "devgate_requests_total")
	assert.Contains(t, rec.Body.String(), "devgate_routes_active")
}

func TestManagerLocalEndpointsWinOverRules(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("local endpoint proxied upstream: %s", r.URL.Path)
	}))
	defer upstream.Close()

	// A catch-all rule must not shadow /healthz.
	m, err := NewManager(testConfig(t, mustRule(t, "/", upstream.URL)))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://localhost:5173/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestManagerReloadSwapsRoutes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "v2")
	}))
	defer upstream.Close()

	m, err := NewManager(testConfig(t, mustRule(t, "/api", upstream.URL)))
	require.NoError(t, err)

	m.Reload(testConfig(t, mustRule(t, "/v2", upstream.URL)))

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://localhost:5173/v2/scan", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v2", rec.Body.String())

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://localhost:5173/api/scan", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManagerServesStaticDashboard(t *testing.T) {
	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>dash</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("console.log(1)"), 0o644))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := testConfig(t, mustRule(t, "/api", upstream.URL))
	cfg.StaticDir = staticDir
	m, err := NewManager(cfg)
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantBody string
	}{
		{name: "root serves index", path: "/", wantCode: http.StatusOK, wantBody: "<html>dash</html>"},
		{name: "asset served", path: "/app.js", wantCode: http.StatusOK, wantBody: "console.log(1)"},
		{name: "client route falls back to index", path: "/scans/recent", wantCode: http.StatusOK, wantBody: "<html>dash</html>"},
		{name: "missing asset is 404", path: "/missing.css", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://localhost:5173"+tt.path, nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, strings.TrimSpace(rec.Body.String()))
			}
		})
	}
}
