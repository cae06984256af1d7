package opsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCheck struct {
	ok     bool
	detail string
}

func (f fakeCheck) Healthy(ctx context.Context) (bool, string) { return f.ok, f.detail }

func TestHealthzReportsOkWhenAllChecksPass(t *testing.T) {
	srv := New(map[string]HealthChecker{"ledger": fakeCheck{ok: true}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestHealthzReportsDegradedWhenAnyCheckFails(t *testing.T) {
	srv := New(map[string]HealthChecker{
		"ledger": fakeCheck{ok: true},
		"anchor": fakeCheck{ok: false, detail: "unreachable"},
	})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body["status"])
	require.Equal(t, "unreachable", body["checks"].(map[string]any)["anchor"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
