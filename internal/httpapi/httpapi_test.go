package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everclearorg/mark-sub001/internal/logging"
)

type fakeCheck struct {
	healthy bool
	detail  string
}

func (f fakeCheck) CheckHealth(ctx context.Context) (bool, string) { return f.healthy, f.detail }

type fakeTicks struct{ at time.Time }

func (f fakeTicks) LastTick() time.Time { return f.at }

func TestHealthz_AllDependenciesHealthy(t *testing.T) {
	now := time.Now()
	srv := New("", map[string]HealthChecker{"database": fakeCheck{healthy: true}}, fakeTicks{at: now}, prometheus.NewRegistry(), logging.Noop())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.srv.Handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Dependencies["database"])
}

func TestHealthz_UnhealthyDependencyReportsDegraded(t *testing.T) {
	srv := New("", map[string]HealthChecker{"redis": fakeCheck{healthy: false, detail: "connection refused"}}, fakeTicks{}, prometheus.NewRegistry(), logging.Noop())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.srv.Handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Dependencies["redis"], "connection refused")
}

func TestMetrics_ServesPrometheusExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "test"})
	counter.Inc()
	reg.MustRegister(counter)

	srv := New("", nil, nil, reg, logging.Noop())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.srv.Handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "probe_total 1")
}
