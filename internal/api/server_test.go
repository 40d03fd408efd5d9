package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wootoff-monitor/internal/config"
	"github.com/wootoff-monitor/internal/metrics"
	"github.com/wootoff-monitor/internal/monitor"
	"github.com/wootoff-monitor/internal/proxypool"
	"github.com/wootoff-monitor/internal/storage"
	"github.com/wootoff-monitor/internal/types"
)

type fixedStatus monitor.Status

func (f fixedStatus) Status() monitor.Status {
	return monitor.Status(f)
}

func sampleStatus() fixedStatus {
	cur := types.Snapshot{Title: "Widget A", Price: "$19.99", Status: types.StatusActive}
	return fixedStatus{
		State:        monitor.Sleeping,
		URL:          "https://www.woot.com/",
		Cycles:       12,
		LastDecision: types.FirstObservation,
		Current:      &cur,
		Proxies: []proxypool.Endpoint{
			{Host: "10.0.0.1", Port: 1080, Health: proxypool.Healthy},
			{Host: "10.0.0.2", Port: 1080, Health: proxypool.Dead},
		},
		ProxyCounts: map[proxypool.Health]int{proxypool.Healthy: 1, proxypool.Suspect: 0, proxypool.Dead: 1},
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config), journal storage.Journal, probe ProbeFunc) (*Server, *prometheus.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}

	reg := prometheus.NewRegistry()
	s := NewServer(&cfg, sampleStatus(), journal, probe, metrics.NewCollector("wootoff", reg), reg)
	gin.SetMode(gin.TestMode)
	return s, reg
}

func do(s *Server, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)
	rec := do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)
	rec := do(s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SLEEPING", body["state"])
	assert.Equal(t, "FIRST_OBSERVATION", body["last_decision"])
	assert.EqualValues(t, 12, body["cycles"])

	current := body["current"].(map[string]any)
	assert.Equal(t, "Widget A", current["title"])
	assert.Equal(t, "ACTIVE", current["status"])

	counts := body["proxy_counts"].(map[string]any)
	assert.EqualValues(t, 1, counts["DEAD"])
}

func TestProxiesFormats(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)

	rec := do(s, http.MethodGet, "/proxies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.0.0.1:1080 HEALTHY\n10.0.0.2:1080 DEAD\n", rec.Body.String())

	rec = do(s, http.MethodGet, "/proxies?format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":2`)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestEvents(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodGet, "/events", nil).Code)

	j, err := storage.NewFileJournal(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	defer j.Close()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.Append(context.Background(), types.Event{ID: id, Decision: types.NewItem}))
	}

	s, _ = newTestServer(t, nil, j, nil)
	rec := do(s, http.MethodGet, "/events?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count  int           `json:"count"`
		Events []types.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "c", body.Events[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/events?limit=zero", nil).Code)
}

func TestAPIKeyAuth(t *testing.T) {
	t.Setenv("WOOTOFF_TEST_API_KEY", "s3cret")
	s, _ := newTestServer(t, func(c *config.Config) {
		c.API.EnableAPIKeyAuth = true
		c.API.APIKeyEnv = "WOOTOFF_TEST_API_KEY"
	}, nil, nil)

	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodGet, "/status", nil).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/status", map[string]string{"X-Api-Key": "s3cret"}).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/status?key=s3cret", nil).Code)
	// health stays public
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", nil).Code)
}

func TestIPRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.API.EnableIPRateLimit = true
		c.API.RateLimitPerMinute = 1
	}, nil, nil)

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/status", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodGet, "/status", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)
	do(s, http.MethodGet, "/status", nil)

	rec := do(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `wootoff_api_requests_total{endpoint="/status",method="GET",status="200"} 1`))
}

func TestProbe(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodPost, "/probe", nil).Code)

	release := make(chan struct{})
	called := make(chan struct{}, 1)
	s, _ = newTestServer(t, nil, nil, func(context.Context) {
		called <- struct{}{}
		<-release
	})

	assert.Equal(t, http.StatusAccepted, do(s, http.MethodPost, "/probe", nil).Code)
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("probe not started")
	}
	assert.Equal(t, http.StatusConflict, do(s, http.MethodPost, "/probe", nil).Code)
	close(release)
}
