package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wootoff-monitor/internal/metrics"
	"github.com/wootoff-monitor/internal/proxypool"
)

type recordingPool struct {
	endpoints []proxypool.Endpoint
	next      int
	selected  []string
	successes []string
	failures  []string
}

func (p *recordingPool) Select() (proxypool.Endpoint, error) {
	if len(p.endpoints) == 0 {
		return proxypool.Endpoint{}, proxypool.ErrNoProxyAvailable
	}
	ep := p.endpoints[p.next%len(p.endpoints)]
	p.next++
	p.selected = append(p.selected, ep.Address())
	return ep, nil
}

func (p *recordingPool) ReportSuccess(ep proxypool.Endpoint) {
	p.successes = append(p.successes, ep.Address())
}

func (p *recordingPool) ReportFailure(ep proxypool.Endpoint) {
	p.failures = append(p.failures, ep.Address())
}

func twoEndpoints() *recordingPool {
	return &recordingPool{endpoints: []proxypool.Endpoint{
		{Host: "10.0.0.1", Port: 1080},
		{Host: "10.0.0.2", Port: 1080},
	}}
}

func directClients(ep proxypool.Endpoint) (*http.Client, error) {
	return &http.Client{}, nil
}

func newTestFetcher(pool Pool, timeout time.Duration) *Fetcher {
	return New(pool, Options{
		Timeout:       timeout,
		UserAgents:    []string{"Mozilla/5.0 (test)"},
		ClientFactory: directClients,
	}, metrics.NewCollector("test", prometheus.NewRegistry()))
}

func TestFetchSuccess(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	pool := twoEndpoints()
	f := newTestFetcher(pool, time.Second)

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", body)
	assert.Equal(t, "Mozilla/5.0 (test)", ua.Load())
	assert.Len(t, pool.successes, 1)
	assert.Empty(t, pool.failures)
}

func TestFetchFailsAfterTwoAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	pool := twoEndpoints()
	f := newTestFetcher(pool, time.Second)

	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Len(t, pool.failures, 2)
	assert.Empty(t, pool.successes)
	assert.Equal(t, int32(MaxAttempts), hits.Load())
	// the retry goes through a newly selected endpoint
	assert.Equal(t, []string{"10.0.0.1:1080", "10.0.0.2:1080"}, pool.selected)
}

func TestFetchRetrySucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("second"))
	}))
	defer srv.Close()

	pool := twoEndpoints()
	f := newTestFetcher(pool, time.Second)

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "second", body)
	assert.Equal(t, []string{"10.0.0.1:1080"}, pool.failures)
	assert.Equal(t, []string{"10.0.0.2:1080"}, pool.successes)
}

func TestFetchTimeoutCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	pool := twoEndpoints()
	f := newTestFetcher(pool, 50*time.Millisecond)

	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Len(t, pool.failures, 2)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchWithoutProxies(t *testing.T) {
	f := newTestFetcher(&recordingPool{}, time.Second)
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/")
	require.ErrorIs(t, err, proxypool.ErrNoProxyAvailable)
}

func TestFetchBodyIsCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	f := New(twoEndpoints(), Options{
		Timeout:       time.Second,
		MaxBodyBytes:  4,
		UserAgents:    []string{"ua"},
		ClientFactory: directClients,
	}, metrics.NewCollector("test", prometheus.NewRegistry()))

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "0123", body)
}

func TestNewSOCKS5Client(t *testing.T) {
	c, err := NewSOCKS5Client(proxypool.Endpoint{Host: "127.0.0.1", Port: 9050, Username: "u", Password: "p"}, time.Second, true)
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.Timeout)
	assert.NotNil(t, c.Transport)
}
