package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	browser "github.com/EDDYCJY/fake-useragent"
	log "github.com/sirupsen/logrus"
	"github.com/wootoff-monitor/internal/metrics"
	"github.com/wootoff-monitor/internal/proxypool"
	"golang.org/x/time/rate"
)

// ErrFetchFailed is returned when both attempts of a fetch fail
var ErrFetchFailed = errors.New("fetch failed")

// MaxAttempts bounds a fetch to the original request plus one retry
const MaxAttempts = 2

const (
	DefaultTimeout      = 5 * time.Second
	DefaultMaxBodyBytes = 5 * 1024 * 1024
)

// Pool is the part of the proxy pool the fetcher drives
type Pool interface {
	Select() (proxypool.Endpoint, error)
	ReportSuccess(proxypool.Endpoint)
	ReportFailure(proxypool.Endpoint)
}

// ClientFactory builds the HTTP client that routes through an endpoint
type ClientFactory func(ep proxypool.Endpoint) (*http.Client, error)

type Options struct {
	Timeout           time.Duration
	MaxBodyBytes      int64
	UserAgents        []string
	RequestsPerMinute int
	BrowserTLS        bool
	// ClientFactory overrides the SOCKS5 client, mainly for tests
	ClientFactory ClientFactory
}

type Fetcher struct {
	pool       Pool
	metrics    *metrics.Collector
	timeout    time.Duration
	maxBody    int64
	userAgents []string
	limiter    *rate.Limiter
	factory    ClientFactory

	mu      sync.Mutex
	clients map[string]*http.Client
}

func New(pool Pool, opts Options, metricsCollector *metrics.Collector) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	f := &Fetcher{
		pool:       pool,
		metrics:    metricsCollector,
		timeout:    opts.Timeout,
		maxBody:    opts.MaxBodyBytes,
		userAgents: opts.UserAgents,
		factory:    opts.ClientFactory,
		clients:    make(map[string]*http.Client),
	}

	if opts.RequestsPerMinute > 0 {
		// burst of 2 so the immediate retry never waits
		f.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), MaxAttempts)
	}

	if f.factory == nil {
		timeout, browserTLS := opts.Timeout, opts.BrowserTLS
		f.factory = func(ep proxypool.Endpoint) (*http.Client, error) {
			return NewSOCKS5Client(ep, timeout, browserTLS)
		}
	}

	return f
}

// Fetch GETs target through the pool. A failed attempt is reported to the pool
// and retried once with a freshly selected endpoint.
func (f *Fetcher) Fetch(ctx context.Context, target string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		ep, err := f.pool.Select()
		if err != nil {
			return "", err
		}

		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("%w: rate limiter: %w", ErrFetchFailed, err)
			}
		}

		start := time.Now()
		body, err := f.fetchVia(ctx, ep, target)
		if err == nil {
			f.pool.ReportSuccess(ep)
			f.metrics.RecordFetchSuccess(time.Since(start).Seconds())
			log.WithFields(log.Fields{
				"proxy":    ep.Address(),
				"attempt":  attempt,
				"bytes":    len(body),
				"duration": time.Since(start).Milliseconds(),
			}).Debug("Page fetched")
			return body, nil
		}

		f.pool.ReportFailure(ep)
		f.metrics.RecordFetchFailure()
		log.WithFields(log.Fields{
			"proxy":   ep.Address(),
			"attempt": attempt,
		}).Warnf("Fetch attempt failed: %v", err)
		lastErr = err
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrFetchFailed, MaxAttempts, lastErr)
}

func (f *Fetcher) fetchVia(ctx context.Context, ep proxypool.Endpoint, target string) (string, error) {
	client, err := f.clientFor(ep)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, f.maxBody)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, limited)
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// clientFor caches one client per endpoint so idle connections are reused
func (f *Fetcher) clientFor(ep proxypool.Endpoint) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := ep.Address()
	if c, ok := f.clients[key]; ok {
		return c, nil
	}
	c, err := f.factory(ep)
	if err != nil {
		return nil, fmt.Errorf("client for %s: %w", key, err)
	}
	f.clients[key] = c
	return c, nil
}

func (f *Fetcher) userAgent() string {
	if len(f.userAgents) == 0 {
		return browser.Chrome()
	}
	return f.userAgents[rand.IntN(len(f.userAgents))]
}
