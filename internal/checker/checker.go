package checker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/wootoff-monitor/internal/fetcher"
	"github.com/wootoff-monitor/internal/proxypool"
)

const DefaultTestURL = "https://www.google.com/generate_204"

type Checker struct {
	testURL string
	timeout time.Duration
	factory fetcher.ClientFactory
}

type Result struct {
	Endpoint  proxypool.Endpoint
	Alive     bool
	LatencyMs int64
	Error     string
}

// NewChecker probes endpoints by fetching testURL through them. factory may be
// nil, in which case a plain SOCKS5 client is used.
func NewChecker(testURL string, timeout time.Duration, factory fetcher.ClientFactory) *Checker {
	if testURL == "" {
		testURL = DefaultTestURL
	}
	if timeout <= 0 {
		timeout = fetcher.DefaultTimeout
	}
	if factory == nil {
		factory = func(ep proxypool.Endpoint) (*http.Client, error) {
			return fetcher.NewSOCKS5Client(ep, timeout, false)
		}
	}
	return &Checker{testURL: testURL, timeout: timeout, factory: factory}
}

// Check performs one GET of the test URL through ep
func (c *Checker) Check(ctx context.Context, ep proxypool.Endpoint) Result {
	startTime := time.Now()

	client, err := c.factory(ep)
	if err != nil {
		return Result{Endpoint: ep, Error: fmt.Sprintf("SOCKS5 dialer error: %v", err)}
	}
	// Don't follow redirects
	probe := *client
	probe.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.testURL, nil)
	if err != nil {
		return Result{Endpoint: ep, Error: fmt.Sprintf("create request: %v", err)}
	}

	resp, err := probe.Do(req)
	if err != nil {
		return Result{Endpoint: ep, Error: fmt.Sprintf("SOCKS5 connection error: %v", err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	latency := time.Since(startTime)

	// Consider 2xx and 3xx as success
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return Result{Endpoint: ep, Alive: true, LatencyMs: latency.Milliseconds()}
	}

	return Result{Endpoint: ep, Error: fmt.Sprintf("HTTP %d", resp.StatusCode)}
}

// CheckAll probes every endpoint with bounded concurrency. Results keep the
// input order.
func (c *Checker) CheckAll(ctx context.Context, endpoints []proxypool.Endpoint, concurrency int) []Result {
	total := len(endpoints)
	if concurrency <= 0 {
		concurrency = 1
	}
	log.Infof("Starting proxy check: %d endpoints, concurrency=%d", total, concurrency)

	startTime := time.Now()
	results := make([]Result, total)

	// Semaphore for concurrency control
	sem := make(chan struct{}, concurrency)

	var completed, alive atomic.Int64
	progressTicker := time.NewTicker(5 * time.Second)
	defer progressTicker.Stop()
	stopProgress := make(chan struct{})
	defer close(stopProgress)

	go func() {
		for {
			select {
			case <-stopProgress:
				return
			case <-progressTicker.C:
				log.Infof("Progress: %d/%d, alive=%d", completed.Load(), total, alive.Load())
			}
		}
	}()

	var wg sync.WaitGroup
	for i, ep := range endpoints {
		sem <- struct{}{}
		wg.Add(1)

		go func(i int, ep proxypool.Endpoint) {
			defer wg.Done()
			defer func() { <-sem }()

			results[i] = c.Check(ctx, ep)
			if results[i].Alive {
				alive.Add(1)
			}
			completed.Add(1)
		}(i, ep)
	}
	wg.Wait()

	log.Infof("Check complete: %d/%d alive in %v", alive.Load(), total, time.Since(startTime))
	return results
}

// Reporter receives probe outcomes; *proxypool.Pool satisfies it
type Reporter interface {
	ReportSuccess(proxypool.Endpoint)
	ReportFailure(proxypool.Endpoint)
}

// Apply feeds probe results into the pool's health accounting
func Apply(r Reporter, results []Result) {
	for _, res := range results {
		if res.Alive {
			r.ReportSuccess(res.Endpoint)
		} else {
			r.ReportFailure(res.Endpoint)
		}
	}
}
