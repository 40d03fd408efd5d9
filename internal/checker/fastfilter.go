package checker

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// FastConnectFilter performs TCP-only connection pre-filtering and returns the
// addresses that accepted a connection, in input order. It quickly drops dead
// endpoints before running full SOCKS5 checks.
func FastConnectFilter(ctx context.Context, addrs []string, timeout time.Duration, concurrency int) []string {
	if len(addrs) == 0 {
		return addrs
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	log.Infof("Starting fast TCP filter: %d endpoints, concurrency=%d, timeout=%v",
		len(addrs), concurrency, timeout)

	startTime := time.Now()
	ok := make([]bool, len(addrs))

	// Semaphore for concurrency control
	sem := make(chan struct{}, concurrency)
	var successful atomic.Int64
	var wg sync.WaitGroup

	for i, addr := range addrs {
		sem <- struct{}{}
		wg.Add(1)

		go func(i int, addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			if testTCPConnection(ctx, addr, timeout) {
				ok[i] = true
				successful.Add(1)
			}
		}(i, addr)
	}
	wg.Wait()

	connectable := make([]string, 0, successful.Load())
	for i, addr := range addrs {
		if ok[i] {
			connectable = append(connectable, addr)
		}
	}

	log.Infof("Fast filter complete: %d/%d connectable in %v",
		len(connectable), len(addrs), time.Since(startTime))

	return connectable
}

// testTCPConnection tests if a TCP connection can be established
func testTCPConnection(ctx context.Context, address string, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
