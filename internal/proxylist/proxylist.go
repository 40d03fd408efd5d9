package proxylist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/wootoff-monitor/internal/config"
	"github.com/wootoff-monitor/internal/proxypool"
)

var (
	// Matches IP:PORT, socks5://IP:PORT and socks5://user:pass@IP:PORT inside a line
	proxyRegex = regexp.MustCompile(`(?:(socks5h?|socks4|https?)://)?(?:([^:@\s/]+):([^@\s/]+)@)?(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}):(\d{2,5})`)
)

// ParseEndpoint parses host:port or socks5://[user:pass@]host:port
func ParseEndpoint(raw string) (proxypool.Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return proxypool.Endpoint{}, fmt.Errorf("empty proxy entry")
	}
	if !strings.Contains(raw, "://") {
		raw = "socks5://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return proxypool.Endpoint{}, fmt.Errorf("parse proxy %q: %w", raw, err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return proxypool.Endpoint{}, fmt.Errorf("proxy %q: unsupported scheme %q", raw, u.Scheme)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return proxypool.Endpoint{}, fmt.Errorf("proxy %q: %w", raw, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return proxypool.Endpoint{}, fmt.Errorf("proxy %q: invalid port %q", raw, portStr)
	}
	if host == "" {
		return proxypool.Endpoint{}, fmt.Errorf("proxy %q: empty host", raw)
	}

	ep := proxypool.Endpoint{Host: host, Port: port}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep, nil
}

// Loader builds the endpoint set from inline entries and list sources
type Loader struct {
	client *http.Client
}

func NewLoader() *Loader {
	return &Loader{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Load returns the deduplicated endpoints. Bad entries are skipped with a
// warning; a failing source is logged and the rest are still used.
func (l *Loader) Load(ctx context.Context, cfg config.ProxiesConfig) []proxypool.Endpoint {
	all := make([]proxypool.Endpoint, 0, len(cfg.Endpoints))

	for _, entry := range cfg.Endpoints {
		ep, err := ParseEndpoint(entry)
		if err != nil {
			log.Warnf("Skipping proxy entry: %v", err)
			continue
		}
		all = append(all, ep)
	}

	for _, source := range cfg.Sources {
		if !source.Enabled {
			continue
		}
		start := time.Now()
		found, err := l.fetchSource(ctx, source)
		if err != nil {
			log.Warnf("Proxy source %s failed: %v (took %v)", source.Location, err, time.Since(start))
			continue
		}
		log.Infof("Proxy source %s returned %d proxies", source.Location, len(found))
		all = append(all, found...)
	}

	unique := deduplicate(all)
	log.Infof("Loaded %d unique proxies", len(unique))
	return unique
}

func (l *Loader) fetchSource(ctx context.Context, source config.ProxySource) ([]proxypool.Endpoint, error) {
	if !strings.HasPrefix(source.Location, "http://") && !strings.HasPrefix(source.Location, "https://") {
		f, err := os.Open(source.Location)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		defer f.Close()
		return Parse(f)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.Location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	// Limit body read to 10MB
	return Parse(io.LimitReader(resp.Body, 10*1024*1024))
}

// Parse reads one proxy per line. Lines naming a non-SOCKS5 scheme are skipped.
func Parse(r io.Reader) ([]proxypool.Endpoint, error) {
	endpoints := make([]proxypool.Endpoint, 0)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		m := proxyRegex.FindStringSubmatch(line)
		if len(m) < 6 {
			continue
		}
		scheme := m[1]
		if scheme != "" && scheme != "socks5" && scheme != "socks5h" {
			continue
		}
		port, err := strconv.Atoi(m[5])
		if err != nil || port > 65535 {
			continue
		}
		endpoints = append(endpoints, proxypool.Endpoint{
			Host:     m[4],
			Port:     port,
			Username: m[2],
			Password: m[3],
		})
	}

	if err := scanner.Err(); err != nil {
		return endpoints, fmt.Errorf("scan: %w", err)
	}
	return endpoints, nil
}

func deduplicate(endpoints []proxypool.Endpoint) []proxypool.Endpoint {
	seen := make(map[string]struct{}, len(endpoints))
	unique := make([]proxypool.Endpoint, 0, len(endpoints))

	for _, ep := range endpoints {
		key := strings.ToLower(ep.Address())
		if _, exists := seen[key]; !exists {
			seen[key] = struct{}{}
			unique = append(unique, ep)
		}
	}
	return unique
}
