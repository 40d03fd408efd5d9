package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/wootoff-monitor/internal/proxypool"
	"golang.org/x/net/proxy"
)

// NewSOCKS5Client returns a client whose connections are tunnelled through ep.
// With browserTLS the transport mimics a browser TLS and header profile.
func NewSOCKS5Client(ep proxypool.Endpoint, timeout time.Duration, browserTLS bool) (*http.Client, error) {
	var auth *proxy.Auth
	if ep.Username != "" {
		auth = &proxy.Auth{User: ep.Username, Password: ep.Password}
	}

	dialer, err := proxy.SOCKS5("tcp", ep.Address(), auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 dialer error: %w", err)
	}
	contextDialer, hasContext := dialer.(proxy.ContextDialer)

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if hasContext {
				return contextDialer.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var rt http.RoundTripper = transport
	if browserTLS {
		rt = cloudflarebp.AddCloudFlareByPass(transport)
	}

	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
	}, nil
}
