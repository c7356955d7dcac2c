package clients

import (
	"net"
	"net/http"
	"time"
)

// DefaultTransport returns a configured HTTP transport with connection limits.
// This prevents resource exhaustion during downstream failures by capping
// the number of concurrent connections per host.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		// Cap concurrent connections to any single host
		MaxConnsPerHost: 100,

		// Keep some connections warm for reuse
		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout: 10 * time.Second,

		ExpectContinueTimeout: 1 * time.Second,
	}
}
