package proxy

import (
	"crypto/tls"
	"net/http"
)

// NewTransport returns the upstream round tripper. Every connection goes
// through cfg.Dialer, proxies included. Redirects are never followed; the
// client sees them rewritten.
func NewTransport(cfg Config) http.RoundTripper {
	return &http.Transport{
		DialContext:         cfg.Dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        2048,
		MaxIdleConnsPerHost: 64,
		IdleConnTimeout:     cfg.HTTPIdleTimeout,
		TLSHandshakeTimeout: cfg.NegotiationTimeout,
		// Bodies are decoded by the rewriter, which needs the raw encoding.
		DisableCompression: true,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ClientSessionCache: tls.NewLRUClientSessionCache(0),
		},
	}
}
