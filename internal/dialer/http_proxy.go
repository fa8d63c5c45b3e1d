package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPProxyDialer tunnels every upstream connection through an HTTP or
// HTTPS proxy with CONNECT, plain-HTTP targets included.
type HTTPProxyDialer struct {
	cfg    Config
	addr   string
	tlsCfg *tls.Config
	auth   string
	direct Dialer
}

// NewHTTPProxyDialer returns a CONNECT dialer for proxyURL. A non-empty
// username is sent as Basic Proxy-Authorization.
func NewHTTPProxyDialer(cfg Config, proxyURL *url.URL, username, password string) (*HTTPProxyDialer, error) {
	if proxyURL == nil || proxyURL.Hostname() == "" {
		return nil, errors.New("http proxy dialer: missing proxy host")
	}

	d := &HTTPProxyDialer{
		cfg:    cfg,
		addr:   proxyURL.Host,
		direct: NewDirectDialer(cfg),
	}
	switch proxyURL.Scheme {
	case "http":
	case "https":
		d.tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: proxyURL.Hostname()}
	default:
		return nil, fmt.Errorf("http proxy dialer: unsupported scheme %q", proxyURL.Scheme)
	}
	if username != "" {
		d.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}
	return d, nil
}

// DialContext returns a tunnel to address once the proxy accepted the
// CONNECT. The handshake is bounded by NegotiationTimeout and by ctx.
func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	c, err := d.direct.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})
	if d.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(d.cfg.NegotiationTimeout))
	}

	tunnel, err := d.connect(c, address)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("http proxy dial %s: %w", address, err)
	}

	_ = tunnel.SetDeadline(time.Time{})
	return tunnel, nil
}

func (d *HTTPProxyDialer) connect(c net.Conn, address string) (net.Conn, error) {
	if d.tlsCfg != nil {
		tc := tls.Client(c, d.tlsCfg)
		if err := tc.Handshake(); err != nil {
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		c = tc
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if d.auth != "" {
		req.Header.Set("Proxy-Authorization", d.auth)
	}
	if err := req.Write(c); err != nil {
		return nil, fmt.Errorf("connect write: %w", err)
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("connect read: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("connect refused: %s", resp.Status)
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: c, r: br}, nil
	}
	return c, nil
}

// bufferedConn replays bytes the proxy sent right behind its CONNECT reply.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
