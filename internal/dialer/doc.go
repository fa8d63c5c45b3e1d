// Package dialer provides the outbound connections the proxy fetches
// upstream pages over.
//
// Dialers implement a small interface (DialContext) and plug into the
// proxy's http.Transport, either dialing origins directly or through an
// upstream proxy (HTTP CONNECT, SOCKS5, or SSH).
package dialer
