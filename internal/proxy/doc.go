// Package proxy serves the same-origin reverse proxy.
//
// Handler maps a request for {code}-{tag}.{suffix} back onto the external URL
// it stands for, fetches it through the configured dialer, and rewrites
// headers and text bodies so every reference points at the proxy again.
// Requests for the bare suffix are entry requests and answer with a redirect.
package proxy
