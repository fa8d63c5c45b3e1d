// Package ssh holds the client-side pieces of fetching upstream pages through
// an SSH server: loading keys from files or the agent, the handshake, and
// known_hosts checking with trust on first use.
//
// The tunneling dialer itself lives in package dialer.
package ssh
