// Package socks5 is the client half of the SOCKS5 handshake the upstream
// dialer speaks.
//
// It wraps the protocol types in github.com/txthinking/socks5 and turns
// failure replies into typed errors.
package socks5
