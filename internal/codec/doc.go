// Package codec maps external hostnames onto short DNS-label-safe codes and
// encodes a (scheme, port) pair as the protocol tag that follows the code in
// a proxy host label ("{code}-{tag}.{suffix}").
//
// Everything here is pure. Persisting a code and resolving collisions is the
// job of package registry.
package codec
