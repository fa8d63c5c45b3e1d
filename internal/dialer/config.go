package dialer

import (
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the settings shared by every upstream dialer.
type Config struct {
	DialTimeout time.Duration
	// NegotiationTimeout bounds proxy handshakes (TLS, CONNECT, SOCKS5, SSH).
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	// SSHKeyPath is a private key file, "agent", or empty for password only.
	SSHKeyPath string
	// SSHKnownHostsPath enables trust-on-first-use host key checking.
	SSHKnownHostsPath string

	Log zerolog.Logger
}
