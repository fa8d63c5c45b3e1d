package proxy

import (
	"net"
	"time"

	"github.com/die-net/samehost/internal/dialer"
)

// Config holds the listener and upstream transport settings.
type Config struct {
	NegotiationTimeout time.Duration
	HTTPIdleTimeout    time.Duration

	KeepAlive net.KeepAliveConfig
	ReusePort bool

	Dialer dialer.Dialer
}
