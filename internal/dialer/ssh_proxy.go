package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	internalssh "github.com/die-net/samehost/internal/ssh"
)

// SSHProxyDialer fetches upstream pages through an SSH server, one
// "direct-tcpip" channel per connection over a single shared transport.
//
// The transport is dialed lazily. Canceling a DialContext context closes only
// that channel. A failure that is not a channel refusal drops the transport
// and the dial is retried once on a fresh one.
type SSHProxyDialer struct {
	sshAddr   string
	sshConfig internalssh.ClientConfig
	direct    Dialer
	log       zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
	sf     singleflight.Group
}

// NewSSHProxyDialer returns a dialer tunneling through the SSH server at
// sshAddr.
//
// Password and key authentication may both be offered; the key comes from
// cfg.SSHKeyPath (a file or "agent"). Host keys are checked against
// cfg.SSHKnownHostsPath with trust on first use, or not at all when it is
// empty.
func NewSSHProxyDialer(cfg Config, sshAddr, username, password string) (*SSHProxyDialer, error) {
	if sshAddr == "" {
		return nil, errors.New("ssh dialer: missing ssh address")
	}
	if username == "" {
		return nil, errors.New("ssh dialer: missing username")
	}

	signers, err := internalssh.LoadSigners(cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}
	if password == "" && len(signers) == 0 {
		return nil, errors.New("ssh dialer: missing password or key")
	}

	hostKeyCallback, err := internalssh.NewHostKeyCallback(cfg.SSHKnownHostsPath, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	return &SSHProxyDialer{
		sshAddr: sshAddr,
		sshConfig: internalssh.ClientConfig{
			Username:         username,
			Password:         password,
			Signers:          signers,
			HostKeyCallback:  hostKeyCallback,
			HandshakeTimeout: cfg.NegotiationTimeout,
		},
		direct: NewDirectDialer(cfg),
		log:    cfg.Log.With().Str("component", "ssh-dialer").Str("server", sshAddr).Logger(),
	}, nil
}

// DialContext opens a channel to address over the shared transport.
func (d *SSHProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh upstream dial %s %s: unsupported network", network, address)
	}

	conn, err := d.openChannel(ctx, address)
	if err != nil {
		var refused *ssh.OpenChannelError
		if errors.As(err, &refused) || ctx.Err() != nil {
			return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err)
		}

		d.log.Info().Err(err).Msg("ssh transport failed, reconnecting")
		d.reset()
		if conn, err = d.openChannel(ctx, address); err != nil {
			return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	return &sshChannelConn{Conn: conn, stop: stop}, nil
}

func (d *SSHProxyDialer) openChannel(ctx context.Context, address string) (net.Conn, error) {
	client, err := d.transport(ctx)
	if err != nil {
		return nil, err
	}
	return client.DialContext(ctx, "tcp", address)
}

// transport returns the shared SSH client, dialing it if needed. Concurrent
// callers share one attempt, which outlives any single caller's context.
func (d *SSHProxyDialer) transport(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := d.sf.DoChan("transport", func() (any, error) {
		d.mu.Lock()
		if d.client != nil {
			c := d.client
			d.mu.Unlock()
			return c, nil
		}
		d.mu.Unlock()

		c, err := d.dialTransport(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.client = c
		d.mu.Unlock()
		d.log.Debug().Msg("ssh transport established")
		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

func (d *SSHProxyDialer) dialTransport(ctx context.Context) (*ssh.Client, error) {
	conn, err := d.direct.DialContext(ctx, "tcp", d.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport dial: %w", err)
	}

	return internalssh.Handshake(ctx, conn, d.sshAddr, d.sshConfig)
}

// reset drops and closes the shared transport.
func (d *SSHProxyDialer) reset() {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
}

// Close closes the shared transport and every channel on it.
func (d *SSHProxyDialer) Close() error {
	d.reset()
	return nil
}

// sshChannelConn is one tunneled connection. Close also releases the
// context hook.
type sshChannelConn struct {
	net.Conn
	stop func() bool
}

func (c *sshChannelConn) Close() error {
	if c.stop != nil {
		c.stop()
	}
	return c.Conn.Close()
}
