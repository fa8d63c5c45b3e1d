package testutil

import (
	"context"
	"io"
	"net"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
)

// SOCKS5Options configures StartSOCKS5Server.
type SOCKS5Options struct {
	// Username and Password, when set, are required from the client.
	Username string
	Password string
	// Refuse answers every CONNECT with "connection refused".
	Refuse bool
}

// StartSOCKS5Server serves one SOCKS5 CONNECT on a loopback listener and
// splices the client to the requested destination. The returned func closes
// the listener and waits for the session to end.
func StartSOCKS5Server(t *testing.T, ctx context.Context, opts SOCKS5Options) (net.Listener, func()) {
	t.Helper()

	return StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_ = serveSOCKS5(ctx, c, opts)
	})
}

func serveSOCKS5(ctx context.Context, c net.Conn, opts SOCKS5Options) error {
	if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
		return err
	}

	if opts.Username == "" {
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(c); err != nil {
			return err
		}
	} else {
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(c); err != nil {
			return err
		}
		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(c)
		if err != nil {
			return err
		}
		if string(urq.Uname) != opts.Username || string(urq.Passwd) != opts.Password {
			_, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(c)
			return err
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(c); err != nil {
			return err
		}
	}

	req, err := txsocks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	if req.Cmd != txsocks5.CmdConnect {
		return writeZeroReply(c, txsocks5.RepCommandNotSupported)
	}
	if opts.Refuse {
		return writeZeroReply(c, txsocks5.RepConnectionRefused)
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		return writeZeroReply(c, txsocks5.RepHostUnreachable)
	}
	defer dst.Close()

	a, addr, port, err := txsocks5.ParseAddress(dst.LocalAddr().String())
	if err != nil {
		return err
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port).WriteTo(c); err != nil {
		return err
	}

	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
	return nil
}

func writeZeroReply(c net.Conn, rep byte) error {
	_, err := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(c)
	return err
}
