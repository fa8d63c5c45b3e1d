package testutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// SSHServer is a minimal SSH server that forwards "direct-tcpip" channels,
// like sshd with AllowTcpForwarding.
type SSHServer struct {
	net.Listener

	// HostKey is the server's public host key.
	HostKey ssh.PublicKey

	mu    sync.Mutex
	conns []net.Conn
}

// DropConnections closes every accepted connection, leaving the listener
// open.
func (s *SSHServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

// StartSSHServer accepts password logins for username/password until ctx
// is done.
func StartSSHServer(t *testing.T, ctx context.Context, username, password string) *SSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() != username || string(pass) != password {
				return nil, errors.New("invalid credentials")
			}
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(signer)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &SSHServer{Listener: ln, HostKey: signer.PublicKey()}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.DropConnections()
	}()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, c)
			s.mu.Unlock()
			go serveSSHConn(ctx, c, cfg)
		}
	}()

	return s
}

type directTCPIPPayload struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

func serveSSHConn(ctx context.Context, c net.Conn, cfg *ssh.ServerConfig) {
	defer c.Close()

	_, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "direct-tcpip" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unsupported channel")
			continue
		}

		var p directTCPIPPayload
		if err := ssh.Unmarshal(newChan.ExtraData(), &p); err != nil {
			_ = newChan.Reject(ssh.Prohibited, "bad direct-tcpip payload")
			continue
		}

		d := net.Dialer{}
		dst, err := d.DialContext(ctx, "tcp", net.JoinHostPort(p.Host, strconv.FormatUint(uint64(p.Port), 10)))
		if err != nil {
			_ = newChan.Reject(ssh.ConnectionFailed, "dial failed")
			continue
		}

		ch, chReqs, err := newChan.Accept()
		if err != nil {
			_ = dst.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)

		go func() {
			defer ch.Close()
			defer dst.Close()

			var g errgroup.Group
			g.Go(func() error {
				_, err := io.Copy(dst, ch)
				if tc, ok := dst.(*net.TCPConn); ok {
					_ = tc.CloseWrite()
				}
				return err
			})
			g.Go(func() error {
				_, err := io.Copy(ch, dst)
				_ = ch.CloseWrite()
				return err
			})
			_ = g.Wait()
		}()
	}
}
