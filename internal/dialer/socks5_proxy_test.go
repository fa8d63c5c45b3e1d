package dialer

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/die-net/samehost/internal/socks5"
	"github.com/die-net/samehost/internal/testutil"
)

func TestSOCKS5ProxyDialerDialContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user string
		pass string
	}{
		{name: "no_auth"},
		{name: "user_pass", user: "user", pass: "pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			upLn, waitUp := testutil.StartSOCKS5Server(t, ctx, testutil.SOCKS5Options{Username: tt.user, Password: tt.pass})
			defer waitUp()

			d := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), tt.user, tt.pass)
			conn, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))
		})
	}
}

func TestSOCKS5ProxyDialerRefused(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSOCKS5Server(t, ctx, testutil.SOCKS5Options{Refuse: true})
	defer waitUp()

	d := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")
	_, err := d.DialContext(ctx, "tcp", "127.0.0.1:1")
	var rerr *socks5.RepliedError
	if !errors.As(err, &rerr) {
		t.Fatalf("err=%v, want RepliedError", err)
	}
}

func TestSOCKS5ProxyDialerContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Accepts but never negotiates.
	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_, _ = io.Copy(io.Discard, c)
	})
	defer waitUp()

	dialCtx, dialCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer dialCancel()

	d := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")
	start := time.Now()
	if _, err := d.DialContext(dialCtx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dial took %v after cancel", elapsed)
	}
}
