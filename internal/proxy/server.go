package proxy

import (
	"context"
	"net"
	"net/http"
)

// Server runs a Handler on an http.Server whose request contexts derive
// from the context passed to NewServer.
type Server struct {
	ctx context.Context
	srv *http.Server
}

// NewServer wraps h in an http.Server configured from cfg.
//
// Serve starts accepting connections on a listener; Close stops the underlying
// http.Server.
func NewServer(ctx context.Context, cfg Config, h http.Handler) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Server{ctx: ctx}
	s.srv = &http.Server{
		Handler:           h,
		ReadHeaderTimeout: cfg.NegotiationTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return s.ctx
		},
	}
	return s
}

// Serve serves proxy requests on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Close stops the HTTP server.
func (s *Server) Close() error {
	return s.srv.Close()
}
