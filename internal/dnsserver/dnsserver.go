// Package dnsserver answers DNS for the proxy suffix so that every issued
// proxy host resolves to the proxy without a wildcard record elsewhere.
package dnsserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/samehost/internal/codec"
	"github.com/die-net/samehost/internal/registry"
)

const (
	defaultTTL           = 60
	defaultLookupTimeout = 2 * time.Second
)

// Registry resolves codes to mappings.
type Registry interface {
	Lookup(ctx context.Context, code string) (registry.Mapping, error)
}

// HostParser splits a proxy host label into code and protocol tag.
type HostParser interface {
	ParseHost(host string) (code, tag string, ok bool)
}

type Config struct {
	// Suffix is the zone served, e.g. "proxy.example".
	Suffix string
	// Answers are returned for every name that resolves, A for IPv4 and AAAA
	// for IPv6 entries.
	Answers []net.IP
	// TTL for positive answers. Zero means 60 seconds.
	TTL uint32
	// LookupTimeout bounds each registry lookup. Zero means 2 seconds.
	LookupTimeout time.Duration
}

// Server is an authoritative dns.Handler for the suffix zone.
type Server struct {
	zone    string
	ttl     uint32
	timeout time.Duration
	v4, v6 []net.IP
	reg    Registry
	hosts  HostParser
	log    zerolog.Logger
}

func New(cfg Config, reg Registry, hosts HostParser, log zerolog.Logger) (*Server, error) {
	suffix := strings.Trim(strings.ToLower(cfg.Suffix), ".")
	if suffix == "" {
		return nil, errors.New("dnsserver: missing suffix")
	}
	if len(cfg.Answers) == 0 {
		return nil, errors.New("dnsserver: no answer addresses")
	}

	s := &Server{
		zone:  dns.Fqdn(suffix),
		ttl:     cfg.TTL,
		timeout: cfg.LookupTimeout,
		reg:     reg,
		hosts:   hosts,
		log:     log.With().Str("component", "dns").Logger(),
	}
	if s.ttl == 0 {
		s.ttl = defaultTTL
	}
	if s.timeout <= 0 {
		s.timeout = defaultLookupTimeout
	}
	for _, ip := range cfg.Answers {
		if v4 := ip.To4(); v4 != nil {
			s.v4 = append(s.v4, v4)
		} else if ip.To16() != nil {
			s.v6 = append(s.v6, ip)
		}
	}
	return s, nil
}

func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	if r.Opcode != dns.OpcodeQuery || len(r.Question) != 1 {
		m.SetRcode(r, dns.RcodeNotImplemented)
		_ = w.WriteMsg(m)
		return
	}
	q := r.Question[0]
	name := strings.ToLower(q.Name)

	switch {
	case !dns.IsSubDomain(s.zone, name):
		m.Authoritative = false
		m.SetRcode(r, dns.RcodeRefused)
	case name == s.zone:
		s.answer(m, q)
	default:
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		ok, err := s.known(ctx, name)
		cancel()
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("name", name).Msg("lookup failed")
			m.SetRcode(r, dns.RcodeServerFailure)
		case ok:
			s.answer(m, q)
		default:
			m.SetRcode(r, dns.RcodeNameError)
			m.Ns = append(m.Ns, s.soa())
		}
	}

	s.log.Debug().
		Str("name", name).
		Str("type", dns.TypeToString[q.Qtype]).
		Str("rcode", dns.RcodeToString[m.Rcode]).
		Int("answers", len(m.Answer)).
		Msg("query")
	if err := w.WriteMsg(m); err != nil {
		s.log.Debug().Err(err).Msg("write response")
	}
}

// known reports whether name is a proxy host whose code was issued.
func (s *Server) known(ctx context.Context, name string) (bool, error) {
	code, tag, ok := s.hosts.ParseHost(strings.TrimSuffix(name, "."))
	if !ok {
		return false, nil
	}
	if _, _, err := codec.DecodeTag(tag, "http"); err != nil {
		return false, nil
	}
	if _, err := s.reg.Lookup(ctx, code); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Server) answer(m *dns.Msg, q dns.Question) {
	hdr := func(t uint16) dns.RR_Header {
		return dns.RR_Header{Name: q.Name, Rrtype: t, Class: dns.ClassINET, Ttl: s.ttl}
	}

	switch q.Qtype {
	case dns.TypeA:
		for _, ip := range s.v4 {
			m.Answer = append(m.Answer, &dns.A{Hdr: hdr(dns.TypeA), A: ip})
		}
	case dns.TypeAAAA:
		for _, ip := range s.v6 {
			m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr(dns.TypeAAAA), AAAA: ip})
		}
	case dns.TypeSOA:
		if strings.EqualFold(q.Name, s.zone) {
			m.Answer = append(m.Answer, s.soa())
		}
	}
	if len(m.Answer) == 0 {
		m.Ns = append(m.Ns, s.soa())
	}
}

func (s *Server) soa() dns.RR {
	return &dns.SOA{
		Hdr:     dns.RR_Header{Name: s.zone, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: s.ttl},
		Ns:      s.zone,
		Mbox:    "hostmaster." + s.zone,
		Serial:  1,
		Refresh: 3600,
		Retry:   600,
		Expire:  86400,
		Minttl:  s.ttl,
	}
}

// Serve answers queries on pc (UDP) and ln (TCP) until ctx is done. Either
// may be nil.
func (s *Server) Serve(ctx context.Context, pc net.PacketConn, ln net.Listener) error {
	var servers []*dns.Server
	if pc != nil {
		servers = append(servers, &dns.Server{PacketConn: pc, Handler: s})
	}
	if ln != nil {
		servers = append(servers, &dns.Server{Listener: ln, Handler: s})
	}
	if len(servers) == 0 {
		return errors.New("dnsserver: nothing to serve")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.ActivateAndServe(); err != nil && gctx.Err() == nil {
				return fmt.Errorf("dns serve: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		for _, srv := range servers {
			if err := srv.ShutdownContext(context.WithoutCancel(gctx)); err != nil {
				// Not started yet; closing the socket stops it.
				if srv.PacketConn != nil {
					_ = srv.PacketConn.Close()
				}
				if srv.Listener != nil {
					_ = srv.Listener.Close()
				}
			}
		}
		return nil
	})
	return g.Wait()
}
