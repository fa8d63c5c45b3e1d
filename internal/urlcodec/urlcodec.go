// Package urlcodec rewrites external URLs onto proxy host labels and back.
package urlcodec

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/die-net/samehost/internal/codec"
	"github.com/die-net/samehost/internal/registry"
	"github.com/die-net/samehost/internal/tld"
)

// neutralScheme stands in for the missing scheme of a protocol-relative URL
// while it is parsed.
const neutralScheme = "samehost-neutral"

// ErrNotProxied is returned by Decode when the host is not a proxy host label.
var ErrNotProxied = errors.New("not a proxied host")

// InvalidReferenceError reports a proxy-shaped host that does not resolve,
// either because the code was never issued or the protocol tag is unknown.
type InvalidReferenceError struct {
	Host string
	Err  error
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid proxy reference %q: %v", e.Host, e.Err)
}

func (e *InvalidReferenceError) Unwrap() error {
	return e.Err
}

// Registry is the subset of registry.Registry the codec needs.
type Registry interface {
	QueryOrAddDomain(ctx context.Context, host string) (string, error)
	Lookup(ctx context.Context, code string) (registry.Mapping, error)
}

// Config describes how the proxy is reached from the outside.
type Config struct {
	// Scheme is the outward scheme, "http" or "https".
	Scheme string
	// Suffix is the proxy's own domain.
	Suffix string
	// Port is the outward port, or 0 for the scheme default.
	Port int
	// NoRewrite holds host substrings that are never proxied.
	NoRewrite []string
}

type Codec struct {
	scheme    string
	suffix    string
	port      int
	noRewrite []string
	reg       Registry

	hostRe *regexp.Regexp
	urlRe  *regexp.Regexp
}

func New(cfg Config, reg Registry) (*Codec, error) {
	scheme := strings.ToLower(cfg.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("urlcodec: unsupported scheme %q", cfg.Scheme)
	}
	suffix := strings.Trim(strings.ToLower(cfg.Suffix), ".")
	if suffix == "" {
		return nil, errors.New("urlcodec: missing suffix")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("urlcodec: invalid port %d", cfg.Port)
	}

	var noRewrite []string
	for _, s := range cfg.NoRewrite {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			noRewrite = append(noRewrite, s)
		}
	}

	return &Codec{
		scheme:    scheme,
		suffix:    suffix,
		port:      cfg.Port,
		noRewrite: noRewrite,
		reg:       reg,
		hostRe:    regexp.MustCompile(`^([a-z0-9][a-z0-9-]*)-([a-z0-9]+)\.` + regexp.QuoteMeta(suffix) + `$`),
		urlRe:     tld.MustCompileURLPattern(suffix[strings.LastIndexByte(suffix, '.')+1:]),
	}, nil
}

// Pattern returns the URL detection expression shared by every rewrite pass.
func (c *Codec) Pattern() *regexp.Regexp {
	return c.urlRe
}

// Suffix returns the proxy's own domain.
func (c *Codec) Suffix() string {
	return c.suffix
}

// AccessSuffix returns the suffix with the outward port, if any.
func (c *Codec) AccessSuffix() string {
	if c.port == 0 {
		return c.suffix
	}
	return c.suffix + ":" + strconv.Itoa(c.port)
}

// Scheme returns the outward scheme.
func (c *Codec) Scheme() string {
	return c.scheme
}

// ParseHost splits a proxy host label into code and protocol tag.
func (c *Codec) ParseHost(host string) (code, tag string, ok bool) {
	m := c.hostRe.FindStringSubmatch(strings.TrimSuffix(strings.ToLower(host), "."))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// OwnHost reports whether host is the suffix or below it.
func (c *Codec) OwnHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == c.suffix || strings.HasSuffix(host, "."+c.suffix)
}

func (c *Codec) excluded(host string) bool {
	for _, s := range c.noRewrite {
		if strings.Contains(host, s) {
			return true
		}
	}
	return false
}

// Encode maps an absolute or protocol-relative URL onto the proxy.
//
// URLs already under the suffix or matching the no-rewrite list come back
// unchanged, so Encode is idempotent. Protocol-relative input, and any scheme
// other than http and https, produces a protocol-relative URL with the
// neutral tag.
func (c *Codec) Encode(ctx context.Context, raw string) (string, error) {
	src := raw
	if strings.HasPrefix(raw, "//") {
		src = neutralScheme + ":" + raw
	}
	u, err := url.Parse(src)
	if err != nil {
		return "", &registry.ValidationError{Field: "url", Reason: err.Error()}
	}
	host := u.Hostname()
	if host == "" {
		return "", &registry.ValidationError{Field: "url", Reason: fmt.Sprintf("%q has no host", raw)}
	}
	if c.OwnHost(host) || c.excluded(strings.ToLower(host)) {
		return raw, nil
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return "", &registry.ValidationError{Field: "url", Reason: fmt.Sprintf("bad port %q", p)}
		}
	}

	tag := codec.EncodeTag(u.Scheme, port)
	code, err := c.reg.QueryOrAddDomain(ctx, host)
	if err != nil {
		return "", err
	}

	u.Host = code + "-" + tag + "." + c.AccessSuffix()
	if tag == codec.TagNeutral {
		u.Scheme = ""
	} else {
		u.Scheme = c.scheme
	}
	return u.String(), nil
}

// Decode maps a proxy URL back to the external URL it stands for.
//
// u.Scheme must be the scheme the proxy was reached with; the neutral tag
// resolves to it. Proxy URLs embedded in query values are decoded too, each
// with the same leniency. When lenient is set every failure returns u
// unchanged and a nil error. Otherwise a host that is not a proxy label
// returns ErrNotProxied and an unresolvable one an *InvalidReferenceError.
func (c *Codec) Decode(ctx context.Context, u *url.URL, lenient bool) (*url.URL, error) {
	out, err := c.decode(ctx, u, lenient)
	if err != nil {
		if lenient {
			return u, nil
		}
		return nil, err
	}
	return out, nil
}

func (c *Codec) decode(ctx context.Context, u *url.URL, lenient bool) (*url.URL, error) {
	code, tag, ok := c.ParseHost(u.Hostname())
	if !ok {
		return nil, ErrNotProxied
	}

	m, err := c.reg.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, &InvalidReferenceError{Host: u.Host, Err: err}
		}
		return nil, err
	}

	scheme, port, err := codec.DecodeTag(tag, u.Scheme)
	if err != nil {
		return nil, &InvalidReferenceError{Host: u.Host, Err: err}
	}

	query, err := c.unwindQuery(ctx, u.RawQuery, lenient)
	if err != nil {
		return nil, err
	}

	return &url.URL{
		Scheme:      scheme,
		User:        u.User,
		Host:        hostPort(m.Name, port),
		Path:        u.Path,
		RawPath:     u.RawPath,
		RawQuery:    query,
		Fragment:    u.Fragment,
		RawFragment: u.RawFragment,
	}, nil
}

// DecodeString is Decode for a URL in string form, absolute or
// protocol-relative.
func (c *Codec) DecodeString(ctx context.Context, raw string, lenient bool) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		if lenient {
			return raw, nil
		}
		return "", &registry.ValidationError{Field: "url", Reason: err.Error()}
	}
	out, err := c.Decode(ctx, u, lenient)
	if err != nil {
		return "", err
	}
	if out == u {
		return raw, nil
	}
	return out.String(), nil
}

// unwindQuery decodes proxy URLs found in query values. Pairs that do not
// change keep their original encoding and position.
func (c *Codec) unwindQuery(ctx context.Context, rawQuery string, lenient bool) (string, error) {
	if rawQuery == "" || !strings.Contains(strings.ToLower(rawQuery), c.suffix) {
		return rawQuery, nil
	}

	pairs := strings.Split(rawQuery, "&")
	for i, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		nv, err := c.unwindValue(ctx, val, lenient)
		if err != nil {
			return "", err
		}
		if nv != val {
			pairs[i] = k + "=" + strings.ReplaceAll(url.QueryEscape(nv), "%2C", ",")
		}
	}
	return strings.Join(pairs, "&"), nil
}

func (c *Codec) unwindValue(ctx context.Context, val string, lenient bool) (string, error) {
	locs := c.urlRe.FindAllStringIndex(val, -1)
	if locs == nil {
		return val, nil
	}

	var b strings.Builder
	last := 0
	for _, loc := range locs {
		s := val[loc[0]:loc[1]]
		d, err := c.decodeMatch(ctx, s, lenient)
		if err != nil {
			return "", err
		}
		b.WriteString(val[last:loc[0]])
		b.WriteString(d)
		last = loc[1]
	}
	b.WriteString(val[last:])
	return b.String(), nil
}

// decodeMatch decodes one URL found in a query value. Matches whose host is
// not a proxy label are kept as they are, parseable or not.
func (c *Codec) decodeMatch(ctx context.Context, s string, lenient bool) (string, error) {
	if _, _, ok := c.ParseHost(matchHost(s)); !ok {
		return s, nil
	}
	d, err := c.DecodeString(ctx, s, lenient)
	if errors.Is(err, ErrNotProxied) {
		return s, nil
	}
	return d, err
}

// matchHost extracts the host of a detected URL without parsing it.
func matchHost(s string) string {
	if i := strings.Index(s, "//"); i >= 0 {
		s = s[i+2:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		return h
	}
	return s
}

func hostPort(host string, port int) string {
	if port != 0 {
		return net.JoinHostPort(host, strconv.Itoa(port))
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}
