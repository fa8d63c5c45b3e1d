package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/samehost/internal/config"
	"github.com/die-net/samehost/internal/registry"
	"github.com/die-net/samehost/internal/rewrite"
	"github.com/die-net/samehost/internal/urlcodec"
)

// noExtension matches a path whose last segment has no file extension.
var noExtension = regexp.MustCompile(`/[a-zA-Z0-9]*$`)

// Options wires a Handler.
type Options struct {
	Site     *config.Site
	Codec    *urlcodec.Codec
	Rewriter *rewrite.Rewriter
	Sessions *Sessions

	// Transport performs upstream requests. NewTransport builds the
	// production one.
	Transport http.RoundTripper

	// TrustForwardedProto takes the inbound scheme from X-Forwarded-Proto.
	TrustForwardedProto bool

	Log zerolog.Logger
}

// Handler is the proxy's http.Handler.
type Handler struct {
	site     *config.Site
	codec    *urlcodec.Codec
	rewriter *rewrite.Rewriter
	sessions *Sessions
	trustFwd bool
	log      zerolog.Logger

	rp *httputil.ReverseProxy
}

type upstreamKey struct{}

// upstream is the per-request state shared by the ReverseProxy hooks.
type upstream struct {
	target *url.URL
	jar    http.CookieJar
	start  time.Time
	method string
}

func NewHandler(o Options) *Handler {
	h := &Handler{
		site:     o.Site,
		codec:    o.Codec,
		rewriter: o.Rewriter,
		sessions: o.Sessions,
		trustFwd: o.TrustForwardedProto,
		log:      o.Log.With().Str("component", "proxy").Logger(),
	}
	h.rp = &httputil.ReverseProxy{
		Rewrite:        h.rewriteRequest,
		ModifyResponse: h.modifyResponse,
		Transport:      o.Transport,
		FlushInterval:  10 * time.Millisecond, // Only buffer incomplete responses briefly
		ErrorHandler:   h.proxyError,
		BufferPool:     NewBufferPool(32768),
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scheme := h.inboundScheme(r)

	in := &url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	target, err := h.codec.Decode(ctx, in, false)
	if errors.Is(err, urlcodec.ErrNotProxied) {
		h.serveEntry(w, r)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	st := &upstream{
		target: target,
		jar:    h.sessions.Jar(w, r, scheme == "https"),
		start:  time.Now(),
		method: r.Method,
	}
	h.rp.ServeHTTP(w, r.WithContext(context.WithValue(ctx, upstreamKey{}, st)))
}

func (h *Handler) inboundScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if h.trustFwd && strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		return "https"
	}
	return "http"
}

// serveEntry redirects "/{url}" on a non-proxy host to the proxied form of
// url.
func (h *Handler) serveEntry(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.RequestURI(), "/")
	if raw == "" {
		http.Error(w, "missing target URL", http.StatusBadRequest)
		return
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "http://" + raw
	}

	enc, err := h.codec.Encode(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if enc == raw {
		http.Error(w, "target is not proxied", http.StatusBadRequest)
		return
	}

	h.log.Debug().Str("target", raw).Str("location", enc).Msg("entry redirect")
	w.Header().Set("Location", enc)
	w.WriteHeader(http.StatusFound)
}

func (h *Handler) rewriteRequest(pr *httputil.ProxyRequest) {
	st := pr.In.Context().Value(upstreamKey{}).(*upstream)
	ctx := pr.In.Context()

	target := *st.target
	target.Fragment, target.RawFragment = "", ""
	pr.Out.URL = &target
	pr.Out.Host = ""
	pr.Out.Header = h.upstreamHeader(ctx, pr.In.Header)
	for _, c := range st.jar.Cookies(&target) {
		pr.Out.AddCookie(c)
	}
}

func (h *Handler) modifyResponse(resp *http.Response) error {
	ctx := resp.Request.Context()
	st := ctx.Value(upstreamKey{}).(*upstream)

	if cookies := resp.Cookies(); len(cookies) > 0 {
		st.jar.SetCookies(st.target, cookies)
	}

	header, err := h.clientHeader(ctx, resp.Header)
	if err != nil {
		return err
	}
	header.Set("X-Original-Url", st.target.String())
	resp.Header = header

	if err := h.rewriteBody(ctx, resp, st.target); err != nil {
		return err
	}

	h.log.Info().
		Str("method", st.method).
		Str("target", st.target.String()).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(st.start)).
		Msg("proxied")
	return nil
}

// rewriteBody replaces resp.Body with its rewritten, decoded form when the
// content qualifies. Everything else passes through as received.
func (h *Handler) rewriteBody(ctx context.Context, resp *http.Response, target *url.URL) error {
	lengthPrefixed := slices.ContainsFunc(h.site.LengthPrefixedPaths, func(p string) bool {
		return p != "" && strings.HasPrefix(target.Path, p)
	})
	if !lengthPrefixed && !h.rewritable(resp.Header.Get("Content-Type"), target.Path) {
		return nil
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil
	}
	limit := h.site.MaxRewriteBytes
	if resp.ContentLength > limit {
		return nil
	}

	raw, rest, ok, err := readLimited(resp.Body, limit)
	if err != nil {
		return err
	}
	if !ok {
		resp.Body = rest
		return nil
	}

	encoding := resp.Header.Get("Content-Encoding")
	text, err := decodeBody(encoding, raw, limit)
	if err != nil {
		h.log.Debug().Err(err).Str("target", target.String()).Msg("body passed through")
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		return nil
	}

	var out string
	if lengthPrefixed {
		out, err = h.rewriter.RewriteLengthPrefixed(ctx, string(text))
	} else {
		out, err = h.rewriter.RewriteContent(ctx, string(text))
	}
	if err != nil {
		return err
	}

	resp.Body = io.NopCloser(strings.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Del("Content-Encoding")
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	return nil
}

func (h *Handler) rewritable(contentType, path string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if slices.Contains(h.site.MIMEWhitelist, mt) {
		return true
	}
	return slices.Contains(h.site.MIMEWhitelistWithoutExtension, mt) && noExtension.MatchString(path)
}

func (h *Handler) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		h.log.Debug().Err(err).Str("host", r.Host).Msg("client went away")
		return
	}
	target := ""
	if st, ok := r.Context().Value(upstreamKey{}).(*upstream); ok {
		target = st.target.String()
	}
	h.log.Warn().Err(err).Str("method", r.Method).Str("target", target).Msg("upstream request failed")
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

// writeError answers a codec or registry failure.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *registry.ValidationError
		ie *urlcodec.InvalidReferenceError
		ce *registry.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case errors.As(err, &ie):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.As(err, &ce):
		h.log.Error().Err(err).Str("host", r.Host).Msg("domain code conflict")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	case errors.Is(err, context.Canceled):
		h.log.Debug().Err(err).Str("host", r.Host).Msg("client went away")
	default:
		h.log.Warn().Err(err).Str("host", r.Host).Str("uri", r.RequestURI).Msg("request failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
