package proxy

import (
	"context"
	"net/http"
	"strings"
)

// requestHeaders are forwarded upstream unchanged.
var requestHeaders = []string{
	"User-Agent",
	"Accept",
	"Accept-Language",
	"Access-Control-Request-Headers",
	"Access-Control-Request-Method",
	"Range",
	"Content-Type",
}

// requestURLHeaders carry proxy URLs that are mapped back before forwarding.
var requestURLHeaders = []string{"Referer", "Origin"}

// responseHeaders are returned to the client unchanged.
var responseHeaders = []string{
	"Access-Control-Allow-Credentials",
	"Access-Control-Expose-Headers",
	"Access-Control-Max-Age",
	"Access-Control-Allow-Methods",
	"Access-Control-Allow-Headers",
	"Accept-Ranges",
	"Accept-Patch",
	"Allow",
	"Cache-Control",
	"Date",
	"ETag",
	"Expires",
	"IM",
	"Last-Modified",
	"Pragma",
	"P3P",
	"Retry-After",
	"Server",
	"Tk",
	"Vary",
	"Warning",
	"X-Frame-Options",
	"X-UA-Compatible",
	"X-XSS-Protection",
	"X-Content-Type-Options",
	"X-Content-Duration",
	"Content-Type",
	"Content-Language",
	"Content-Range",
	"Content-Encoding",
	"Content-Length",
}

func (h *Handler) upstreamHeader(ctx context.Context, in http.Header) http.Header {
	out := make(http.Header, len(requestHeaders)+len(requestURLHeaders)+1)
	copyHeaders(out, in, requestHeaders)

	for _, k := range requestURLHeaders {
		for _, v := range in.Values(k) {
			// Lenient decoding never fails; foreign values pass through.
			d, _ := h.codec.DecodeString(ctx, v, true)
			out.Add(k, d)
		}
	}

	out.Set("Accept-Encoding", acceptEncoding)
	return out
}

func (h *Handler) clientHeader(ctx context.Context, in http.Header) (http.Header, error) {
	out := make(http.Header, len(responseHeaders)+4)
	copyHeaders(out, in, responseHeaders)

	for _, v := range in.Values("Location") {
		enc, err := h.codec.Encode(ctx, v)
		if err != nil {
			// Relative redirects stay valid on the proxy host.
			enc = v
		}
		out.Add("Location", enc)
	}

	for _, k := range []string{"Link", "Refresh"} {
		for _, v := range in.Values(k) {
			rv, err := h.rewriter.RewriteURLs(ctx, v)
			if err != nil {
				return nil, err
			}
			out.Add(k, rv)
		}
	}

	for _, v := range in.Values("Access-Control-Allow-Origin") {
		out.Add("Access-Control-Allow-Origin", h.allowOrigin(ctx, v))
	}
	return out, nil
}

// allowOrigin maps each origin of a comma separated list onto the proxy.
func (h *Handler) allowOrigin(ctx context.Context, v string) string {
	if strings.TrimSpace(v) == "*" {
		return "*"
	}
	origins := strings.Split(v, ",")
	for i, o := range origins {
		o = strings.TrimSpace(o)
		if enc, err := h.codec.Encode(ctx, o); err == nil {
			o = enc
		}
		origins[i] = strings.TrimSuffix(o, "/")
	}
	return strings.Join(origins, ", ")
}

func copyHeaders(dst, src http.Header, keys []string) {
	for _, k := range keys {
		if vv := src.Values(k); len(vv) > 0 {
			dst[http.CanonicalHeaderKey(k)] = append([]string(nil), vv...)
		}
	}
}
