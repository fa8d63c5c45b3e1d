package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding is what the proxy asks upstreams for; decodeBody handles
// each of these.
const acceptEncoding = "gzip, deflate, br, zstd"

var (
	errUnknownEncoding = errors.New("unsupported content encoding")
	errTooLarge        = errors.New("body too large to rewrite")
)

// decodeBody undoes a single Content-Encoding. The decoded body may not
// exceed limit bytes.
func decodeBody(encoding string, raw []byte, limit int64) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		if int64(len(raw)) > limit {
			return nil, errTooLarge
		}
		return raw, nil
	case "gzip", "x-gzip":
		r, err = gzip.NewReader(bytes.NewReader(raw))
	case "deflate":
		// Some servers send raw deflate instead of zlib.
		r, err = zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			r, err = flate.NewReader(bytes.NewReader(raw)), nil
		}
	case "br":
		r = brotli.NewReader(bytes.NewReader(raw))
	case "zstd":
		d, zerr := zstd.NewReader(bytes.NewReader(raw), zstd.WithDecoderConcurrency(1))
		if zerr != nil {
			return nil, fmt.Errorf("zstd: %w", zerr)
		}
		defer d.Close()
		r = d
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownEncoding, encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", encoding, err)
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", encoding, err)
	}
	if int64(len(out)) > limit {
		return nil, errTooLarge
	}
	return out, nil
}

// readLimited reads up to limit bytes of rc. When rc holds more, the
// returned reader replays what was read followed by the rest of rc and ok is
// false.
func readLimited(rc io.ReadCloser, limit int64) (buf []byte, rest io.ReadCloser, ok bool, err error) {
	buf, err = io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, nil, false, err
	}
	if int64(len(buf)) <= limit {
		_ = rc.Close()
		return buf, nil, true, nil
	}
	return nil, struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), rc), rc}, false, nil
}
