package proxy

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

func compress(t *testing.T, enc, s string) []byte {
	t.Helper()

	var (
		buf bytes.Buffer
		w   io.WriteCloser
		err error
	)
	switch enc {
	case "gzip":
		return gzipped(t, s)
	case "zlib":
		w = zlib.NewWriter(&buf)
	case "flate":
		w, err = flate.NewWriter(&buf, flate.DefaultCompression)
	case "br":
		w = brotli.NewWriter(&buf)
	case "zstd":
		w, err = zstd.NewWriter(&buf)
	default:
		t.Fatalf("unknown encoding %q", enc)
	}
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, s); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeBody(t *testing.T) {
	t.Parallel()

	const text = "<p>https://www.example.com/</p>"

	tests := []struct {
		name     string
		encoding string
		raw      []byte
	}{
		{name: "identity", encoding: "", raw: []byte(text)},
		{name: "gzip", encoding: "gzip", raw: compress(t, "gzip", text)},
		{name: "x-gzip", encoding: "X-Gzip", raw: compress(t, "gzip", text)},
		{name: "deflate zlib", encoding: "deflate", raw: compress(t, "zlib", text)},
		{name: "deflate raw", encoding: "deflate", raw: compress(t, "flate", text)},
		{name: "brotli", encoding: "br", raw: compress(t, "br", text)},
		{name: "zstd", encoding: "zstd", raw: compress(t, "zstd", text)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeBody(tt.encoding, tt.raw, 1024)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != text {
				t.Fatalf("got %q", got)
			}
		})
	}
}

func TestDecodeBodyErrors(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("a", 100)

	if _, err := decodeBody("compress", []byte("x"), 10); !errors.Is(err, errUnknownEncoding) {
		t.Errorf("unknown encoding err=%v", err)
	}
	if _, err := decodeBody("", []byte(big), 10); !errors.Is(err, errTooLarge) {
		t.Errorf("identity err=%v", err)
	}
	// Compresses well below the limit but expands beyond it.
	if _, err := decodeBody("gzip", compress(t, "gzip", big), 50); !errors.Is(err, errTooLarge) {
		t.Errorf("gzip bomb err=%v", err)
	}
	if _, err := decodeBody("gzip", []byte("not gzip"), 50); err == nil {
		t.Error("corrupt gzip accepted")
	}
}

func TestReadLimited(t *testing.T) {
	t.Parallel()

	buf, rest, ok, err := readLimited(io.NopCloser(strings.NewReader("short")), 10)
	if err != nil || !ok || rest != nil || string(buf) != "short" {
		t.Fatalf("short body: %q %v %v %v", buf, rest, ok, err)
	}

	long := strings.Repeat("0123456789", 5)
	_, rest, ok, err = readLimited(io.NopCloser(strings.NewReader(long)), 10)
	if err != nil || ok {
		t.Fatalf("long body ok=%v err=%v", ok, err)
	}
	got, err := io.ReadAll(rest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != long {
		t.Fatalf("replayed %q", got)
	}
}
