package rewrite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/die-net/samehost/internal/codec"
	"github.com/die-net/samehost/internal/randstr"
	"github.com/die-net/samehost/internal/registry"
	"github.com/die-net/samehost/internal/urlcodec"
)

func newTestRewriter(t *testing.T, tolerance *int, aliases ...string) *Rewriter {
	t.Helper()

	reg := registry.New(registry.NewMemoryStore(), codec.New(codec.Config{}, randstr.NewSeeded(1)))
	uc, err := urlcodec.New(urlcodec.Config{Scheme: "https", Suffix: "proxy.test"}, reg)
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{Aliases: aliases, AccessSuffix: uc.AccessSuffix(), LengthTolerance: tolerance}
	return New(cfg, uc.Pattern(), uc, reg, randstr.NewSeeded(2), zerolog.Nop())
}

func TestRewriteContent(t *testing.T) {
	t.Parallel()

	r := newTestRewriter(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "two hosts",
			in:   "visit http://a.example.com/x and http://b.example.net/y",
			want: "visit https://example-a-h.proxy.test/x and https://example-b-h.proxy.test/y",
		},
		{
			name: "html attributes",
			in:   `<a href="https://www.example.com/p?q=1">x</a><script src='//cdn.example.net/a.js'></script>`,
			want: `<a href="https://example-hs.proxy.test/p?q=1">x</a><script src='//example-cdn-m.proxy.test/a.js'></script>`,
		},
		{
			name: "already proxied",
			in:   "go to https://example-hs.proxy.test/ now",
			want: "go to https://example-hs.proxy.test/ now",
		},
		{
			name: "other scheme",
			in:   "open x-app://www.example.com/deep",
			want: "open x-app://www.example.com/deep",
		},
		{
			name: "bad port left alone",
			in:   "http://www.example.com:99999/",
			want: "http://www.example.com:99999/",
		},
		{
			name: "no urls",
			in:   "plain text, nothing to see",
			want: "plain text, nothing to see",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.RewriteContent(ctx, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestRewriteAliasesDoNotTouchEncodedURLs(t *testing.T) {
	t.Parallel()

	r := newTestRewriter(t, nil, "example.com")
	ctx := context.Background()

	in := `var host = "example.com"; fetch("https://www.example.com/api")`
	got, err := r.RewriteContent(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	// "example" is taken by www.example.com, so the alias gets the
	// restricted code.
	want := `var host = "example-com-m.proxy.test"; fetch("https://example-hs.proxy.test/api")`
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}

	// Header mode never applies aliases.
	got, err = r.RewriteURLs(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if want := `var host = "example.com"; fetch("https://example-hs.proxy.test/api")`; got != want {
		t.Fatalf("RewriteURLs got %q", got)
	}
}

// repeatSource yields placeholders made of one word, the worst case for
// alias substitution.
type repeatSource string

func (s repeatSource) String(n int) string {
	return strings.Repeat(string(s), n/len(s)+1)[:n]
}

func TestRewriteAliasesDoNotTouchPlaceholders(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.NewMemoryStore(), codec.New(codec.Config{}, randstr.NewSeeded(1)))
	uc, err := urlcodec.New(urlcodec.Config{Scheme: "https", Suffix: "proxy.test"}, reg)
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{Aliases: []string{"google", "e.goo"}, AccessSuffix: uc.AccessSuffix()}
	r := New(cfg, uc.Pattern(), uc, reg, repeatSource("googl"), zerolog.Nop())

	in := "google e.https://www.example.com/x"
	got, err := r.RewriteContent(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if want := "google e.https://example-hs.proxy.test/x"; got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestRewriteCanceled(t *testing.T) {
	t.Parallel()

	r := newTestRewriter(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := "see https://www.example.com/"
	got, err := r.RewriteContent(ctx, in)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if got != in {
		t.Fatalf("canceled rewrite changed text: %q", got)
	}
}

func TestRewriteLengthPrefixed(t *testing.T) {
	t.Parallel()

	zero := 0
	tests := []struct {
		name      string
		tolerance *int
		in        string
		want      string
	}{
		{
			name:      "exact length",
			tolerance: &zero,
			in:        "1b;go https://www.example.com/",
			want:      "21;go https://example-hs.proxy.test/",
		},
		{
			name: "offset kept",
			in:   "1c;go https://www.example.com/",
			want: "22;go https://example-hs.proxy.test/",
		},
		{
			name: "offset beyond tolerance",
			in:   "1e;go https://www.example.com/",
			want: "1e;go https://www.example.com/",
		},
		{
			name:      "no urls",
			tolerance: &zero,
			in:        "5;hello",
			want:      "5;hello",
		},
		{
			name: "unprefixed line",
			in:   "go https://www.example.com/",
			want: "go https://www.example.com/",
		},
		{
			name: "mixed lines",
			in:   "5;hello\n1b;go https://www.example.com/\n\nzz;https://www.example.com/",
			want: "5;hello\n21;go https://example-hs.proxy.test/\n\nzz;https://www.example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRewriter(t, tt.tolerance)
			got, err := r.RewriteLengthPrefixed(context.Background(), tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestUTF16Len(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{in: "", want: 0},
		{in: "hello", want: 5},
		{in: "h\u00e9llo", want: 5},
		{in: "a\U0001F600b", want: 4},
		{in: strings.Repeat("\u00fc", 3), want: 3},
	}
	for _, tt := range tests {
		if got := utf16Len(tt.in); got != tt.want {
			t.Errorf("utf16Len(%q)=%d want %d", tt.in, got, tt.want)
		}
	}
}
