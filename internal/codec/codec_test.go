package codec

import (
	"errors"
	"testing"

	"github.com/die-net/samehost/internal/randstr"
)

func TestTransform(t *testing.T) {
	t.Parallel()

	c := New(Config{
		Replacements: map[string]string{"google": "gg"},
		Blacklist:    []string{"tracker"},
	}, randstr.NewSeeded(1))

	tests := []struct {
		name       string
		host       string
		restricted bool
		want       string
	}{
		{name: "www and suffix dropped", host: "www.example.com", want: "example"},
		{name: "subdomains reversed", host: "a.b.example.com", want: "example-b-a"},
		{name: "country and generic suffix", host: "www.bbc.co.uk", want: "bbc"},
		{name: "second level under country", host: "shop.example.com.cn", want: "example-shop"},
		{name: "country only keeps last label", host: "example.io", want: "example-io"},
		{name: "unknown suffix keeps last label last", host: "foo.bar.example.io", want: "example-bar-foo-io"},
		{name: "unknown label", host: "intranet.local", want: "intranet-local"},
		{name: "single label", host: "localhost", want: "localhost"},
		{name: "only suffix falls back to restricted", host: "co.uk", want: "co-uk"},
		{name: "keyword replacement", host: "www.google.com", want: "gg"},
		{name: "case and trailing dot", host: "WWW.Example.COM.", want: "example"},
		{name: "idn", host: "bücher.de", want: "xn--bcher-kva-de"},
		{name: "invalid characters", host: "my_host.example.com", want: "example-my-host"},
		{name: "restricted", host: "www.example.com", restricted: true, want: "www-example-com"},
		{name: "restricted skips replacement", host: "google.com", restricted: true, want: "google-com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Transform(tt.host, tt.restricted); got != tt.want {
				t.Fatalf("Transform(%q, %v)=%q want %q", tt.host, tt.restricted, got, tt.want)
			}
		})
	}
}

func TestTransformBlacklisted(t *testing.T) {
	t.Parallel()

	c := New(Config{Blacklist: []string{"tracker", ""}}, randstr.NewSeeded(7))

	if !c.Blacklisted("ads.tracker.net") {
		t.Fatal("expected host to be blacklisted")
	}
	if c.Blacklisted("example.com") {
		t.Fatal("empty blacklist entry must not match everything")
	}

	a := c.Transform("ads.tracker.net", false)
	b := c.Transform("ads.tracker.net", false)
	if len(a) != opaqueLen || len(b) != opaqueLen {
		t.Fatalf("unexpected opaque codes %q %q", a, b)
	}
	if a == b {
		t.Fatalf("blacklisted host got a stable code %q", a)
	}
}

func TestTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		scheme  string
		port    int
		tag     string
		inbound string
		wantSch string
		wantPrt int
	}{
		{scheme: "https", tag: "hs", wantSch: "https"},
		{scheme: "https", port: 443, tag: "hs", wantSch: "https"},
		{scheme: "http", tag: "h", wantSch: "http"},
		{scheme: "HTTP", port: 80, tag: "h", wantSch: "http"},
		{scheme: "http", port: 8080, tag: "p8080", wantSch: "http", wantPrt: 8080},
		{scheme: "https", port: 8443, tag: "s8443", wantSch: "https", wantPrt: 8443},
		{scheme: "ftp", tag: "m", inbound: "https", wantSch: "https"},
		{scheme: "", tag: "m", inbound: "http", wantSch: "http"},
	}

	for _, tt := range tests {
		t.Run(tt.tag+"/"+tt.scheme, func(t *testing.T) {
			if got := EncodeTag(tt.scheme, tt.port); got != tt.tag {
				t.Fatalf("EncodeTag(%q, %d)=%q want %q", tt.scheme, tt.port, got, tt.tag)
			}
			sch, port, err := DecodeTag(tt.tag, tt.inbound)
			if err != nil {
				t.Fatal(err)
			}
			if sch != tt.wantSch || port != tt.wantPrt {
				t.Fatalf("DecodeTag(%q)=(%q, %d) want (%q, %d)", tt.tag, sch, port, tt.wantSch, tt.wantPrt)
			}
		})
	}
}

func TestDecodeTagNeutralFollowsInbound(t *testing.T) {
	t.Parallel()

	// The neutral tag is not a fixed scheme: the same label decodes
	// differently depending on how the proxy was reached.
	for _, inbound := range []string{"http", "https"} {
		sch, _, err := DecodeTag(TagNeutral, inbound)
		if err != nil {
			t.Fatal(err)
		}
		if sch != inbound {
			t.Fatalf("neutral tag decoded to %q on %q connection", sch, inbound)
		}
	}
}

func TestDecodeTagInvalid(t *testing.T) {
	t.Parallel()

	for _, tag := range []string{"", "x", "hss", "p", "s", "p0", "p65536", "p123456", "p+80", "p8o", "q80"} {
		t.Run(tag, func(t *testing.T) {
			if _, _, err := DecodeTag(tag, "https"); !errors.Is(err, ErrUnknownTag) {
				t.Fatalf("DecodeTag(%q) err=%v want ErrUnknownTag", tag, err)
			}
		})
	}
}

func TestDecodeTagDefaultPort(t *testing.T) {
	t.Parallel()

	sch, port, err := DecodeTag("s443", "http")
	if err != nil {
		t.Fatal(err)
	}
	if sch != "https" || port != 0 {
		t.Fatalf("got (%q, %d)", sch, port)
	}
}
