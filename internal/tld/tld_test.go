package tld

import (
	"testing"
)

func TestTablesDisjoint(t *testing.T) {
	t.Parallel()

	for l := range countryDomains {
		if IsTop(l) {
			t.Errorf("%q is both a country and a top label", l)
		}
	}
}

func TestURLPattern(t *testing.T) {
	t.Parallel()

	re := MustCompileURLPattern("test")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "https", in: `<a href="https://www.example.com/a?b=c">`, want: "https://www.example.com/a?b=c"},
		{name: "http with port", in: "go to http://example.org:8080/x now", want: "http://example.org:8080/x"},
		{name: "protocol relative", in: `src='//cdn.example.net/app.js'`, want: "//cdn.example.net/app.js"},
		{name: "longest label wins", in: "//example.com/", want: "//example.com/"},
		{name: "country suffix", in: "https://bbc.co.uk", want: "https://bbc.co.uk"},
		{name: "extra label", in: "https://abc-hs.proxy.test/x", want: "https://abc-hs.proxy.test/x"},
		{name: "upper case", in: "HTTPS://EXAMPLE.COM/", want: "HTTPS://EXAMPLE.COM/"},
		{name: "unknown label", in: "https://example.invalidtld/", want: ""},
		{name: "no scheme or slashes", in: "example.com", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := re.FindString(tt.in); got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}
