package codec

import (
	"slices"
	"strings"

	"golang.org/x/net/idna"

	"github.com/die-net/samehost/internal/randstr"
	"github.com/die-net/samehost/internal/tld"
)

// opaqueLen is the length of the random code handed out for blacklisted hosts.
const opaqueLen = 10

// Config holds the deployment-specific inputs of the transform.
type Config struct {
	// Replacements maps a whole hostname label to a substitute label.
	Replacements map[string]string
	// Blacklist holds substrings; a matching host never gets a stable code.
	Blacklist []string
}

// Codec turns hostnames into short DNS-label-safe codes.
type Codec struct {
	replacements map[string]string
	blacklist    []string
	rnd          randstr.Source
}

// New returns a Codec. rnd supplies the opaque codes for blacklisted hosts.
func New(cfg Config, rnd randstr.Source) *Codec {
	if rnd == nil {
		rnd = randstr.Crypto
	}
	return &Codec{
		replacements: cfg.Replacements,
		blacklist:    slices.DeleteFunc(slices.Clone(cfg.Blacklist), func(s string) bool { return s == "" }),
		rnd:          rnd,
	}
}

// Blacklisted reports whether host contains any blacklisted substring.
func (c *Codec) Blacklisted(host string) bool {
	for _, b := range c.blacklist {
		if strings.Contains(host, b) {
			return true
		}
	}
	return false
}

// Transform computes the candidate code for host.
//
// The default mode substitutes configured labels, drops "www", strips a
// recognized country/generic suffix and reverses what is left so the most
// significant label comes first. Restricted mode only joins the original
// labels and is used after a code collision.
func (c *Codec) Transform(host string, restricted bool) string {
	host = Normalize(host)
	if c.Blacklisted(host) {
		return c.rnd.String(opaqueLen)
	}
	if restricted {
		return joinLabels(strings.Split(host, "."))
	}

	labels := strings.Split(host, ".")
	for i, l := range labels {
		if r, ok := c.replacements[l]; ok {
			labels[i] = r
		}
	}
	labels = slices.DeleteFunc(labels, func(l string) bool { return l == "www" })

	end := len(labels)
	for end > 0 && tld.IsCountry(labels[end-1]) {
		end--
	}
	start := end
	for start > 0 && tld.IsTop(labels[start-1]) {
		start--
	}

	switch {
	case start < end:
		// A generic label was found: drop the whole suffix run.
		labels = labels[:start]
		slices.Reverse(labels)
	case len(labels) > 1:
		// Unknown suffix: keep the last label last, next to the proxy suffix.
		slices.Reverse(labels[:len(labels)-1])
	}

	if len(labels) == 0 {
		return joinLabels(strings.Split(host, "."))
	}
	return joinLabels(labels)
}

// Normalize lower-cases host, drops trailing dots and converts IDN labels
// to their ASCII form.
func Normalize(host string) string {
	host = strings.ToLower(strings.TrimRight(strings.TrimSpace(host), "."))
	if a, err := idna.Lookup.ToASCII(host); err == nil && a != "" {
		return a
	}
	return host
}

// joinLabels joins labels with "-" and maps anything outside [a-z0-9-] to "-".
func joinLabels(labels []string) string {
	b := []byte(strings.ToLower(strings.Join(labels, "-")))
	for i, ch := range b {
		if (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') && ch != '-' {
			b[i] = '-'
		}
	}
	return strings.Trim(string(b), "-")
}
