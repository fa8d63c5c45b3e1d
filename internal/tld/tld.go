package tld

import (
	"regexp"
	"slices"
	"strings"
)

// countryDomains are the ISO 3166 two-letter country code labels. "ac" and
// "co" are absent because they are far more common as the generic second
// level of a country suffix (co.uk, ac.jp) and live in topDomains instead.
var countryDomains = set(
	"ad", "ae", "af", "ag", "ai", "al", "am", "ao", "aq", "ar", "as", "at", "au", "aw", "ax", "az",
	"ba", "bb", "bd", "be", "bf", "bg", "bh", "bi", "bj", "bm", "bn", "bo", "br", "bs", "bt", "bw", "by", "bz",
	"ca", "cc", "cd", "cf", "cg", "ch", "ci", "ck", "cl", "cm", "cn", "cr", "cu", "cv", "cw", "cx", "cy", "cz",
	"de", "dj", "dk", "dm", "do", "dz",
	"ec", "ee", "eg", "er", "es", "et", "eu",
	"fi", "fj", "fk", "fm", "fo", "fr",
	"ga", "gd", "ge", "gf", "gg", "gh", "gi", "gl", "gm", "gn", "gp", "gq", "gr", "gs", "gt", "gu", "gw", "gy",
	"hk", "hm", "hn", "hr", "ht", "hu",
	"id", "ie", "il", "im", "in", "io", "iq", "ir", "is", "it",
	"je", "jm", "jo", "jp",
	"ke", "kg", "kh", "ki", "km", "kn", "kp", "kr", "kw", "ky", "kz",
	"la", "lb", "lc", "li", "lk", "lr", "ls", "lt", "lu", "lv", "ly",
	"ma", "mc", "md", "me", "mg", "mh", "mk", "ml", "mm", "mn", "mo", "mp", "mq", "mr", "ms", "mt", "mu", "mv", "mw", "mx", "my", "mz",
	"na", "nc", "nf", "ng", "ni", "nl", "no", "np", "nr", "nu", "nz",
	"om",
	"pa", "pe", "pf", "pg", "ph", "pk", "pl", "pm", "pn", "pr", "ps", "pt", "pw", "py",
	"qa",
	"re", "ro", "rs", "ru", "rw",
	"sa", "sb", "sc", "sd", "se", "sg", "sh", "si", "sk", "sl", "sm", "sn", "so", "sr", "ss", "st", "su", "sv", "sx", "sy", "sz",
	"tc", "td", "tf", "tg", "th", "tj", "tk", "tl", "tm", "tn", "to", "tr", "tt", "tv", "tw", "tz",
	"ua", "ug", "uk", "us", "uy", "uz",
	"va", "vc", "ve", "vg", "vi", "vn", "vu",
	"wf", "ws",
	"ye", "yt",
	"za", "zm", "zw",
)

// topDomains are generic top-level labels plus the generic second-level
// labels used under country codes.
var topDomains = set(
	"com", "net", "org", "edu", "gov", "mil", "int", "arpa",
	"info", "biz", "name", "pro", "mobi", "asia", "tel", "travel", "jobs", "cat", "coop", "aero", "museum",
	"app", "dev", "page", "blog", "cloud", "site", "online", "store", "shop", "tech", "xyz", "top", "club",
	"live", "news", "wiki", "link", "fun", "icu", "vip", "work", "art", "global", "media", "space", "today",
	"co", "ac", "ne", "or", "go", "gob", "nic", "ltd", "plc", "sch", "nom", "gen", "firm", "idv",
)

// IsCountry reports whether label is a known country code label.
func IsCountry(label string) bool {
	_, ok := countryDomains[label]
	return ok
}

// IsTop reports whether label is a known generic label.
func IsTop(label string) bool {
	_, ok := topDomains[label]
	return ok
}

// URLPattern builds the expression matching absolute and protocol-relative
// http(s) URLs whose host ends in a known label or in one of extra.
//
// The expression is meant to be compiled once and shared.
func URLPattern(extra ...string) string {
	labels := make([]string, 0, len(countryDomains)+len(topDomains)+len(extra))
	for l := range countryDomains {
		labels = append(labels, l)
	}
	for l := range topDomains {
		labels = append(labels, l)
	}
	for _, l := range extra {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" && !IsCountry(l) && !IsTop(l) {
			labels = append(labels, l)
		}
	}

	// Longest first so "com" wins over "co".
	slices.SortFunc(labels, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	for i, l := range labels {
		labels[i] = regexp.QuoteMeta(l)
	}

	return `(?i)(?:https?:)?//` +
		`(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+` +
		`(?:` + strings.Join(labels, "|") + `)\b` +
		`(?::[0-9]{1,5})?` +
		`(?:[/?#][^\s"'<>()\\^` + "`" + `{}|]*)?`
}

// MustCompileURLPattern compiles URLPattern(extra...).
func MustCompileURLPattern(extra ...string) *regexp.Regexp {
	return regexp.MustCompile(URLPattern(extra...))
}

func set(labels ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		m[l] = struct{}{}
	}
	return m
}
