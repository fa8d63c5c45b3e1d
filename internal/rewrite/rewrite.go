// Package rewrite points absolute URLs inside text bodies at the proxy.
//
// Matches are first swapped for random placeholder tokens, then literal alias
// substitutions run, and only then are the tokens replaced by the encoded
// URLs. Aliases therefore never match inside a freshly encoded URL.
package rewrite

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/rs/zerolog"

	"github.com/die-net/samehost/internal/randstr"
)

const (
	// tokenMark brackets placeholders so an alias cannot span into one.
	tokenMark = "\x00"

	defaultTokenLength     = 20
	defaultLengthTolerance = 1
)

// URLEncoder encodes one absolute or protocol-relative URL.
type URLEncoder interface {
	Encode(ctx context.Context, raw string) (string, error)
}

// DomainCoder returns the proxy code of a bare hostname.
type DomainCoder interface {
	QueryOrAddDomain(ctx context.Context, host string) (string, error)
}

// Config controls a Rewriter.
type Config struct {
	// Aliases are bare domain strings replaced by "{code}-m.{AccessSuffix}".
	// Entries without a dot are ignored.
	Aliases []string
	// AccessSuffix is the proxy suffix including the outward port, if any.
	AccessSuffix string
	// LengthTolerance bounds |declared - actual| for length-prefixed lines.
	// Nil means the default of 1.
	LengthTolerance *int
	// TokenLength is the placeholder length; zero means 20.
	TokenLength int
}

// Rewriter is safe for concurrent use; each call keeps its own state.
type Rewriter struct {
	pattern   *regexp.Regexp
	enc       URLEncoder
	domains   DomainCoder
	rnd       randstr.Source
	log       zerolog.Logger
	aliases   []string
	access    string
	tolerance int
	tokenLen  int
}

// New returns a Rewriter that finds URLs with pattern and encodes them with
// enc. pattern should be compiled once per process and shared.
func New(cfg Config, pattern *regexp.Regexp, enc URLEncoder, domains DomainCoder, rnd randstr.Source, log zerolog.Logger) *Rewriter {
	if rnd == nil {
		rnd = randstr.Crypto
	}
	r := &Rewriter{
		pattern:   pattern,
		enc:       enc,
		domains:   domains,
		rnd:       rnd,
		log:       log,
		access:    cfg.AccessSuffix,
		tolerance: defaultLengthTolerance,
		tokenLen:  cfg.TokenLength,
	}
	if cfg.LengthTolerance != nil {
		r.tolerance = max(*cfg.LengthTolerance, 0)
	}
	if r.tokenLen <= 0 {
		r.tokenLen = defaultTokenLength
	}
	for _, a := range cfg.Aliases {
		if a = strings.TrimSpace(a); strings.Contains(a, ".") && !strings.Contains(a, tokenMark) {
			r.aliases = append(r.aliases, a)
		}
	}
	return r
}

// RewriteContent encodes every URL in text and applies the alias list.
//
// A URL that fails to encode is left as it was. The only error is ctx's.
func (r *Rewriter) RewriteContent(ctx context.Context, text string) (string, error) {
	return r.rewrite(ctx, text, true)
}

// RewriteURLs encodes every URL in text without applying aliases. It suits
// header values such as Link and Refresh.
func (r *Rewriter) RewriteURLs(ctx context.Context, text string) (string, error) {
	return r.rewrite(ctx, text, false)
}

func (r *Rewriter) rewrite(ctx context.Context, text string, aliases bool) (string, error) {
	locs := r.pattern.FindAllStringIndex(text, -1)

	var (
		b     strings.Builder
		pairs []string
		last  int
	)
	b.Grow(len(text))
	for _, loc := range locs {
		if err := ctx.Err(); err != nil {
			return text, err
		}
		start, end := loc[0], loc[1]
		// "//host" right after a colon belongs to some other scheme.
		if start > 0 && text[start-1] == ':' {
			continue
		}

		match := text[start:end]
		encoded, err := r.enc.Encode(ctx, match)
		if err != nil {
			r.log.Debug().Err(err).Str("url", match).Msg("url left unchanged")
			continue
		}

		token := tokenMark + r.rnd.String(r.tokenLen) + tokenMark
		b.WriteString(text[last:start])
		b.WriteString(token)
		last = end
		pairs = append(pairs, token, encoded)
	}
	b.WriteString(text[last:])
	out := b.String()

	if aliases {
		for _, alias := range r.aliases {
			if !strings.Contains(out, alias) {
				continue
			}
			code, err := r.domains.QueryOrAddDomain(ctx, alias)
			if err != nil {
				r.log.Debug().Err(err).Str("alias", alias).Msg("alias left unchanged")
				continue
			}
			out = strings.ReplaceAll(out, alias, code+"-m."+r.access)
		}
	}

	if len(pairs) > 0 {
		out = strings.NewReplacer(pairs...).Replace(out)
	}
	return out, nil
}

// RewriteLengthPrefixed rewrites text made of "<hex length>;<payload>" lines.
//
// Lengths count UTF-16 code units. A line without a valid prefix, or whose
// declared length is off from its payload by more than the tolerance, passes
// through untouched. Otherwise the payload is rewritten and the prefix is
// recomputed keeping the original offset between declared and actual length.
func (r *Rewriter) RewriteLengthPrefixed(ctx context.Context, text string) (string, error) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		sp := strings.IndexByte(line, ';')
		if sp <= 0 {
			continue
		}
		declared, err := strconv.ParseInt(line[:sp], 16, 32)
		if err != nil || declared < 0 {
			continue
		}

		payload := line[sp+1:]
		delta := int(declared) - utf16Len(payload)
		if delta > r.tolerance || delta < -r.tolerance {
			continue
		}

		out, err := r.RewriteContent(ctx, payload)
		if err != nil {
			return text, err
		}
		if out == payload {
			continue
		}
		lines[i] = strconv.FormatInt(int64(utf16Len(out)+delta), 16) + ";" + out
	}
	return strings.Join(lines, "\n"), nil
}

func utf16Len(s string) int {
	n := 0
	for _, c := range s {
		n += utf16.RuneLen(c)
	}
	return n
}
