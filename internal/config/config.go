// Package config loads the per-deployment site description.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultLengthTolerance = 1
	DefaultMaxRewriteBytes = 16 << 20
	DefaultSessionTTL      = 30 * time.Minute
)

var (
	defaultMIMEWhitelist = []string{
		"text/html",
		"text/css",
		"text/javascript",
		"application/javascript",
		"application/x-javascript",
		"application/json",
		"application/xhtml+xml",
	}
	defaultMIMEWhitelistWithoutExtension = []string{
		"text/plain",
	}
)

// Site describes how the proxy is reached and what it rewrites.
type Site struct {
	// Scheme is the outward scheme, "http" or "https".
	Scheme string `yaml:"scheme"`
	// Suffix is the proxy's own domain.
	Suffix string `yaml:"suffix"`
	// Port is the outward port, or 0 for the scheme default.
	Port int `yaml:"port"`

	DomainNameReplacement map[string]string `yaml:"domain_name_replacement"`
	BlacklistedDomains    []string          `yaml:"blacklisted_domains"`
	NoReplaceList         []string          `yaml:"no_replace_list"`
	// ReplaceList holds bare domains rewritten as text wherever they appear.
	ReplaceList []string `yaml:"replace_list"`

	MIMEWhitelist                 []string `yaml:"mime_whitelist"`
	MIMEWhitelistWithoutExtension []string `yaml:"mime_whitelist_without_extension"`

	// LengthPrefixedPaths are URL path prefixes whose bodies use the
	// "<hex length>;<payload>" line format.
	LengthPrefixedPaths []string `yaml:"length_prefixed_paths"`
	LengthTolerance     *int     `yaml:"length_tolerance"`

	MaxRewriteBytes int64         `yaml:"max_rewrite_bytes"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
}

// Load reads and validates the site file at path.
func Load(path string) (*Site, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	site, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return site, nil
}

// Decode parses one YAML document, rejecting unknown fields, and validates it.
func Decode(r io.Reader) (*Site, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var site Site
	if err := dec.Decode(&site); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return nil, errors.New("multiple YAML documents are not allowed")
	} else if !errors.Is(err, io.EOF) {
		return nil, err
	}

	if err := site.Validate(); err != nil {
		return nil, err
	}
	return &site, nil
}

// Validate checks required fields and fills in defaults.
func (s *Site) Validate() error {
	s.Scheme = strings.ToLower(strings.TrimSpace(s.Scheme))
	if s.Scheme == "" {
		s.Scheme = "https"
	}
	if s.Scheme != "http" && s.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", s.Scheme)
	}

	s.Suffix = strings.Trim(strings.ToLower(strings.TrimSpace(s.Suffix)), ".")
	if s.Suffix == "" {
		return errors.New("suffix is required")
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}

	// A dot keeps an alias from matching inside a rewrite placeholder.
	for _, a := range s.ReplaceList {
		if !strings.Contains(a, ".") {
			return fmt.Errorf("replace_list entry %q must contain a dot", a)
		}
	}

	if s.LengthTolerance == nil {
		t := DefaultLengthTolerance
		s.LengthTolerance = &t
	} else if *s.LengthTolerance < 0 {
		return fmt.Errorf("length_tolerance must not be negative, got %d", *s.LengthTolerance)
	}

	if s.MIMEWhitelist == nil {
		s.MIMEWhitelist = slices.Clone(defaultMIMEWhitelist)
	}
	if s.MIMEWhitelistWithoutExtension == nil {
		s.MIMEWhitelistWithoutExtension = slices.Clone(defaultMIMEWhitelistWithoutExtension)
	}
	for _, l := range [][]string{s.MIMEWhitelist, s.MIMEWhitelistWithoutExtension} {
		for i, m := range l {
			l[i] = strings.ToLower(strings.TrimSpace(m))
		}
	}

	switch {
	case s.MaxRewriteBytes == 0:
		s.MaxRewriteBytes = DefaultMaxRewriteBytes
	case s.MaxRewriteBytes < 0:
		return fmt.Errorf("max_rewrite_bytes must not be negative, got %d", s.MaxRewriteBytes)
	}

	switch {
	case s.SessionTTL == 0:
		s.SessionTTL = DefaultSessionTTL
	case s.SessionTTL < 0:
		return fmt.Errorf("session_ttl must not be negative, got %s", s.SessionTTL)
	}
	return nil
}
