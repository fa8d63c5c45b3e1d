package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/die-net/samehost/internal/codec"
)

// InsertHook observes every mapping this process creates.
type InsertHook func(ctx context.Context, m Mapping)

// Option configures a Registry.
type Option func(*Registry)

// WithInsertHook registers h to run after each successful insert.
func WithInsertHook(h InsertHook) Option {
	return func(r *Registry) { r.hooks = append(r.hooks, h) }
}

// WithLogger sets the logger used for registry events.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithRestrictedRetry controls whether a code collision is retried once with
// the restricted transform before failing. It is on by default.
func WithRestrictedRetry(enabled bool) Option {
	return func(r *Registry) { r.restrictedRetry = enabled }
}

// Registry owns the hostname to code mapping. It is safe for concurrent use.
type Registry struct {
	store           Store
	codec           *codec.Codec
	hooks           []InsertHook
	log             zerolog.Logger
	restrictedRetry bool

	sf singleflight.Group
}

func New(store Store, c *codec.Codec, opts ...Option) *Registry {
	r := &Registry{
		store:           store,
		codec:           c,
		log:             zerolog.Nop(),
		restrictedRetry: true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// QueryOrAddDomain returns the code for host, creating the mapping the first
// time host is seen.
//
// Blacklisted hosts get a fresh random code on every call and nothing is
// stored. Concurrent first lookups of one host within this process share a
// single insert; across processes the store's atomic insert decides the
// winner and losers adopt its code.
func (r *Registry) QueryOrAddDomain(ctx context.Context, host string) (string, error) {
	name := codec.Normalize(host)
	if name == "" {
		return "", &ValidationError{Field: "domain", Reason: "cannot be empty"}
	}

	if r.codec.Blacklisted(name) {
		return r.codec.Transform(name, false), nil
	}

	m, err := r.store.FindByName(ctx, name)
	if err == nil {
		return m.Code, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("find domain %q: %w", name, err)
	}

	// The insert runs detached from ctx so that a caller giving up does not
	// fail the other callers waiting on the same hostname.
	ch := r.sf.DoChan(name, func() (any, error) {
		return r.add(context.WithoutCancel(ctx), name)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Registry) add(ctx context.Context, name string) (string, error) {
	// A previous flight for this name may have just finished.
	if m, err := r.store.FindByName(ctx, name); err == nil {
		return m.Code, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("find domain %q: %w", name, err)
	}

	restricted := false
	for {
		m := Mapping{Name: name, Code: r.codec.Transform(name, restricted)}
		if m.Code == "" {
			return "", &ValidationError{Field: "domain", Reason: fmt.Sprintf("%q has no usable label", name)}
		}

		err := r.store.InsertUnique(ctx, m)
		switch {
		case err == nil:
			r.log.Debug().Str("name", m.Name).Str("code", m.Code).Bool("restricted", restricted).Msg("domain added")
			for _, h := range r.hooks {
				h(ctx, m)
			}
			return m.Code, nil

		case errors.Is(err, ErrNameConflict):
			winner, err := r.store.FindByName(ctx, name)
			if err != nil {
				return "", fmt.Errorf("re-read domain %q after losing insert race: %w", name, err)
			}
			return winner.Code, nil

		case errors.Is(err, ErrCodeConflict):
			if restricted || !r.restrictedRetry {
				r.log.Error().Str("name", m.Name).Str("code", m.Code).Msg("domain code collision")
				return "", &ConflictError{Name: m.Name, Code: m.Code}
			}
			restricted = true

		default:
			return "", fmt.Errorf("insert domain %q: %w", name, err)
		}
	}
}

// Lookup resolves a code to its mapping. It returns ErrNotFound for codes
// that were never issued.
func (r *Registry) Lookup(ctx context.Context, code string) (Mapping, error) {
	code = strings.ToLower(code)
	if code == "" {
		return Mapping{}, ErrNotFound
	}
	m, err := r.store.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Mapping{}, err
		}
		return Mapping{}, fmt.Errorf("find code %q: %w", code, err)
	}
	return m, nil
}
