// Package admin serves the operator endpoints: health, mapping lookups,
// ad hoc encode/decode, and pprof.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/die-net/samehost/internal/registry"
	"github.com/die-net/samehost/internal/urlcodec"
)

// Registry is the part of registry.Registry the admin API reads.
type Registry interface {
	Lookup(ctx context.Context, code string) (registry.Mapping, error)
}

// Codec is the part of urlcodec.Codec the admin API exercises.
type Codec interface {
	Encode(ctx context.Context, raw string) (string, error)
	Decode(ctx context.Context, u *url.URL, lenient bool) (*url.URL, error)
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Registry Registry
	Codec    Codec
	// Store is checked by /healthz when it implements Pinger.
	Store any
	Log   zerolog.Logger
}

type api struct {
	reg   Registry
	codec Codec
	store any
	log   zerolog.Logger
}

// NewRouter returns the admin http.Handler.
func NewRouter(o Options) http.Handler {
	a := &api{
		reg:   o.Registry,
		codec: o.Codec,
		store: o.Store,
		log:   o.Log.With().Str("component", "admin").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthz)
	r.Get("/domains/{code}", a.domain)
	r.Get("/encode", a.encode)
	r.Get("/decode", a.decode)
	r.Mount("/debug", middleware.Profiler())
	return r
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := a.store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			a.log.Warn().Err(err).Msg("store health check failed")
			a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) domain(w http.ResponseWriter, r *http.Request) {
	m, err := a.reg.Lookup(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, m)
}

type translation struct {
	URL    string `json:"url"`
	Result string `json:"result"`
}

func (a *api) encode(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing url parameter"})
		return
	}
	enc, err := a.codec.Encode(r.Context(), raw)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, translation{URL: raw, Result: enc})
}

func (a *api) decode(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing url parameter"})
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url must be absolute"})
		return
	}
	dec, err := a.codec.Decode(r.Context(), u, false)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, translation{URL: raw, Result: dec.String()})
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *registry.ValidationError
		ie *urlcodec.InvalidReferenceError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve), errors.Is(err, urlcodec.ErrNotProxied):
		status = http.StatusBadRequest
	case errors.As(err, &ie), errors.Is(err, registry.ErrNotFound):
		status = http.StatusNotFound
	default:
		a.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Msg("admin request failed")
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Debug().Err(err).Msg("writing response")
	}
}
