package proxy

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/net/publicsuffix"
)

// SessionCookie names the cookie carrying a client's session id.
const SessionCookie = "samehost_session"

// Sessions keeps one upstream cookie jar per client. Upstream cookies never
// reach the client; the client only holds an opaque session id scoped to
// the proxy suffix so every proxied subdomain shares it.
type Sessions struct {
	jars   *cache.Cache
	domain string
	ttl    time.Duration
}

// NewSessions returns a session store whose jars expire after ttl without
// use.
func NewSessions(domain string, ttl time.Duration) *Sessions {
	return &Sessions{
		jars:   cache.New(ttl, ttl),
		domain: domain,
		ttl:    ttl,
	}
}

// Jar returns the cookie jar for r's session, creating the session and
// setting its cookie on w when needed.
func (s *Sessions) Jar(w http.ResponseWriter, r *http.Request, secure bool) http.CookieJar {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		if u, err := uuid.Parse(c.Value); err == nil {
			id = u.String()
		}
	}

	if id != "" {
		if v, ok := s.jars.Get(id); ok {
			jar := v.(http.CookieJar)
			// Sliding expiry.
			s.jars.Set(id, jar, s.ttl)
			return jar
		}
	} else {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Domain:   s.domain,
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err := s.jars.Add(id, jar, s.ttl); err != nil {
		// A concurrent request created it first.
		if v, ok := s.jars.Get(id); ok {
			return v.(http.CookieJar)
		}
	}
	return jar
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	return s.jars.ItemCount()
}
