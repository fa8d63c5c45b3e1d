package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/die-net/samehost/internal/registry"
	"github.com/die-net/samehost/internal/store/redisstore"
	"github.com/die-net/samehost/internal/store/scyllastore"
)

// openStore connects the mapping store named by rawURL. The returned func
// releases it.
func openStore(ctx context.Context, rawURL string, timeout time.Duration) (registry.Store, func(), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, err
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return registry.NewMemoryStore(), func() {}, nil
	case "redis", "rediss":
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		s, err := redisstore.Open(ctx, rawURL, "")
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "scylla":
		s, err := scyllastore.OpenURL(rawURL, timeout)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
}
