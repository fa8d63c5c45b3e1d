// Package redisstore keeps domain mappings in Redis.
//
// Each mapping is two string keys, one per direction. Both keys share a hash
// tag so the insert script stays on one cluster slot.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/die-net/samehost/internal/registry"
)

const defaultPrefix = "samehost"

// insertScript sets both keys only if neither exists.
// KEYS[1] name key, KEYS[2] code key, ARGV[1] name, ARGV[2] code.
// Returns 0 on insert, 1 when the name is taken, 2 when the code is taken.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 1
end
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 2
end
redis.call("SET", KEYS[1], ARGV[2])
redis.call("SET", KEYS[2], ARGV[1])
return 0
`)

// Store implements registry.Store on a Redis client or cluster.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New returns a Store using rdb. Keys are namespaced by prefix, or by
// "samehost" when prefix is empty.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Open connects to the server described by a redis:// or rediss:// URL and
// checks that it answers.
func Open(ctx context.Context, rawURL, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return New(rdb, prefix), nil
}

func (s *Store) nameKey(name string) string {
	return "{" + s.prefix + "}:name:" + name
}

func (s *Store) codeKey(code string) string {
	return "{" + s.prefix + "}:code:" + code
}

func (s *Store) FindByName(ctx context.Context, name string) (registry.Mapping, error) {
	code, err := s.rdb.Get(ctx, s.nameKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return registry.Mapping{}, registry.ErrNotFound
		}
		return registry.Mapping{}, fmt.Errorf("redis get name: %w", err)
	}
	return registry.Mapping{Name: name, Code: code}, nil
}

func (s *Store) FindByCode(ctx context.Context, code string) (registry.Mapping, error) {
	name, err := s.rdb.Get(ctx, s.codeKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return registry.Mapping{}, registry.ErrNotFound
		}
		return registry.Mapping{}, fmt.Errorf("redis get code: %w", err)
	}
	return registry.Mapping{Name: name, Code: code}, nil
}

func (s *Store) InsertUnique(ctx context.Context, m registry.Mapping) error {
	keys := []string{s.nameKey(m.Name), s.codeKey(m.Code)}
	res, err := insertScript.Run(ctx, s.rdb, keys, m.Name, m.Code).Int()
	if err != nil {
		return fmt.Errorf("redis insert: %w", err)
	}
	switch res {
	case 0:
		return nil
	case 1:
		return registry.ErrNameConflict
	case 2:
		return registry.ErrCodeConflict
	default:
		return fmt.Errorf("redis insert: unexpected script result %d", res)
	}
}

// Ping reports whether the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
