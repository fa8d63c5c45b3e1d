package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/die-net/samehost/internal/codec"
	"github.com/die-net/samehost/internal/randstr"
)

func newTestRegistry(store Store, opts ...Option) *Registry {
	c := codec.New(codec.Config{Blacklist: []string{"tracker"}}, randstr.NewSeeded(1))
	return New(store, c, opts...)
}

func TestQueryOrAddDomainIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRegistry(store)

	first, err := r.QueryOrAddDomain(ctx, "www.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if first != "example" {
		t.Fatalf("got code %q want %q", first, "example")
	}
	for range 3 {
		again, err := r.QueryOrAddDomain(ctx, "www.example.com")
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("code changed from %q to %q", first, again)
		}
	}
	if store.Len() != 1 {
		t.Fatalf("stored %d mappings want 1", store.Len())
	}

	m, err := r.Lookup(ctx, "EXAMPLE")
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "www.example.com" {
		t.Fatalf("Lookup returned %+v", m)
	}
}

func TestQueryOrAddDomainValidation(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(NewMemoryStore())
	for _, host := range []string{"", "   ", "\t\n", "..."} {
		_, err := r.QueryOrAddDomain(context.Background(), host)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("QueryOrAddDomain(%q) err=%v want ValidationError", host, err)
		}
	}
}

func TestQueryOrAddDomainConcurrentFirstInsert(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	r := newTestRegistry(store)

	const n = 32
	codes := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			code, err := r.QueryOrAddDomain(context.Background(), "example.com")
			if err != nil {
				t.Error(err)
				return
			}
			codes[i] = code
		})
	}
	wg.Wait()

	for _, c := range codes {
		if c != codes[0] {
			t.Fatalf("callers disagree: %q vs %q", c, codes[0])
		}
	}
	if store.Len() != 1 {
		t.Fatalf("stored %d mappings want 1", store.Len())
	}
}

func TestQueryOrAddDomainCollisions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		existing  []Mapping
		opts      []Option
		wantCode  string
		wantClash bool
	}{
		{
			name:     "no collision",
			wantCode: "example",
		},
		{
			name:     "retries restricted once",
			existing: []Mapping{{Name: "example.org", Code: "example"}},
			wantCode: "www-example-com",
		},
		{
			name: "restricted collision is permanent",
			existing: []Mapping{
				{Name: "example.org", Code: "example"},
				{Name: "www-example.com", Code: "www-example-com"},
			},
			wantClash: true,
		},
		{
			name:      "retry disabled",
			existing:  []Mapping{{Name: "example.org", Code: "example"}},
			opts:      []Option{WithRestrictedRetry(false)},
			wantClash: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := NewMemoryStore()
			for _, m := range tt.existing {
				if err := store.InsertUnique(ctx, m); err != nil {
					t.Fatal(err)
				}
			}
			r := newTestRegistry(store, tt.opts...)

			code, err := r.QueryOrAddDomain(ctx, "www.example.com")
			if tt.wantClash {
				var ce *ConflictError
				if !errors.As(err, &ce) {
					t.Fatalf("err=%v want ConflictError", err)
				}
				if !errors.Is(err, ErrCodeConflict) {
					t.Fatal("ConflictError should unwrap to ErrCodeConflict")
				}
				if _, err := store.FindByName(ctx, "www.example.com"); !errors.Is(err, ErrNotFound) {
					t.Fatal("failed insert left a mapping behind")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if code != tt.wantCode {
				t.Fatalf("got %q want %q", code, tt.wantCode)
			}
		})
	}
}

// racingStore simulates another process inserting the same hostname between
// our lookup and our insert.
type racingStore struct {
	*MemoryStore
	winner string
}

func (s *racingStore) InsertUnique(ctx context.Context, m Mapping) error {
	_ = s.MemoryStore.InsertUnique(ctx, Mapping{Name: m.Name, Code: s.winner})
	return s.MemoryStore.InsertUnique(ctx, m)
}

func TestQueryOrAddDomainLostRace(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(&racingStore{MemoryStore: NewMemoryStore(), winner: "winner"})
	code, err := r.QueryOrAddDomain(context.Background(), "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if code != "winner" {
		t.Fatalf("got %q want the winner's code", code)
	}
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s *failingStore) InsertUnique(context.Context, Mapping) error {
	return s.err
}

func TestQueryOrAddDomainStoreFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := newTestRegistry(&failingStore{MemoryStore: NewMemoryStore(), err: boom})
	_, err := r.QueryOrAddDomain(context.Background(), "example.com")
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want wrapped boom", err)
	}
}

func TestQueryOrAddDomainBlacklisted(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	r := newTestRegistry(store)

	a, err := r.QueryOrAddDomain(context.Background(), "cdn.tracker.net")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.QueryOrAddDomain(context.Background(), "cdn.tracker.net")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("blacklisted host got a stable code %q", a)
	}
	if store.Len() != 0 {
		t.Fatal("blacklisted host was persisted")
	}
}

func TestInsertHook(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []Mapping
	)
	r := newTestRegistry(NewMemoryStore(), WithInsertHook(func(_ context.Context, m Mapping) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m)
	}))

	for range 3 {
		if _, err := r.QueryOrAddDomain(context.Background(), "news.example.com"); err != nil {
			t.Fatal(err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != (Mapping{Name: "news.example.com", Code: "example-news"}) {
		t.Fatalf("hook saw %+v", seen)
	}
}

func TestLookupUnknown(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(NewMemoryStore())
	if _, err := r.Lookup(context.Background(), "zzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

type countingStore struct {
	*MemoryStore
	finds atomic.Int32
}

func (s *countingStore) FindByName(ctx context.Context, name string) (Mapping, error) {
	s.finds.Add(1)
	return s.MemoryStore.FindByName(ctx, name)
}

func (s *countingStore) FindByCode(ctx context.Context, code string) (Mapping, error) {
	s.finds.Add(1)
	return s.MemoryStore.FindByCode(ctx, code)
}

func TestCachedStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := &countingStore{MemoryStore: NewMemoryStore()}
	cs := NewCachedStore(backend, time.Minute)

	if _, err := cs.FindByName(ctx, "example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	if err := cs.InsertUnique(ctx, Mapping{Name: "example.com", Code: "example"}); err != nil {
		t.Fatal(err)
	}
	if err := cs.InsertUnique(ctx, Mapping{Name: "example.net", Code: "example"}); !errors.Is(err, ErrCodeConflict) {
		t.Fatalf("err=%v want ErrCodeConflict", err)
	}

	before := backend.finds.Load()
	for range 3 {
		m, err := cs.FindByName(ctx, "example.com")
		if err != nil || m.Code != "example" {
			t.Fatalf("FindByName=%+v, %v", m, err)
		}
		m, err = cs.FindByCode(ctx, "example")
		if err != nil || m.Name != "example.com" {
			t.Fatalf("FindByCode=%+v, %v", m, err)
		}
	}
	if got := backend.finds.Load(); got != before {
		t.Fatalf("cached lookups reached the backend %d times", got-before)
	}
	if cs.ItemCount() != 1 {
		t.Fatalf("ItemCount=%d want 1", cs.ItemCount())
	}
}
