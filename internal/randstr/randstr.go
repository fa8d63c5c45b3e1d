// Package randstr produces short random lowercase alphanumeric strings used
// for opaque domain codes and rewrite placeholders.
package randstr

import (
	"crypto/rand"
	mrand "math/rand/v2"
	"sync"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Source returns random strings of length n drawn from [a-z0-9].
type Source interface {
	String(n int) string
}

type cryptoSource struct{}

// Crypto is the process-wide Source backed by crypto/rand.
var Crypto Source = cryptoSource{}

func (cryptoSource) String(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b)
}

// Seeded is a deterministic Source for tests. It is safe for concurrent use.
type Seeded struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeeded returns a Seeded source whose sequence depends only on seed.
func NewSeeded(seed uint64) *Seeded {
	return &Seeded{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *Seeded) String(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[s.rng.IntN(len(alphabet))]
	}
	return string(b)
}
