package proxy

import (
	"net/http/httputil"
	"sync"
)

type bufferPool struct {
	pool sync.Pool
}

// NewBufferPool returns a pool of size-byte copy buffers for the
// ReverseProxy's streamed responses.
func NewBufferPool(size int) httputil.BufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

func (p *bufferPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return *b
}

func (p *bufferPool) Put(b []byte) {
	// &b costs one small heap allocation; a slice header cannot go into an
	// interface without it.
	p.pool.Put(&b)
}
