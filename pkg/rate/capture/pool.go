package capture

import "sync"

// BufferSize is the size of every pooled packet buffer and the capture snap
// length. Packets larger than this are reported as truncated.
const BufferSize = 2048

// BufferPool recycles fixed-size packet buffers across capture sessions.
// Acquiring from an empty pool allocates. The pool is safe for concurrent use
// because each capture direction reads on its own goroutine.
//
// Construct one pool at startup and hand it to every capture; there is no
// package-level pool.
type BufferPool struct {
	mu        sync.Mutex
	free      [][]byte
	allocated int
}

// NewBufferPool returns an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{}
}

// Acquire returns a [BufferSize] buffer, reusing a released one if possible.
func (p *BufferPool) Acquire() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		return b
	}
	p.allocated++
	return make([]byte, BufferSize)
}

// Release returns b to the pool. Buffers that did not come from a pool are
// dropped.
func (p *BufferPool) Release(b []byte) {
	if cap(b) != BufferSize {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, b[:BufferSize])
}

// Free returns the number of buffers waiting for reuse.
func (p *BufferPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Allocated returns how many buffers the pool has ever allocated.
func (p *BufferPool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}
