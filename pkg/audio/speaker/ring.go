package speaker

import "sync"

// ring is a fixed-capacity byte FIFO read by the audio device and written by
// the producer tick. Reads never block: missing data is played as silence.
// Writes never block: bytes that do not fit are dropped.
type ring struct {
	mu      sync.Mutex
	buf     []byte
	r, n    int
	dropped int64
	under   int64
}

func newRing(size int) *ring {
	return &ring{buf: make([]byte, size)}
}

// Write appends as much of p as fits and drops the rest.
func (q *ring) Write(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	free := len(q.buf) - q.n
	if len(p) > free {
		q.dropped += int64(len(p) - free)
		p = p[:free]
	}
	w := (q.r + q.n) % len(q.buf)
	c := copy(q.buf[w:], p)
	copy(q.buf, p[c:])
	q.n += len(p)
	return len(p), nil
}

// Read fills p completely, padding with zeros on underrun.
func (q *ring) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := min(len(p), q.n)
	c := copy(p[:m], q.buf[q.r:])
	copy(p[c:m], q.buf)
	q.r = (q.r + m) % len(q.buf)
	q.n -= m

	if m < len(p) {
		clear(p[m:])
		q.under++
	}
	return len(p), nil
}

// Len returns the number of buffered bytes.
func (q *ring) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *ring) stats() (dropped, underruns int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped, q.under
}
