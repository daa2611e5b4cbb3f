package buffer

import (
	"io"

	"github.com/valyala/bytebufferpool"
)

// BufferPool is a thread-safe pool of byte buffers backed by
// valyala/bytebufferpool. The fetcher reads every token and playlist response
// through it, so steady polling of the same channels reuses a handful of
// buffers instead of allocating one per request.
//
// Buffers handed out by Get are always empty and have at least the pool's
// initial capacity. Callers must not keep a buffer, or a slice of its bytes,
// after handing it back with Put.
type BufferPool struct {
	pool        *bytebufferpool.Pool // underlying calibrated pool
	initialSize int                  // minimum capacity of a fresh buffer
}

// NewBufferPool creates a pool whose buffers start with at least initialSize
// bytes of capacity. bytebufferpool calibrates the default size from actual
// use, so initialSize only matters until the pool has warmed up.
func NewBufferPool(initialSize int) *BufferPool {
	return &BufferPool{
		pool:        &bytebufferpool.Pool{},
		initialSize: initialSize,
	}
}

// Get returns an empty buffer from the pool, grown to the initial size if the
// pooled one is smaller.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	buf.Reset()

	// only grow if necessary, don't replace a larger buffer
	if cap(buf.B) < bp.initialSize {
		buf.B = make([]byte, 0, bp.initialSize)
	}
	return buf
}

// Put returns buf to the pool. A nil buf is ignored. bytebufferpool takes
// care of discarding buffers that grew far beyond the calibrated size.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}

// ReadString reads at most limit bytes of r through a pooled buffer and
// returns them as a string.
//
// exceeded is true when r had more than limit bytes; the returned text is then
// empty, since a truncated playlist or token document is useless. The string
// is a copy, so it stays valid after the buffer goes back to the pool.
func (bp *BufferPool) ReadString(r io.Reader, limit int64) (text string, exceeded bool, err error) {
	buf := bp.Get()
	defer bp.Put(buf)

	// read one byte past the limit to tell "exactly limit" from "too long"
	if _, err := buf.ReadFrom(io.LimitReader(r, limit+1)); err != nil {
		return "", false, err
	}
	if int64(buf.Len()) > limit {
		return "", true, nil
	}
	return buf.String(), false, nil
}
