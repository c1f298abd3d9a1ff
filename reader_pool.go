package chunkstream

import "sync"

// readerPool is a pool of reusable reader objects for a stream. It trims
// reader allocations on the internal read paths (ToArray, Sum64).
type readerPool[P ChunkRenter] struct {
	pool sync.Pool
}

func newReaderPool[P ChunkRenter](s *Stream[P]) *readerPool[P] {
	return &readerPool[P]{
		pool: sync.Pool{
			New: func() any {
				return NewReader(s)
			},
		},
	}
}

// Get retrieves a reader from the pool or creates a new one.
func (p *readerPool[P]) Get() *Reader[P] {
	return p.pool.Get().(*Reader[P])
}

// Put rewinds a reader and returns it to the pool for reuse.
func (p *readerPool[P]) Put(r *Reader[P]) {
	p.pool.Put(r.Reset())
}
