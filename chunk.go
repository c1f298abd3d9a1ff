package chunkstream

// nilHandle is the sentinel handle. It marks a chunk whose storage was
// heap-allocated rather than carved from a pool's shared buffer, and it
// terminates the pool's intrusive free list.
const nilHandle int32 = -1

// Chunk is an immutable descriptor of a fixed-size byte region together with
// its provenance. A chunk is either carved from a pool's shared buffer, in
// which case its handle is the byte offset of the region within that buffer,
// or heap-allocated with the sentinel handle.
//
// The zero value is the null chunk: no region, no handle.
type Chunk struct {
	buf    []byte
	handle int32
}

// IsNull reports whether the chunk is the null chunk.
func (c Chunk) IsNull() bool {
	return c.buf == nil
}

// IsFromPool reports whether the chunk's storage lives in a pool's shared buffer.
func (c Chunk) IsFromPool() bool {
	return c.buf != nil && c.handle != nilHandle
}

// IsFromHeap reports whether the chunk's storage is a heap allocation.
func (c Chunk) IsFromHeap() bool {
	return c.buf != nil && c.handle == nilHandle
}

// Len returns the length of the chunk's byte region, or 0 for a null chunk.
func (c Chunk) Len() int {
	return len(c.buf)
}

// Bytes returns the chunk's full byte region as a borrowed view.
// The view is valid only while the chunk remains rented.
func (c Chunk) Bytes() []byte {
	return c.buf
}

// Slice returns a borrowed view of n bytes starting at off.
func (c Chunk) Slice(off, n int) []byte {
	return c.buf[off : off+n : off+n]
}
