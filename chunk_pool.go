package chunkstream

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	KiB = 1024
	MiB = KiB * KiB

	// MinChunkSize is the smallest supported chunk size. A free chunk stores
	// the int32 free-list link in its first bytes.
	MinChunkSize = 4

	// MaxPoolSize bounds ChunkSize * ChunkCount so that every chunk offset in
	// the shared buffer remains addressable as a non-negative int32.
	MaxPoolSize = 0x7FFFFFC7
)

// Pool is a thread-safe allocator of fixed-size memory chunks carved from a
// single shared buffer. Free chunks are linked through an intrusive free list:
// while a chunk is free, its first 4 bytes store the buffer offset of the next
// free chunk, with the sentinel -1 terminating the list. A chunk's contents
// are therefore undefined while it is free; renters that need zeroed memory
// pass zero=true.
//
// The shared buffer is allocated off the Go heap with mmap, which keeps large
// pools out of GOGC scanning. When the pool runs empty, Rent falls back to
// heap-allocated chunks that are absorbed by the garbage collector on return.
type Pool struct {
	mu         sync.Mutex
	buf        []byte // Shared buffer of ChunkSize * ChunkCount bytes.
	next       int32  // Offset of the first free chunk, or nilHandle when empty.
	chunkSize  int
	chunkCount int
}

// NewPool creates a pool with all chunks free.
func NewPool(config Config) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	size := config.ChunkSize * config.ChunkCount

	// Allocate virtual memory that is not part of the Go heap.
	buf, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate %d bytes via mmap: %w", size, err)
	}

	p := &Pool{
		buf:        buf,
		chunkSize:  config.ChunkSize,
		chunkCount: config.ChunkCount,
	}

	// Thread the free list through the chunks: each free chunk's first 4 bytes
	// hold the offset of its successor, the last chunk holds the sentinel.
	for i := range config.ChunkCount {
		off := int32(i * config.ChunkSize)
		link := off + int32(config.ChunkSize)
		if i == config.ChunkCount-1 {
			link = nilHandle
		}
		p.setLink(off, link)
	}
	p.next = 0
	return p, nil
}

// ChunkSize returns the fixed size of every chunk managed by the pool.
func (p *Pool) ChunkSize() int {
	return p.chunkSize
}

// ChunkCount returns the number of chunks in the pool's shared buffer.
func (p *Pool) ChunkCount() int {
	return p.chunkCount
}

// TryRent pops the most recently returned free chunk from the pool.
// It returns false when the pool is empty. If zero is true the chunk's
// region is zeroed before it is handed out.
func (p *Pool) TryRent(zero bool) (Chunk, bool) {
	p.mu.Lock()
	off := p.next
	if off == nilHandle {
		p.mu.Unlock()
		return Chunk{}, false
	}
	p.next = p.link(off)
	p.mu.Unlock()

	region := p.buf[off : int(off)+p.chunkSize : int(off)+p.chunkSize]
	if zero {
		clear(region)
	}
	totalPoolAllocated.Add(int64(p.chunkSize))
	return Chunk{buf: region, handle: off}, true
}

// Rent returns a chunk from the pool, falling back to a fresh heap allocation
// when the pool is empty. Heap chunks carry the sentinel handle and are always
// zeroed.
func (p *Pool) Rent(zero bool) Chunk {
	if c, ok := p.TryRent(zero); ok {
		return c
	}
	totalHeapAllocated.Add(int64(p.chunkSize))
	return Chunk{buf: make([]byte, p.chunkSize), handle: nilHandle}
}

// Return gives a rented chunk back. Pool-provenance chunks are pushed onto the
// head of the free list; heap chunks are released to the garbage collector.
// On success the caller's chunk is set to the null chunk.
//
// Returning a null chunk fails with ErrInvalidArgument. Returning a chunk
// whose storage is not this pool's buffer fails with ErrForeignChunk.
func (p *Pool) Return(c *Chunk) error {
	if c == nil || c.IsNull() {
		return fmt.Errorf("cannot return a null chunk: %w", ErrInvalidArgument)
	}
	if c.IsFromHeap() {
		totalHeapAllocated.Add(-int64(len(c.buf)))
		*c = Chunk{}
		return nil
	}
	if !p.owns(*c) {
		return ErrForeignChunk
	}

	off := c.handle
	p.mu.Lock()
	p.setLink(off, p.next)
	p.next = off
	p.mu.Unlock()

	totalPoolAllocated.Add(-int64(p.chunkSize))
	*c = Chunk{}
	return nil
}

// IsFromPool reports whether the chunk was rented from this pool's shared buffer.
func (p *Pool) IsFromPool(c Chunk) bool {
	return c.IsFromPool() && p.owns(c)
}

// owns reports whether the chunk's region is a chunk-aligned slice of the
// pool's shared buffer.
func (p *Pool) owns(c Chunk) bool {
	off := int(c.handle)
	if off < 0 || off+p.chunkSize > len(p.buf) || off%p.chunkSize != 0 {
		return false
	}
	return &c.buf[0] == &p.buf[off]
}

// Close releases the pool's shared buffer back to the operating system.
// It is idempotent. The caller must have returned every rented pool chunk;
// any outstanding chunk views are dangling after Close.
func (p *Pool) Close() {
	p.mu.Lock()
	buf := p.buf
	p.buf = nil
	p.next = nilHandle
	p.mu.Unlock()

	if buf == nil {
		return
	}
	if err := unix.Munmap(buf); err != nil {
		slog.Error("failed to unmap pool buffer", "error", err)
	}
}

// link reads the free-list successor stored in the chunk at off.
func (p *Pool) link(off int32) int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[off:]))
}

// setLink stores the free-list successor in the chunk at off.
func (p *Pool) setLink(off, next int32) {
	binary.LittleEndian.PutUint32(p.buf[off:], uint32(next))
}

// numFree returns the number of free chunks by walking the free list.
// It is primarily intended as a helper method in tests.
func (p *Pool) numFree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for off := p.next; off != nilHandle; off = p.link(off) {
		n++
	}
	return n
}
