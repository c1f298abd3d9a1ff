package chunkstream

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
)

func newTestPool(t *testing.T, chunkSize, chunkCount int) *Pool {
	t.Helper()
	p, err := NewPool(Config{ChunkSize: chunkSize, ChunkCount: chunkCount})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestPoolConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		valid  bool
	}{
		{"valid minimal", Config{ChunkSize: 4, ChunkCount: 1}, true},
		{"valid default", DefaultConfig(), true},
		{"chunk size below minimum", Config{ChunkSize: 3, ChunkCount: 1}, false},
		{"zero chunk size", Config{ChunkSize: 0, ChunkCount: 1}, false},
		{"negative chunk size", Config{ChunkSize: -8, ChunkCount: 1}, false},
		{"zero chunk count", Config{ChunkSize: 8, ChunkCount: 0}, false},
		{"negative chunk count", Config{ChunkSize: 8, ChunkCount: -1}, false},
		{"pool size above maximum", Config{ChunkSize: 1 << 20, ChunkCount: 1 << 11}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Fatalf("expected config to be valid, got %v", err)
			}
			if !tt.valid {
				if err == nil {
					t.Fatal("expected config to be invalid")
				}
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("expected ErrInvalidArgument, got %v", err)
				}
			}
		})
	}
}

func TestPoolFreeListLayout(t *testing.T) {
	p := newTestPool(t, 8, 3)

	// Each free chunk's first 4 bytes hold the offset of its successor,
	// the last chunk holds the sentinel.
	wantLinks := []int32{8, 16, -1}
	for i, want := range wantLinks {
		got := int32(binary.LittleEndian.Uint32(p.buf[i*8:]))
		if got != want {
			t.Errorf("expected chunk %d link %d, got %d", i, want, got)
		}
	}
	if p.next != 0 {
		t.Errorf("expected free-list head 0, got %d", p.next)
	}
	if numFree := p.numFree(); numFree != 3 {
		t.Errorf("expected 3 free chunks, got %d", numFree)
	}
}

func TestPoolRentReturn(t *testing.T) {
	p := newTestPool(t, 8, 2)

	c0, ok := p.TryRent(false)
	if !ok {
		t.Fatal("expected rent from a full pool to succeed")
	}
	if c0.IsNull() || !c0.IsFromPool() || c0.Len() != 8 {
		t.Fatalf("expected an 8-byte pool chunk, got %+v", c0)
	}
	if c0.handle != 0 {
		t.Errorf("expected first rented chunk at offset 0, got %d", c0.handle)
	}

	c1, ok := p.TryRent(false)
	if !ok {
		t.Fatal("expected second rent to succeed")
	}
	if c1.handle != 8 {
		t.Errorf("expected second rented chunk at offset 8, got %d", c1.handle)
	}
	if _, ok := p.TryRent(false); ok {
		t.Fatal("expected rent from an empty pool to fail")
	}

	// LIFO: the most recently returned chunk is the next to be rented.
	if err := p.Return(&c1); err != nil {
		t.Fatalf("failed to return chunk: %v", err)
	}
	if !c1.IsNull() {
		t.Fatal("expected returned chunk to become null")
	}
	if err := p.Return(&c0); err != nil {
		t.Fatalf("failed to return chunk: %v", err)
	}
	c, ok := p.TryRent(false)
	if !ok || c.handle != 0 {
		t.Fatalf("expected to rent the most recently returned chunk (offset 0), got %+v", c)
	}
	if err := p.Return(&c); err != nil {
		t.Fatalf("failed to return chunk: %v", err)
	}
}

func TestPoolRentZero(t *testing.T) {
	p := newTestPool(t, 8, 1)

	c, _ := p.TryRent(false)
	for i := range c.Bytes() {
		c.Bytes()[i] = 0xAB
	}
	if err := p.Return(&c); err != nil {
		t.Fatalf("failed to return chunk: %v", err)
	}

	t.Run("without zeroing", func(t *testing.T) {
		c, _ := p.TryRent(false)
		if got := c.Bytes()[5]; got != 0xAB {
			t.Errorf("expected chunk contents to be preserved, got byte %#x", got)
		}
		p.Return(&c)
	})

	t.Run("with zeroing", func(t *testing.T) {
		c, _ := p.TryRent(true)
		for i, b := range c.Bytes() {
			if b != 0 {
				t.Fatalf("expected zeroed chunk, got byte %#x at %d", b, i)
			}
		}
		p.Return(&c)
	})
}

// TestPoolHeapFallback verifies that renting from an exhausted pool falls
// back to a zeroed heap chunk.
func TestPoolHeapFallback(t *testing.T) {
	p := newTestPool(t, 8, 1)
	heapBefore := TotalMemoryAllocated()

	c0 := p.Rent(false)
	if !c0.IsFromPool() {
		t.Fatal("expected first rent to come from the pool")
	}

	c1 := p.Rent(false)
	if !c1.IsFromHeap() {
		t.Fatal("expected second rent to fall back to the heap")
	}
	if c1.Len() != 8 {
		t.Fatalf("expected heap chunk of length 8, got %d", c1.Len())
	}
	for i, b := range c1.Bytes() {
		if b != 0 {
			t.Fatalf("expected zeroed heap chunk, got byte %#x at %d", b, i)
		}
	}
	if got := TotalMemoryAllocated() - heapBefore; got != 8 {
		t.Errorf("expected heap counter delta 8, got %d", got)
	}

	if err := p.Return(&c1); err != nil {
		t.Fatalf("failed to return heap chunk: %v", err)
	}
	if err := p.Return(&c0); err != nil {
		t.Fatalf("failed to return pool chunk: %v", err)
	}
	if got := TotalMemoryAllocated() - heapBefore; got != 0 {
		t.Errorf("expected heap counter delta 0 after returns, got %d", got)
	}
}

func TestPoolCounters(t *testing.T) {
	p := newTestPool(t, 16, 4)
	poolBefore := TotalPoolAllocated()

	c0 := p.Rent(false)
	c1 := p.Rent(false)
	if got := TotalPoolAllocated() - poolBefore; got != 32 {
		t.Errorf("expected pool counter delta 32, got %d", got)
	}
	p.Return(&c0)
	p.Return(&c1)
	if got := TotalPoolAllocated() - poolBefore; got != 0 {
		t.Errorf("expected pool counter delta 0 after returns, got %d", got)
	}
}

func TestPoolReturnErrors(t *testing.T) {
	p := newTestPool(t, 8, 2)

	t.Run("null chunk", func(t *testing.T) {
		var c Chunk
		if err := p.Return(&c); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("foreign chunk", func(t *testing.T) {
		other := newTestPool(t, 8, 2)
		c, _ := other.TryRent(false)
		if err := p.Return(&c); !errors.Is(err, ErrForeignChunk) {
			t.Fatalf("expected ErrForeignChunk, got %v", err)
		}
		if c.IsNull() {
			t.Fatal("expected chunk to survive a failed return")
		}
		other.Return(&c)
	})
}

func TestPoolIsFromPool(t *testing.T) {
	p := newTestPool(t, 8, 1)
	other := newTestPool(t, 8, 1)

	c, _ := p.TryRent(false)
	if !p.IsFromPool(c) {
		t.Error("expected chunk to belong to its pool")
	}
	if other.IsFromPool(c) {
		t.Error("expected chunk to not belong to another pool")
	}

	heap := p.Rent(false) // Pool is empty, falls back to the heap...
	if p.IsFromPool(heap) {
		t.Error("expected heap chunk to not belong to the pool")
	}
	p.Return(&heap)
	p.Return(&c)
}

// TestPoolContention spins many goroutines over a single-chunk pool, each
// incrementing a counter stored inside the chunk.
func TestPoolContention(t *testing.T) {
	const workers = 1000
	p := newTestPool(t, 8, 1)

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for {
				c, ok := p.TryRent(false)
				if !ok {
					continue // Chunk is held by another worker, spin.
				}
				n := binary.LittleEndian.Uint32(c.Bytes()[4:8])
				binary.LittleEndian.PutUint32(c.Bytes()[4:8], n+1)
				if err := p.Return(&c); err != nil {
					t.Errorf("failed to return chunk: %v", err)
					return
				}
				return
			}
		}()
	}
	wg.Wait()

	c, ok := p.TryRent(false)
	if !ok {
		t.Fatal("expected the chunk to be free after all workers finished")
	}
	// The only chunk is the free-list tail, so its link is the sentinel.
	if got := int32(binary.LittleEndian.Uint32(c.Bytes()[0:4])); got != -1 {
		t.Errorf("expected free-list sentinel -1 at offset 0, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(c.Bytes()[4:8]); got != workers {
		t.Errorf("expected counter %d, got %d", workers, got)
	}
	p.Return(&c)
}

func TestPoolClose(t *testing.T) {
	p, err := NewPool(Config{ChunkSize: 8, ChunkCount: 2})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	p.Close()
	p.Close() // Idempotent.
	if _, ok := p.TryRent(false); ok {
		t.Fatal("expected rent from a closed pool to fail")
	}
}

func TestDefaultPool(t *testing.T) {
	p := DefaultPool()
	if p != DefaultPool() {
		t.Fatal("expected DefaultPool to return the same instance")
	}
	if p.ChunkSize() != DefaultConfig().ChunkSize {
		t.Errorf("expected default chunk size %d, got %d", DefaultConfig().ChunkSize, p.ChunkSize())
	}
}
