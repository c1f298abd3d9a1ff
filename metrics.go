package chunkstream

import "sync/atomic"

// Process-global allocation counters, aggregated across every pool instance.
// They are advisory: updated with atomic adds, read with atomic loads, and
// never gate correctness.
var (
	totalPoolAllocated atomic.Int64
	totalHeapAllocated atomic.Int64
)

// TotalPoolAllocated returns the number of bytes currently lent out of the
// shared buffers of all pools.
func TotalPoolAllocated() int64 {
	return totalPoolAllocated.Load()
}

// TotalMemoryAllocated returns the number of bytes of heap-fallback chunks
// currently outstanding across all pools.
func TotalMemoryAllocated() int64 {
	return totalHeapAllocated.Load()
}
