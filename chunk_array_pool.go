package chunkstream

import (
	"fmt"
	"math/bits"
)

// maxRoundedArrayLen is the largest chunk-array length that is rounded up to
// a power of two; larger requests are sized exactly.
const maxRoundedArrayLen = 1 << 30

// ChunkArrayPooler is the strategy for renting and returning the sparse
// chunk-slot arrays that back a stream.
type ChunkArrayPooler interface {
	// Rent returns an array of at least minLen chunk slots, all null.
	Rent(minLen int) ([]Chunk, error)

	// Return reclaims an array obtained from Rent. When zero is true a
	// reusing strategy must null every slot before the next Rent.
	Return(a []Chunk, zero bool)
}

// HeapChunkArrayPool is the default strategy: every rent is a fresh heap
// allocation and returns are left to the garbage collector. A bucketed
// reusing pool can be substituted behind the same interface.
type HeapChunkArrayPool struct{}

var emptyChunkArray = make([]Chunk, 0)

func (HeapChunkArrayPool) Rent(minLen int) ([]Chunk, error) {
	switch {
	case minLen < 0:
		return nil, fmt.Errorf("%w: negative array length %d", ErrInvalidArgument, minLen)
	case minLen == 0:
		return emptyChunkArray, nil
	case minLen > maxRoundedArrayLen:
		return make([]Chunk, minLen), nil
	}
	return make([]Chunk, nextPowerOfTwo(minLen)), nil
}

func (HeapChunkArrayPool) Return(a []Chunk, zero bool) {}

// nextPowerOfTwo returns the smallest power of two >= n, for n >= 1.
func nextPowerOfTwo(n int) int {
	return 1 << bits.Len(uint(n-1))
}
