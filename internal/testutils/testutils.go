// Package testutils provides shared test doubles for exercising streams
// through their public API.
package testutils

import (
	"errors"
	"sync/atomic"

	chunkstream "github.com/holmberd/go-chunkstream"
)

// TrackingArrayPool wraps the default heap chunk-array strategy with
// rent/return counters.
type TrackingArrayPool struct {
	inner       chunkstream.HeapChunkArrayPool
	rentCalls   atomic.Int64
	returnCalls atomic.Int64
}

func (p *TrackingArrayPool) Rent(minLen int) ([]chunkstream.Chunk, error) {
	a, err := p.inner.Rent(minLen)
	if err == nil {
		p.rentCalls.Add(1)
	}
	return a, err
}

func (p *TrackingArrayPool) Return(a []chunkstream.Chunk, zero bool) {
	p.returnCalls.Add(1)
	p.inner.Return(a, zero)
}

func (p *TrackingArrayPool) RentCalls() int64 {
	return p.rentCalls.Load()
}

func (p *TrackingArrayPool) ReturnCalls() int64 {
	return p.returnCalls.Load()
}

// ErrSinkFailed is returned by every write to an ErrWriter.
var ErrSinkFailed = errors.New("sink failed")

// ErrWriter is a sink whose writes always fail.
type ErrWriter struct{}

func (ErrWriter) Write(p []byte) (int, error) {
	return 0, ErrSinkFailed
}
