package chunkstream

import (
	"bytes"
	"io"
	"testing"
)

func BenchmarkPoolRentReturn(b *testing.B) {
	p, err := NewPool(Config{ChunkSize: 64 * KiB, ChunkCount: 64})
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close()

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		c := p.Rent(false)
		if err := p.Return(&c); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPoolRentReturnParallel(b *testing.B) {
	p, err := NewPool(Config{ChunkSize: 4 * KiB, ChunkCount: 256})
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close()

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c := p.Rent(false)
			if err := p.Return(&c); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkStreamWrite(b *testing.B) {
	p, err := NewPool(Config{ChunkSize: 64 * KiB, ChunkCount: 64})
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close()
	data := bytes.Repeat([]byte{0xA5}, 4*KiB)

	s := Custom[*Pool](p, HeapChunkArrayPool{})
	defer s.Close()

	b.ResetTimer()
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	for range b.N {
		if _, err := s.Write(data); err != nil {
			b.Fatal(err)
		}
		if s.Len() >= int64(32*MiB) {
			// Rewind and overwrite to bound memory usage.
			s.SetPosition(0)
		}
	}
}

func BenchmarkStreamRead(b *testing.B) {
	p, err := NewPool(Config{ChunkSize: 64 * KiB, ChunkCount: 64})
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close()

	s := Custom[*Pool](p, HeapChunkArrayPool{})
	defer s.Close()
	if _, err := s.Write(bytes.Repeat([]byte{0xA5}, MiB)); err != nil {
		b.Fatal(err)
	}
	buf := make([]byte, 4*KiB)

	b.ResetTimer()
	b.ReportAllocs()
	b.SetBytes(int64(len(buf)))
	for range b.N {
		if _, err := s.Read(buf); err == io.EOF {
			s.SetPosition(0)
		}
	}
}

func BenchmarkStreamSum64(b *testing.B) {
	p, err := NewPool(Config{ChunkSize: 64 * KiB, ChunkCount: 64})
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close()

	s := Custom[*Pool](p, HeapChunkArrayPool{})
	defer s.Close()
	if _, err := s.Write(bytes.Repeat([]byte{0xA5}, MiB)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	b.SetBytes(int64(s.Len()))
	for range b.N {
		if _, err := s.Sum64(); err != nil {
			b.Fatal(err)
		}
	}
}
