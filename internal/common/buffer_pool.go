// Package common holds the errors, helpers and small types shared by all packages.
package common

import (
	"sync"
)

// BufferPool recycles byte slices of a few fixed capacities.
type BufferPool struct {
	pools map[int]*sync.Pool
	sizes []int // ascending
}

type Buffer struct {
	pool *BufferPool
	Buf  []byte
}

// Close hands the buffer back to its pool. The buffer must not be used afterwards.
func (b *Buffer) Close() {
	b.pool.Put(b.Buf)
	b.Buf = nil
}

func NewBufferPool(sizes []int) *BufferPool {
	pools := make(map[int]*sync.Pool, len(sizes))
	for _, sz := range sizes {
		pools[sz] = &sync.Pool{
			New: func() interface{} {
				return make([]byte, 0, sz)
			},
		}
	}
	return &BufferPool{pools: pools, sizes: sizes}
}

// Get returns an empty buffer with capacity >= minSize, ready to be appended to.
// Requests above the largest size are allocated and never pooled.
func (bp *BufferPool) Get(minSize int) Buffer {
	for _, sz := range bp.sizes {
		if sz >= minSize {
			return Buffer{Buf: bp.pools[sz].Get().([]byte)[:0], pool: bp}
		}
	}
	return Buffer{Buf: make([]byte, 0, minSize), pool: bp}
}

// Put takes back a buffer whose capacity is one of the pool sizes, others are dropped.
func (bp *BufferPool) Put(buf []byte) {
	capBuf := cap(buf)
	for _, sz := range bp.sizes {
		if sz == capBuf {
			bp.pools[sz].Put(buf[:0])
			return
		}
	}
}
