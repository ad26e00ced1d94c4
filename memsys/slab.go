// Package memsys provides slab allocation of reusable byte buffers and the
// per-pass scratch buffers used by variable transfers.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"sync"

	"github.com/NVIDIA/obsxfer/cmn/debug"
)

const (
	PageSize        = 4 * 1024
	DefaultBufSize  = 32 * 1024
	MaxPageSlabSize = 128 * 1024

	numSlabs = 6 // 4K, 8K, ... 128K
)

// Slab is a fixed-size class of buffers.
type Slab struct {
	pool    sync.Pool
	bufSize int
}

// MMSA is a minimal memory manager: a ladder of slabs, each backed by
// sync.Pool. Buffers above MaxPageSlabSize are allocated directly and
// dropped on Free.
type MMSA struct {
	Name  string
	slabs [numSlabs]*Slab
}

var gmm = NewMMSA("gmm")

// PageMM returns the process-wide allocator.
func PageMM() *MMSA { return gmm }

func NewMMSA(name string) *MMSA {
	r := &MMSA{Name: name}
	size := PageSize
	for i := range r.slabs {
		slab := &Slab{bufSize: size}
		slab.pool.New = func() any {
			b := make([]byte, slab.bufSize)
			return &b
		}
		r.slabs[i] = slab
		size <<= 1
	}
	debug.Assert(size>>1 == MaxPageSlabSize)
	return r
}

func (s *Slab) Size() int { return s.bufSize }

func (s *Slab) Alloc() []byte {
	b := s.pool.Get().(*[]byte)
	return (*b)[:s.bufSize]
}

func (s *Slab) Free(buf []byte) {
	debug.Assert(cap(buf) == s.bufSize)
	buf = buf[:cap(buf)]
	deadbeef(buf)
	s.pool.Put(&buf)
}

// GetSlab returns the smallest slab that fits size, or nil when size
// exceeds MaxPageSlabSize.
func (r *MMSA) GetSlab(size int) *Slab {
	for _, slab := range r.slabs {
		if size <= slab.bufSize {
			return slab
		}
	}
	return nil
}

// AllocSize returns a buffer of exactly size bytes (len), capacity rounded
// up to the slab size.
func (r *MMSA) AllocSize(size int) []byte {
	if slab := r.GetSlab(size); slab != nil {
		return slab.Alloc()[:size]
	}
	return make([]byte, size)
}

func (r *MMSA) Free(buf []byte) {
	c := cap(buf)
	if c > MaxPageSlabSize {
		return
	}
	if slab := r.GetSlab(c); slab != nil && slab.bufSize == c {
		slab.Free(buf)
	}
}
