// Package memsys provides slab allocation of reusable byte buffers and the
// per-pass scratch buffers used by variable transfers.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"github.com/NVIDIA/obsxfer/cmn/nlog"
)

// Scratch is the pair of source-side and destination-side buffers owned by a
// single transfer pass. It is sized once, before the first variable, from the
// largest per-variable byte requirement; variables are transferred one at a
// time and each reuses both buffers.
//
// Not safe for concurrent use.
type Scratch struct {
	src, dst []byte
	grown    int
}

func roundup(n int) int {
	if n <= 0 {
		return PageSize
	}
	return (n + PageSize - 1) / PageSize * PageSize
}

func NewScratch(srcSize, dstSize int) *Scratch {
	return &Scratch{
		src: make([]byte, roundup(srcSize)),
		dst: make([]byte, roundup(dstSize)),
	}
}

// Src returns the first n bytes of the source-side buffer.
func (s *Scratch) Src(n int) []byte {
	if n > len(s.src) {
		s.src = s.grow("src", n)
	}
	return s.src[:n]
}

// Dst returns the first n bytes of the destination-side buffer.
func (s *Scratch) Dst(n int) []byte {
	if n > len(s.dst) {
		s.dst = s.grow("dst", n)
	}
	return s.dst[:n]
}

func (s *Scratch) SrcCap() int { return len(s.src) }
func (s *Scratch) DstCap() int { return len(s.dst) }

// Grown returns the number of times either buffer had to be reallocated,
// which means the up-front sizing underestimated a variable.
func (s *Scratch) Grown() int { return s.grown }

func (s *Scratch) grow(tag string, n int) []byte {
	s.grown++
	nlog.Warningf("scratch %s buffer: growing to %d bytes (pre-sized estimate too small)", tag, n)
	return make([]byte, roundup(n))
}
