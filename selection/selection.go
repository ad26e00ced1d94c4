// Package selection describes rectangular (hyperslab) sub-regions of a
// variable's shape used to scope partial reads and writes.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package selection

import (
	"fmt"

	"github.com/NVIDIA/obsxfer/cmn/cos"
)

// Selection is a pure value descriptor: Extent is the shape of the buffer the
// selection applies to, Start/Count the selected block within it. No I/O
// happens until a Selection is passed to a read or write.
type Selection struct {
	Extent []int `json:"extent"`
	Start  []int `json:"start"`
	Count  []int `json:"count"`
}

// ForEntireVariable spans the whole shape.
func ForEntireVariable(shape []int) *Selection {
	sel := &Selection{
		Extent: append([]int(nil), shape...),
		Start:  make([]int, len(shape)),
		Count:  append([]int(nil), shape...),
	}
	return sel
}

// ForBlock restricts axis 0 to [start0, start0+count0) and keeps all other
// axes full. The extent is the file shape when isFileSide, otherwise the
// block shape: during a partial parallel write the memory-side buffer holds
// only the block while the file holds the whole variable.
func ForBlock(shape []int, start0, count0 int, isFileSide bool) *Selection {
	sel := &Selection{
		Start: make([]int, len(shape)),
		Count: append([]int(nil), shape...),
	}
	if len(shape) == 0 {
		sel.Extent = []int{}
		return sel
	}
	sel.Start[0], sel.Count[0] = start0, count0
	if isFileSide {
		sel.Extent = append([]int(nil), shape...)
	} else {
		sel.Extent = append([]int(nil), sel.Count...)
	}
	return sel
}

func (sel *Selection) Rank() int { return len(sel.Extent) }

// NumElements is the number of selected elements.
func (sel *Selection) NumElements() int {
	n := 1
	for _, c := range sel.Count {
		n *= c
	}
	return n
}

// ExtentElements is the number of elements in the underlying buffer.
func (sel *Selection) ExtentElements() int {
	n := 1
	for _, e := range sel.Extent {
		n *= e
	}
	return n
}

func (sel *Selection) Validate() error {
	if len(sel.Start) != len(sel.Extent) {
		return cos.NewErrSizeMismatch("selection start rank", len(sel.Extent), len(sel.Start))
	}
	if len(sel.Count) != len(sel.Extent) {
		return cos.NewErrSizeMismatch("selection count rank", len(sel.Extent), len(sel.Count))
	}
	for i := range sel.Extent {
		if sel.Start[i] < 0 || sel.Count[i] < 0 {
			return fmt.Errorf("selection: negative start or count in dimension %d", i)
		}
		if sel.Start[i]+sel.Count[i] > sel.Extent[i] {
			return cos.NewErrSizeMismatch(fmt.Sprintf("selection out of bounds in dimension %d", i),
				sel.Extent[i], sel.Start[i]+sel.Count[i])
		}
	}
	return nil
}

// Runs calls fn for each contiguous run of selected elements, in row-major
// order, with the flat offset of the run within the extent.
func (sel *Selection) Runs(fn func(off, n int)) {
	rank := len(sel.Extent)
	if rank == 0 {
		fn(0, 1)
		return
	}
	if sel.NumElements() == 0 {
		return
	}
	// strides of the extent
	strides := make([]int, rank)
	strides[rank-1] = 1
	for i := rank - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * sel.Extent[i+1]
	}
	// fold trailing axes selected in full into a single run
	inner := rank - 1
	runLen := sel.Count[inner]
	for inner > 0 && sel.Start[inner] == 0 && sel.Count[inner] == sel.Extent[inner] {
		inner--
		runLen *= sel.Count[inner]
	}
	idx := make([]int, inner) // odometer over axes [0, inner)
	for {
		off := sel.Start[inner] * strides[inner]
		for i := range inner {
			off += (sel.Start[i] + idx[i]) * strides[i]
		}
		fn(off, runLen)

		i := inner - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < sel.Count[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

func (sel *Selection) String() string {
	return fmt.Sprintf("sel[extent %v, start %v, count %v]", sel.Extent, sel.Start, sel.Count)
}
