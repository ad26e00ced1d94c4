// Package xfer is the redistribution engine: per variable, it computes
// per-peer buffer offsets from a rank assignment, selects patch-owned data,
// exchanges it between compute and I/O-pool ranks, and hands the result to
// the destination variable.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package xfer

import (
	"fmt"
	"strings"

	"github.com/NVIDIA/obsxfer/cmn/cos"
)

type (
	// Entry is one (peer, location count) pair of a rank assignment.
	Entry struct {
		Peer  int `json:"peer" yaml:"peer"`
		Count int `json:"count" yaml:"count"`
	}
	// Assignment: on a pool rank, the non-pool ranks it collects from; on a
	// non-pool rank, exactly one entry naming its pool rank.
	Assignment []Entry
)

func (a Assignment) Total() (n int) {
	for _, e := range a {
		n += e.Count
	}
	return
}

func (a Assignment) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, e := range a {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "(%d,%d)", e.Peer, e.Count)
	}
	sb.WriteByte(']')
	return sb.String()
}

// Offsets computes, per assignment entry, the start and count (in elements)
// of that peer's block. A pool rank's own block comes first, so peers start
// after own*dimFactor; a non-pool rank sends its whole buffer from 0.
func Offsets(own int, a Assignment, dimFactor int, isPool bool) (starts, counts []int) {
	starts = make([]int, len(a))
	counts = make([]int, len(a))
	if !isPool {
		for i := range a {
			counts[i] = own * dimFactor
		}
		return
	}
	start := own * dimFactor
	for i, e := range a {
		starts[i] = start
		counts[i] = e.Count * dimFactor
		start += counts[i]
	}
	return
}

// CheckPartition verifies that the own block and the peer blocks tile
// [0, total*dimFactor) with no gaps and no overlaps.
func CheckPartition(own int, a Assignment, dimFactor, total int) error {
	starts, counts := Offsets(own, a, dimFactor, true)
	next := own * dimFactor
	for i := range starts {
		if starts[i] != next {
			return cos.NewErrSizeMismatch(fmt.Sprintf("offset of peer %d", a[i].Peer), next, starts[i])
		}
		if counts[i] < 0 {
			return cos.NewErrSizeMismatch(fmt.Sprintf("count of peer %d", a[i].Peer), 0, counts[i])
		}
		next += counts[i]
	}
	if next != total*dimFactor {
		return cos.NewErrSizeMismatch("assignment total elements", total*dimFactor, next)
	}
	return nil
}
