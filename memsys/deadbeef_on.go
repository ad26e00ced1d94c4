//go:build deadbeef

// Package memsys provides slab allocation of reusable byte buffers and the
// per-pass scratch buffers used by variable transfers.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

var pattern = [4]byte{0xde, 0xad, 0xbe, 0xef}

func deadbeef(b []byte) {
	for i := range b {
		b[i] = pattern[i%4]
	}
}
