//go:build !deadbeef

// Package memsys provides slab allocation of reusable byte buffers and the
// per-pass scratch buffers used by variable transfers.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

func deadbeef([]byte) {}
