// Package xfer is the redistribution engine.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package xfer

import (
	"bytes"
	"strings"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/dtype"
)

// PackedSize is the number of bytes n strings occupy when packed at width.
func PackedSize(n, width int) int { return n * width }

// Pack writes strs into dst as fixed-width, NUL-padded segments; width must
// exceed the longest string and no string may contain a NUL.
// dst must hold PackedSize(len(strs), width) bytes.
func Pack(varName string, dst []byte, strs []string, width int) error {
	if len(dst) < PackedSize(len(strs), width) {
		return cos.NewErrSizeMismatch("packed strings buffer", PackedSize(len(strs), width), len(dst))
	}
	for i, s := range strs {
		if len(s) >= width {
			return cos.NewErrSizeMismatch("packed string length", width-1, len(s))
		}
		if strings.IndexByte(s, 0) >= 0 {
			return cos.NewErrEmbeddedNUL(varName, i)
		}
		seg := dst[i*width : (i+1)*width]
		n := copy(seg, s)
		clear(seg[n:])
	}
	return nil
}

// Unpack splits src into len(dst) strings of width bytes each, every one
// terminated by a NUL inside its segment.
func Unpack(varName string, src []byte, width int, dst []string) error {
	if len(src) < PackedSize(len(dst), width) {
		return cos.NewErrSizeMismatch("unpacked strings buffer", PackedSize(len(dst), width), len(src))
	}
	for i := range dst {
		seg := src[i*width : (i+1)*width]
		end := bytes.IndexByte(seg, 0)
		if end < 0 {
			return cos.NewErrStringFraming(varName, i, width)
		}
		if string(seg[:end]) == dtype.MissingString {
			dst[i] = dtype.MissingString
			continue
		}
		dst[i] = string(seg[:end])
	}
	return nil
}

// MaxLen is the length of the longest string.
func MaxLen(strs []string) (n int) {
	for _, s := range strs {
		n = max(n, len(s))
	}
	return
}
