// Package dtype is the single source of truth for the element types a
// variable transfer supports.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package dtype

import (
	"strconv"

	"github.com/pkg/errors"
)

// Parse is the inverse of Format: it builds a vector of kind k from the
// canonical string form of each element.
func Parse(k Kind, strs []string) (Vector, error) {
	v := New(k, len(strs))
	if v == nil {
		return nil, Check(k, "")
	}
	var err error
	switch x := v.Any().(type) {
	case []int16:
		err = parseInts(x, strs, 16)
	case []int32:
		err = parseInts(x, strs, 32)
	case []int64:
		err = parseInts(x, strs, 64)
	case []uint16:
		err = parseUints(x, strs, 16)
	case []uint32:
		err = parseUints(x, strs, 32)
	case []uint64:
		err = parseUints(x, strs, 64)
	case []float32:
		for i, s := range strs {
			var f float64
			if f, err = strconv.ParseFloat(s, 32); err != nil {
				break
			}
			x[i] = float32(f)
		}
	case []float64:
		for i, s := range strs {
			if x[i], err = strconv.ParseFloat(s, 64); err != nil {
				break
			}
		}
	case []byte:
		for i, s := range strs {
			if s != "" {
				x[i] = s[0]
			}
		}
	case []string:
		copy(x, strs)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", k)
	}
	return v, nil
}

func parseInts[T int16 | int32 | int64](dst []T, strs []string, bits int) error {
	for i, s := range strs {
		n, err := strconv.ParseInt(s, 10, bits)
		if err != nil {
			return err
		}
		dst[i] = T(n)
	}
	return nil
}

func parseUints[T uint16 | uint32 | uint64](dst []T, strs []string, bits int) error {
	for i, s := range strs {
		n, err := strconv.ParseUint(s, 10, bits)
		if err != nil {
			return err
		}
		dst[i] = T(n)
	}
	return nil
}
