// Package dtype is the single source of truth for the element types a
// variable transfer supports: the Kind tag, the typed Vector container, the
// dispatch table, fill values and missing-value sentinels.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package dtype

import (
	"math"
	"unsafe"
)

// MissingString is the one shared missing-string instance; reconciled string
// buffers reference it rather than allocating.
const MissingString = "*** MISSING ***"

// FillSpec is the sentinel a source variable uses to mark absent data.
// Numeric fills are kept as the raw bits of the concrete type and compared
// only after decoding into that type.
type FillSpec struct {
	Str      string
	bits     [8]byte
	Set      bool
	IsString bool
}

// FillOf returns a set FillSpec holding val.
func FillOf[T Elem](val T) (f FillSpec) {
	f.Set = true
	switch x := any(val).(type) {
	case string:
		f.IsString, f.Str = true, x
	default:
		size := unsafe.Sizeof(val)
		copy(f.bits[:size], unsafe.Slice((*byte)(unsafe.Pointer(&val)), size))
	}
	return
}

// FillValue decodes the fill as T; the zero value when unset.
func FillValue[T Elem](f FillSpec) (val T) {
	if !f.Set {
		return
	}
	if p, ok := any(&val).(*string); ok {
		*p = f.Str
		return
	}
	size := unsafe.Sizeof(val)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&val)), size), f.bits[:size])
	return
}

// FillFromVector builds a FillSpec from element 0 of a one-element vector
// (e.g. a "_FillValue" attribute).
func FillFromVector(v Vector) FillSpec {
	if v == nil || v.Len() == 0 {
		return FillSpec{}
	}
	switch x := v.Any().(type) {
	case []int16:
		return FillOf(x[0])
	case []int32:
		return FillOf(x[0])
	case []int64:
		return FillOf(x[0])
	case []uint16:
		return FillOf(x[0])
	case []uint32:
		return FillOf(x[0])
	case []uint64:
		return FillOf(x[0])
	case []float32:
		return FillOf(x[0])
	case []float64:
		return FillOf(x[0])
	case []byte:
		return FillOf(x[0])
	case []string:
		return FillOf(x[0])
	}
	return FillSpec{}
}

// Vector returns the fill as a one-element vector of kind k.
func (f FillSpec) Vector(k Kind) Vector {
	v := New(k, 1)
	v.SetAll(f)
	return v
}

// Missing returns the canonical missing-value sentinel for T.
func Missing[T Elem]() (val T) {
	var m any
	switch any(val).(type) {
	case int16:
		m = int16(math.MinInt16 + 3)
	case int32:
		m = int32(math.MinInt32 + 5)
	case int64:
		m = int64(math.MinInt64 + 7)
	case uint16:
		m = uint16(math.MaxUint16 - 5)
	case uint32:
		m = uint32(math.MaxUint32 - 5)
	case uint64:
		m = uint64(math.MaxUint64 - 7)
	case float32:
		m = float32(-3.3687953e+38)
	case float64:
		m = float64(-3.3687953e+38)
	case byte:
		m = byte(0)
	case string:
		m = MissingString
	}
	return m.(T)
}

// Reconcile rewrites buf in place: every element equal to the fill value and,
// for floating point types, every NaN and +/-Inf becomes missing. It is a
// no-op when the fill is unset or already equals missing. Reconcile is
// idempotent since missing itself is never rewritten.
func Reconcile[T Elem](fill FillSpec, missing T, buf []T) int {
	if !fill.Set {
		return 0
	}
	fv := FillValue[T](fill)
	if fv == missing {
		return 0
	}
	switch b := any(buf).(type) {
	case []float32:
		return reconcileFloat(b, any(fv).(float32), any(missing).(float32))
	case []float64:
		return reconcileFloat(b, any(fv).(float64), any(missing).(float64))
	}
	var n int
	for i := range buf {
		if buf[i] == fv {
			buf[i] = missing
			n++
		}
	}
	return n
}

func reconcileFloat[F float32 | float64](buf []F, fill, missing F) (n int) {
	for i, v := range buf {
		if v == fill || v != v || math.IsInf(float64(v), 0) {
			buf[i] = missing
			n++
		}
	}
	return
}

// MissingFill returns the kind's missing sentinel as a FillSpec.
func MissingFill(k Kind) FillSpec {
	if !k.valid() {
		return FillSpec{}
	}
	switch New(k, 0).Any().(type) {
	case []int16:
		return FillOf(Missing[int16]())
	case []int32:
		return FillOf(Missing[int32]())
	case []int64:
		return FillOf(Missing[int64]())
	case []uint16:
		return FillOf(Missing[uint16]())
	case []uint32:
		return FillOf(Missing[uint32]())
	case []uint64:
		return FillOf(Missing[uint64]())
	case []float32:
		return FillOf(Missing[float32]())
	case []float64:
		return FillOf(Missing[float64]())
	case []byte:
		return FillOf(Missing[byte]())
	}
	return FillOf(MissingString)
}
