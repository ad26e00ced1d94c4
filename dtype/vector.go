// Package dtype is the single source of truth for the element types a
// variable transfer supports: the Kind tag, the typed Vector container, the
// dispatch table, fill values and missing-value sentinels.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package dtype

import (
	"strconv"
	"unsafe"

	"github.com/NVIDIA/obsxfer/cmn/debug"
)

// Vector is a flat, row-major, type-erased buffer of variable values.
// Rows are Location entries of rowSize elements each.
type Vector interface {
	Kind() Kind
	Len() int
	// Resize sets the length, reallocating only when capacity is short;
	// retained elements keep their values.
	Resize(n int)
	// Any returns the underlying []T.
	Any() any
	// Raw is a zero-copy byte view of numeric and char vectors, nil for strings.
	Raw() []byte
	// Sub returns elements [lo, hi) sharing storage.
	Sub(lo, hi int) Vector
	// CopyAt copies n elements of src starting at srcOff into this vector at dstOff.
	CopyAt(dstOff int, src Vector, srcOff, n int)
	// SelectRows returns a new vector with the rows for which mask is true.
	SelectRows(mask []bool, rowSize int) Vector
	// Gather returns a new vector with the given rows, in the given order.
	Gather(rows []int, rowSize int) Vector
	// GatherInto is Gather writing into dst, which is resized as needed.
	GatherInto(dst Vector, rows []int, rowSize int)
	// Reconcile replaces fill (and, for floats, NaN and +/-Inf) with the
	// kind's missing sentinel and returns the number of replaced elements.
	Reconcile(fill FillSpec) int
	// SetAll assigns the fill value to every element.
	SetAll(fill FillSpec)
	// Format renders element i in canonical string form (grouping keys).
	Format(i int) string
	Clone() Vector
	Equal(other Vector) bool
}

// Vec is the one generic implementation of Vector.
type Vec[T Elem] struct {
	data []T
	kind Kind
}

// interface guard
var _ Vector = (*Vec[int32])(nil)

func newVec[T Elem](k Kind, n int) Vector { return &Vec[T]{kind: k, data: make([]T, n)} }

func viewVec[T Elem](k Kind, b []byte, n int) Vector {
	var zero T
	size := int(unsafe.Sizeof(zero))
	debug.Assert(len(b) >= n*size, len(b), " vs ", n*size)
	if n == 0 {
		return &Vec[T]{kind: k, data: []T{}}
	}
	return &Vec[T]{kind: k, data: unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)}
}

// Wrap returns a Vector over data without copying.
func Wrap[T Elem](k Kind, data []T) *Vec[T] {
	debug.Assertf(k.valid(), "invalid kind %d", k)
	return &Vec[T]{kind: k, data: data}
}

// Values returns the typed slice behind v, or nil when T does not match.
func Values[T Elem](v Vector) []T {
	if tv, ok := v.(*Vec[T]); ok {
		return tv.data
	}
	return nil
}

func (v *Vec[T]) Kind() Kind { return v.kind }
func (v *Vec[T]) Len() int   { return len(v.data) }
func (v *Vec[T]) Any() any   { return v.data }
func (v *Vec[T]) Data() []T  { return v.data }

func (v *Vec[T]) Resize(n int) {
	if n <= cap(v.data) {
		v.data = v.data[:n]
		return
	}
	data := make([]T, n)
	copy(data, v.data)
	v.data = data
}

func (v *Vec[T]) Raw() []byte {
	if v.kind == String || len(v.data) == 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(v.data))), len(v.data)*size)
}

func (v *Vec[T]) Sub(lo, hi int) Vector { return &Vec[T]{kind: v.kind, data: v.data[lo:hi:hi]} }

func (v *Vec[T]) CopyAt(dstOff int, src Vector, srcOff, n int) {
	s := src.(*Vec[T])
	copy(v.data[dstOff:dstOff+n], s.data[srcOff:srcOff+n])
}

func (v *Vec[T]) SelectRows(mask []bool, rowSize int) Vector {
	debug.Assert(len(mask)*rowSize == len(v.data), len(mask), "*", rowSize, " vs ", len(v.data))
	var cnt int
	for _, m := range mask {
		if m {
			cnt++
		}
	}
	out := make([]T, 0, cnt*rowSize)
	for i, m := range mask {
		if m {
			out = append(out, v.data[i*rowSize:(i+1)*rowSize]...)
		}
	}
	return &Vec[T]{kind: v.kind, data: out}
}

func (v *Vec[T]) Gather(rows []int, rowSize int) Vector {
	out := &Vec[T]{kind: v.kind, data: make([]T, len(rows)*rowSize)}
	v.gather(out.data, rows, rowSize)
	return out
}

func (v *Vec[T]) GatherInto(dst Vector, rows []int, rowSize int) {
	d := dst.(*Vec[T])
	d.Resize(len(rows) * rowSize)
	v.gather(d.data, rows, rowSize)
}

func (v *Vec[T]) gather(out []T, rows []int, rowSize int) {
	for i, row := range rows {
		copy(out[i*rowSize:(i+1)*rowSize], v.data[row*rowSize:(row+1)*rowSize])
	}
}

func (v *Vec[T]) Reconcile(fill FillSpec) int {
	return Reconcile(fill, Missing[T](), v.data)
}

func (v *Vec[T]) SetAll(fill FillSpec) {
	val := FillValue[T](fill)
	for i := range v.data {
		v.data[i] = val
	}
}

func (v *Vec[T]) Format(i int) string { return format(v.data[i]) }

func (v *Vec[T]) Clone() Vector {
	data := make([]T, len(v.data))
	copy(data, v.data)
	return &Vec[T]{kind: v.kind, data: data}
}

func (v *Vec[T]) Equal(other Vector) bool {
	o, ok := other.(*Vec[T])
	if !ok || o.kind != v.kind || len(o.data) != len(v.data) {
		return false
	}
	for i := range v.data {
		if v.data[i] != o.data[i] && !bothNaN(v.data[i], o.data[i]) {
			return false
		}
	}
	return true
}

func bothNaN[T Elem](a, b T) bool { return a != a && b != b }

// canonical string form, shortest representation that round-trips
func format[T Elem](val T) string {
	switch x := any(val).(type) {
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case byte:
		return string([]byte{x})
	case string:
		return x
	}
	return ""
}
