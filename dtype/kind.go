// Package dtype is the single source of truth for the element types a
// variable transfer supports: the Kind tag, the typed Vector container, the
// dispatch table, fill values and missing-value sentinels.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package dtype

import (
	"github.com/NVIDIA/obsxfer/cmn/cos"
)

type Kind uint8

const (
	Invalid Kind = iota
	Int16
	Int32
	Int64
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	LongDouble // stored as float64
	Char
	String

	numKinds
)

// Elem enumerates the Go storage types behind the supported kinds.
type Elem interface {
	int16 | int32 | int64 | uint16 | uint32 | uint64 | float32 | float64 | byte | string
}

// Number is Elem minus string.
type Number interface {
	int16 | int32 | int64 | uint16 | uint32 | uint64 | float32 | float64 | byte
}

type entry struct {
	name string
	size int // element size in bytes; strings: size of a reference
	new  func(k Kind, n int) Vector
	view func(k Kind, b []byte, n int) Vector
	fill FillSpec // netCDF-4 default
}

// dispatch table, indexed by Kind
var table [numKinds]entry

func init() {
	table[Int16] = entry{"int16", 2, newVec[int16], viewVec[int16], FillOf[int16](-32767)}
	table[Int32] = entry{"int32", 4, newVec[int32], viewVec[int32], FillOf[int32](-2147483647)}
	table[Int64] = entry{"int64", 8, newVec[int64], viewVec[int64], FillOf[int64](-9223372036854775806)}
	table[Uint16] = entry{"uint16", 2, newVec[uint16], viewVec[uint16], FillOf[uint16](65535)}
	table[Uint32] = entry{"uint32", 4, newVec[uint32], viewVec[uint32], FillOf[uint32](4294967295)}
	table[Uint64] = entry{"uint64", 8, newVec[uint64], viewVec[uint64], FillOf[uint64](18446744073709551614)}
	table[Float32] = entry{"float", 4, newVec[float32], viewVec[float32], FillOf[float32](9.9692099683868690e+36)}
	table[Float64] = entry{"double", 8, newVec[float64], viewVec[float64], FillOf[float64](9.9692099683868690e+36)}
	table[LongDouble] = entry{"long double", 8, newVec[float64], viewVec[float64], FillOf[float64](9.9692099683868690e+36)}
	table[Char] = entry{"char", 1, newVec[byte], viewVec[byte], FillOf[byte](0)}
	table[String] = entry{"string", 16, newVec[string], nil, FillOf("")}
}

func (k Kind) valid() bool { return k > Invalid && k < numKinds }

func (k Kind) String() string {
	if !k.valid() {
		return "invalid"
	}
	return table[k].name
}

// Size returns the element size in bytes; for String, the size of a string
// header (used only to bound buffer estimates).
func (k Kind) Size() int {
	if !k.valid() {
		return 0
	}
	return table[k].size
}

func (k Kind) IsString() bool  { return k == String }
func (k Kind) IsFloat() bool   { return k == Float32 || k == Float64 || k == LongDouble }
func (k Kind) IsNumeric() bool { return k.valid() && k != String }

// DefaultFill returns the netCDF-4 default fill value of the kind.
func (k Kind) DefaultFill() FillSpec {
	if !k.valid() {
		return FillSpec{}
	}
	return table[k].fill
}

// Kinds returns all supported kinds in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, numKinds-1)
	for k := Invalid + 1; k < numKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if table[k].name == s {
			return k, nil
		}
	}
	return Invalid, cos.NewErrUnsupportedType("", s)
}

// Check returns ErrUnsupportedType naming varName when k is not a supported kind.
func Check(k Kind, varName string) error {
	if k.valid() {
		return nil
	}
	return cos.NewErrUnsupportedType(varName, k.String())
}

// Dispatch hands fn an empty Vector whose concrete element type matches k.
// Every type-dependent code path in this module goes through here (or
// through New/View, which share the same table).
func Dispatch(k Kind, varName string, fn func(v Vector) error) error {
	if err := Check(k, varName); err != nil {
		return err
	}
	return fn(table[k].new(k, 0))
}

// New allocates a vector of n zero elements.
func New(k Kind, n int) Vector {
	if !k.valid() {
		return nil
	}
	return table[k].new(k, n)
}

// View returns a vector of n elements backed by b, without copying. Only
// numeric kinds can be viewed; for String it returns New(k, n).
func View(k Kind, b []byte, n int) Vector {
	if !k.valid() {
		return nil
	}
	if table[k].view == nil {
		return table[k].new(k, n)
	}
	return table[k].view(k, b, n)
}
