// Package core defines the variable/group/attribute object model that
// transfers read from and write to, and the helpers that walk it.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package core

import (
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/selection"
)

const (
	Unlimited = -1

	// LocationName is the dimension scale along which observations are
	// distributed and redistributed.
	LocationName = "Location"

	// PathSep separates group components in variable names ("MetaData/latitude").
	PathSep = "/"
)

type ObjectType int

const (
	ObjGroup ObjectType = iota
	ObjVariable
)

type (
	// Dims are the current and maximum sizes of each axis.
	Dims struct {
		Cur []int `json:"cur"`
		Max []int `json:"max"`
	}

	CreateParams struct {
		Fill dtype.FillSpec
		// StringLen > 0 requests fixed-length string storage.
		StringLen int
		Chunks    []int
		Compress  bool
	}

	// ScaleAttachment associates a variable with its dimension scales, one
	// per axis, outermost first.
	ScaleAttachment struct {
		Var    string
		Scales []string
	}

	// Attributes is an ordered set of named, one-dimensional values.
	Attributes interface {
		Names() []string
		Get(name string) (dtype.Vector, bool)
		Set(name string, value dtype.Vector) error
		Has(name string) bool
	}

	Variable interface {
		Name() string
		Kind() dtype.Kind
		Dims() Dims
		Fill() dtype.FillSpec
		Params() CreateParams
		Atts() Attributes

		// Read resizes dst to the number of selected elements and fills it;
		// a nil sel reads the whole variable.
		Read(dst dtype.Vector, sel *selection.Selection) error
		// Write stores the memSel-selected elements of src into the
		// fileSel-selected elements of the variable, in row-major order; nil
		// selections mean "everything".
		Write(src dtype.Vector, memSel, fileSel *selection.Selection) error

		IsDimensionScale() bool
		DimensionScaleName() string
		SetIsDimensionScale(name string) error
		// Scales returns the names of the scales attached to each axis ("" if none).
		Scales() []string
	}

	Group interface {
		Name() string
		Atts() Attributes

		HasVar(name string) bool
		OpenVar(name string) (Variable, error)
		CreateVar(name string, kind dtype.Kind, dims Dims, params CreateParams) (Variable, error)

		OpenGroup(name string) (Group, error)
		CreateGroup(name string) (Group, error)

		// List returns the names (relative to this group) of objects of the
		// given type, sorted; recurse descends into subgroups.
		List(otype ObjectType, recurse bool) []string

		// AttachDimensionScales attaches many scales in one call.
		AttachDimensionScales(batch []ScaleAttachment) error
	}
)

// NamedVariable pairs a name with a borrowed handle that is valid only for
// the duration of the transfer pass that opened it.
type NamedVariable struct {
	Var  Variable
	Name string
}

func (d Dims) Rank() int { return len(d.Cur) }

func (d Dims) NumElements() int {
	n := 1
	for _, c := range d.Cur {
		n *= c
	}
	return n
}

// RowSize is the number of elements per axis-0 entry (the product of all
// axis sizes except axis 0).
func (d Dims) RowSize() int {
	n := 1
	for i := 1; i < len(d.Cur); i++ {
		n *= d.Cur[i]
	}
	return n
}

func (d Dims) Clone() Dims {
	return Dims{Cur: append([]int(nil), d.Cur...), Max: append([]int(nil), d.Max...)}
}

// WithAxis0 returns a copy with axis 0 resized to n; a limited maximum
// follows the new size, an unlimited one stays unlimited.
func (d Dims) WithAxis0(n int) Dims {
	c := d.Clone()
	if len(c.Cur) == 0 {
		return c
	}
	c.Cur[0] = n
	if len(c.Max) > 0 && c.Max[0] != Unlimited {
		c.Max[0] = n
	}
	return c
}

func NewDims(cur ...int) Dims {
	return Dims{Cur: cur, Max: append([]int(nil), cur...)}
}
