// Package core defines the variable/group/attribute object model that
// transfers read from and write to, and the helpers that walk it.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package core

import (
	"sort"

	"github.com/pkg/errors"
)

// VarDimMap maps each regular (non-scale) variable to its attached
// dimension scales, axis 0 first. Iteration order is Keys.
type VarDimMap struct {
	m    map[string][]NamedVariable
	keys []NamedVariable
}

func NewVarDimMap() *VarDimMap { return &VarDimMap{m: make(map[string][]NamedVariable)} }

func (dm *VarDimMap) Add(v NamedVariable, scales []NamedVariable) {
	if _, ok := dm.m[v.Name]; !ok {
		dm.keys = append(dm.keys, v)
	}
	dm.m[v.Name] = scales
}

func (dm *VarDimMap) Keys() []NamedVariable { return dm.keys }
func (dm *VarDimMap) Len() int              { return len(dm.keys) }

func (dm *VarDimMap) Scales(varName string) ([]NamedVariable, bool) {
	scales, ok := dm.m[varName]
	return scales, ok
}

// UsesLocation reports whether axis 0 of varName is the Location scale.
// A variable with no scale at axis 0 is never Location-indexed.
func (dm *VarDimMap) UsesLocation(varName string) bool {
	if varName == LocationName {
		return true
	}
	scales := dm.m[varName]
	return len(scales) > 0 && scales[0].Name == LocationName
}

// CollectVarDimInfo walks all variables of g (recursively) and separates
// dimension scales from regular variables. Location always comes first
// among the scales. maxSize0 is the largest axis-0 size of any variable.
func CollectVarDimInfo(g Group) (regular, scales []NamedVariable, dm *VarDimMap, maxSize0 int, err error) {
	names := g.List(ObjVariable, true)
	dm = NewVarDimMap()
	byName := make(map[string]NamedVariable, len(names))
	for _, name := range names {
		var v Variable
		if v, err = g.OpenVar(name); err != nil {
			err = errors.Wrapf(err, "collect var/dim info")
			return
		}
		nv := NamedVariable{Name: name, Var: v}
		byName[name] = nv
		dims := v.Dims()
		if dims.Rank() >= 1 {
			maxSize0 = max(maxSize0, dims.Cur[0])
		}
		if dims.Rank() == 1 && v.IsDimensionScale() {
			scales = append(scales, nv)
			continue
		}
		regular = append(regular, nv)
	}
	sort.SliceStable(scales, func(i, j int) bool {
		return scales[i].Name == LocationName && scales[j].Name != LocationName
	})
	for _, nv := range regular {
		attached := nv.Var.Scales()
		dimVars := make([]NamedVariable, 0, len(attached))
		for axis, scaleName := range attached {
			sv, ok := byName[scaleName]
			if !ok {
				err = errors.Errorf("variable %q: axis %d has no dimension scale attached", nv.Name, axis)
				return
			}
			dimVars = append(dimVars, sv)
		}
		dm.Add(nv, dimVars)
	}
	return
}

var ignoredAttrs = map[string]struct{}{
	"CLASS":               {},
	"DIMENSION_LIST":      {},
	"NAME":                {},
	"REFERENCE_LIST":      {},
	"_FillValue":          {},
	"_NCProperties":       {},
	"_Netcdf4Coordinates": {},
	"_Netcdf4Dimid":       {},
	"_nc3_strict":         {},
	"_orig_fill_value":    {},
	"suggested_chunk_dim": {},
}

// IgnoreAttribute reports whether the named attribute is backend-internal
// bookkeeping that must be regenerated by the destination, not copied.
func IgnoreAttribute(name string) bool {
	_, ok := ignoredAttrs[name]
	return ok
}

// CopyAttributes copies all attributes of src into dst except the ignored ones.
func CopyAttributes(src, dst Attributes) error {
	for _, name := range src.Names() {
		if IgnoreAttribute(name) {
			continue
		}
		v, _ := src.Get(name)
		if err := dst.Set(name, v.Clone()); err != nil {
			return errors.Wrapf(err, "copy attribute %q", name)
		}
	}
	return nil
}
