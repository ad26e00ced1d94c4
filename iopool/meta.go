// Package iopool runs collective transfer passes between all ranks and the
// I/O pool.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package iopool

import (
	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/dtype"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type (
	AttrMeta struct {
		Name   string   `json:"name" yaml:"name"`
		Kind   string   `json:"kind" yaml:"kind"`
		Values []string `json:"values" yaml:"values,flow"`
	}
	GroupMeta struct {
		Name  string     `json:"name" yaml:"name"`
		Attrs []AttrMeta `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	}
	VarMeta struct {
		Name      string     `json:"name" yaml:"name"`
		Kind      string     `json:"kind" yaml:"kind"`
		Dims      []int      `json:"dims" yaml:"dims,flow"`
		MaxDims   []int      `json:"max_dims" yaml:"max_dims,flow"`
		Scale     string     `json:"scale,omitempty" yaml:"scale,omitempty"`
		Scales    []string   `json:"scales,omitempty" yaml:"scales,omitempty,flow"`
		Attrs     []AttrMeta `json:"attrs,omitempty" yaml:"attrs,omitempty"`
		Location  bool       `json:"location,omitempty" yaml:"location,omitempty"`
		StringLen int        `json:"string_len,omitempty" yaml:"string_len,omitempty"`
	}

	// Structure is everything about a group except variable values:
	// group attributes, then dimension scales (Location first), then the
	// regular variables. Its order is the order of a transfer pass.
	Structure struct {
		Groups []GroupMeta `json:"groups" yaml:"groups"`
		Vars   []VarMeta   `json:"vars" yaml:"vars"`
	}
)

func describeAttrs(atts core.Attributes) []AttrMeta {
	names := atts.Names()
	if len(names) == 0 {
		return nil
	}
	out := make([]AttrMeta, 0, len(names))
	for _, name := range names {
		if core.IgnoreAttribute(name) {
			continue
		}
		v, _ := atts.Get(name)
		am := AttrMeta{Name: name, Kind: v.Kind().String(), Values: make([]string, v.Len())}
		for i := range am.Values {
			am.Values[i] = v.Format(i)
		}
		out = append(out, am)
	}
	return out
}

func setAttrs(atts core.Attributes, metas []AttrMeta) error {
	for _, am := range metas {
		kind, err := dtype.ParseKind(am.Kind)
		if err != nil {
			return errors.Wrapf(err, "attribute %q", am.Name)
		}
		v, err := dtype.Parse(kind, am.Values)
		if err != nil {
			return errors.Wrapf(err, "attribute %q", am.Name)
		}
		if err := atts.Set(am.Name, v); err != nil {
			return err
		}
	}
	return nil
}

// Describe walks g in transfer order.
func Describe(g core.Group) (*Structure, error) {
	regular, scales, dm, _, err := core.CollectVarDimInfo(g)
	if err != nil {
		return nil, err
	}
	s := &Structure{Groups: []GroupMeta{{Name: "", Attrs: describeAttrs(g.Atts())}}}
	for _, name := range g.List(core.ObjGroup, true) {
		sub, err := g.OpenGroup(name)
		if err != nil {
			return nil, err
		}
		s.Groups = append(s.Groups, GroupMeta{Name: name, Attrs: describeAttrs(sub.Atts())})
	}
	for _, nv := range scales {
		s.Vars = append(s.Vars, describeVar(nv, nil, nv.Name == core.LocationName))
	}
	for _, nv := range regular {
		dims, _ := dm.Scales(nv.Name)
		s.Vars = append(s.Vars, describeVar(nv, dims, dm.UsesLocation(nv.Name)))
	}
	return s, nil
}

func describeVar(nv core.NamedVariable, scales []core.NamedVariable, location bool) VarMeta {
	var (
		v    = nv.Var
		dims = v.Dims()
		vm   = VarMeta{
			Name:      nv.Name,
			Kind:      v.Kind().String(),
			Dims:      dims.Cur,
			MaxDims:   dims.Max,
			Attrs:     describeAttrs(v.Atts()),
			Location:  location,
			StringLen: v.Params().StringLen,
		}
	)
	if v.IsDimensionScale() {
		vm.Scale = v.DimensionScaleName()
	}
	for _, sv := range scales {
		vm.Scales = append(vm.Scales, sv.Name)
	}
	return vm
}

func (s *Structure) Marshal() ([]byte, error) { return yaml.Marshal(s) }

func UnmarshalStructure(b []byte) (*Structure, error) {
	s := &Structure{}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, errors.Wrap(err, "group structure")
	}
	return s, nil
}

// Build creates in dst every group and variable of s. Location-indexed
// variables get nlocs rows. Variables are filled with the missing value of
// their kind until written.
func (s *Structure) Build(dst core.Group, nlocs int) error {
	for _, gm := range s.Groups {
		g := dst
		if gm.Name != "" {
			var err error
			if g, err = openOrCreateGroup(dst, gm.Name); err != nil {
				return err
			}
		}
		if err := setAttrs(g.Atts(), gm.Attrs); err != nil {
			return errors.Wrapf(err, "group %q", gm.Name)
		}
	}
	var batch []core.ScaleAttachment
	for i := range s.Vars {
		vm := &s.Vars[i]
		kind, err := dtype.ParseKind(vm.Kind)
		if err != nil {
			return cos.NewErrUnsupportedType(vm.Name, vm.Kind)
		}
		dims := core.Dims{Cur: append([]int(nil), vm.Dims...), Max: append([]int(nil), vm.MaxDims...)}
		if vm.Location {
			dims = dims.WithAxis0(nlocs)
		}
		v, err := dst.CreateVar(vm.Name, kind, dims, core.CreateParams{Fill: dtype.MissingFill(kind)})
		if err != nil {
			return err
		}
		if err := setAttrs(v.Atts(), vm.Attrs); err != nil {
			return errors.Wrapf(err, "variable %q", vm.Name)
		}
		if vm.Scale != "" {
			if err := v.SetIsDimensionScale(vm.Scale); err != nil {
				return err
			}
		}
		if len(vm.Scales) > 0 {
			batch = append(batch, core.ScaleAttachment{Var: vm.Name, Scales: vm.Scales})
		}
	}
	return dst.AttachDimensionScales(batch)
}

// RowSize is the number of elements per axis-0 entry.
func (vm *VarMeta) RowSize() int { return core.Dims{Cur: vm.Dims}.RowSize() }

func openOrCreateGroup(g core.Group, name string) (core.Group, error) {
	if sub, err := g.OpenGroup(name); err == nil {
		return sub, nil
	}
	return g.CreateGroup(name)
}

// copyGroupAttributes copies the attributes of src and of all its nested
// groups into dst, creating the groups as needed.
func copyGroupAttributes(src, dst core.Group) error {
	if err := core.CopyAttributes(src.Atts(), dst.Atts()); err != nil {
		return err
	}
	for _, name := range src.List(core.ObjGroup, true) {
		sg, err := src.OpenGroup(name)
		if err != nil {
			return err
		}
		dg, err := openOrCreateGroup(dst, name)
		if err != nil {
			return err
		}
		if err := core.CopyAttributes(sg.Atts(), dg.Atts()); err != nil {
			return errors.Wrapf(err, "group %q", name)
		}
	}
	return nil
}
