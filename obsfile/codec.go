// Package obsfile persists a group (attributes, variables, dimension scales
// and values) in a single self-describing, checksummed file.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package obsfile

import (
	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/core/mem"
	"github.com/NVIDIA/obsxfer/dtype"

	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

// body layout (msgpack):
//   [ groups: [ [name, attrs], ... ], vars: [ var, ... ] ]
// attrs: [ [name, vector], ... ]
// vector: kind, len, raw bytes (numeric, host order) or [string, ...]
// var: name, kind, cur, max, fill-set, fill, string-len, chunks, compress,
//      scale-name, is-scale, scales, attrs, values

func appendVector(b []byte, v dtype.Vector) []byte {
	b = msgp.AppendString(b, v.Kind().String())
	b = msgp.AppendInt(b, v.Len())
	if v.Kind().IsString() {
		strs := dtype.Values[string](v)
		b = msgp.AppendArrayHeader(b, uint32(len(strs)))
		for _, s := range strs {
			b = msgp.AppendString(b, s)
		}
		return b
	}
	return msgp.AppendBytes(b, v.Raw())
}

func readVector(b []byte) (dtype.Vector, []byte, error) {
	name, b, err := msgp.ReadStringBytes(b)
	if err != nil {
		return nil, b, err
	}
	kind, err := dtype.ParseKind(name)
	if err != nil {
		return nil, b, err
	}
	n, b, err := msgp.ReadIntBytes(b)
	if err != nil {
		return nil, b, err
	}
	v := dtype.New(kind, n)
	if kind.IsString() {
		sz, b, err := msgp.ReadArrayHeaderBytes(b)
		if err != nil {
			return nil, b, err
		}
		if int(sz) != n {
			return nil, b, cos.NewErrSizeMismatch("string vector", n, int(sz))
		}
		strs := dtype.Values[string](v)
		for i := range strs {
			if strs[i], b, err = msgp.ReadStringBytes(b); err != nil {
				return nil, b, err
			}
		}
		return v, b, nil
	}
	raw, b, err := msgp.ReadBytesZC(b)
	if err != nil {
		return nil, b, err
	}
	if len(raw) != n*kind.Size() {
		return nil, b, cos.NewErrSizeMismatch(kind.String()+" vector bytes", n*kind.Size(), len(raw))
	}
	copy(v.Raw(), raw)
	return v, b, nil
}

func appendInts(b []byte, vals []int) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(vals)))
	for _, v := range vals {
		b = msgp.AppendInt(b, v)
	}
	return b
}

func readInts(b []byte) ([]int, []byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	vals := make([]int, n)
	for i := range vals {
		if vals[i], b, err = msgp.ReadIntBytes(b); err != nil {
			return nil, b, err
		}
	}
	return vals, b, nil
}

func appendStrings(b []byte, strs []string) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(strs)))
	for _, s := range strs {
		b = msgp.AppendString(b, s)
	}
	return b
}

func readStrings(b []byte) ([]string, []byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	if n == 0 {
		return nil, b, nil
	}
	strs := make([]string, n)
	for i := range strs {
		if strs[i], b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, b, err
		}
	}
	return strs, b, nil
}

func appendAttrs(b []byte, atts core.Attributes) []byte {
	names := atts.Names()
	b = msgp.AppendArrayHeader(b, uint32(len(names)))
	for _, name := range names {
		v, _ := atts.Get(name)
		b = msgp.AppendString(b, name)
		b = appendVector(b, v)
	}
	return b
}

func readAttrs(b []byte, atts core.Attributes) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	for range n {
		var (
			name string
			v    dtype.Vector
		)
		if name, b, err = msgp.ReadStringBytes(b); err != nil {
			return b, err
		}
		if v, b, err = readVector(b); err != nil {
			return b, errors.Wrapf(err, "attribute %q", name)
		}
		if err := atts.Set(name, v); err != nil {
			return b, err
		}
	}
	return b, nil
}

// marshal encodes g and everything under it.
func marshal(b []byte, g core.Group) ([]byte, error) {
	groups := g.List(core.ObjGroup, true)
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendArrayHeader(b, uint32(len(groups)+1))
	b = msgp.AppendString(b, "")
	b = appendAttrs(b, g.Atts())
	for _, name := range groups {
		sub, err := g.OpenGroup(name)
		if err != nil {
			return nil, err
		}
		b = msgp.AppendString(b, name)
		b = appendAttrs(b, sub.Atts())
	}

	names := g.List(core.ObjVariable, true)
	b = msgp.AppendArrayHeader(b, uint32(len(names)))
	for _, name := range names {
		v, err := g.OpenVar(name)
		if err != nil {
			return nil, err
		}
		if b, err = appendVar(b, name, v); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func appendVar(b []byte, name string, v core.Variable) ([]byte, error) {
	var (
		kind   = v.Kind()
		dims   = v.Dims()
		params = v.Params()
		fill   = v.Fill()
		values = dtype.New(kind, 0)
	)
	if err := v.Read(values, nil); err != nil {
		return nil, errors.Wrapf(err, "read %q", name)
	}
	b = msgp.AppendString(b, name)
	b = msgp.AppendString(b, kind.String())
	b = appendInts(b, dims.Cur)
	b = appendInts(b, dims.Max)
	b = msgp.AppendBool(b, fill.Set)
	b = appendVector(b, fill.Vector(kind))
	b = msgp.AppendInt(b, params.StringLen)
	b = appendInts(b, params.Chunks)
	b = msgp.AppendBool(b, params.Compress)
	b = msgp.AppendString(b, v.DimensionScaleName())
	b = msgp.AppendBool(b, v.IsDimensionScale())
	b = appendStrings(b, v.Scales())
	b = appendAttrs(b, v.Atts())
	return appendVector(b, values), nil
}

// unmarshal rebuilds the encoded tree under root.
func unmarshal(b []byte, root *mem.Group) error {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return err
	}
	if sz != 2 {
		return cos.NewErrSizeMismatch("obsfile body", 2, int(sz))
	}
	ngroups, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return err
	}
	for range ngroups {
		var name string
		if name, b, err = msgp.ReadStringBytes(b); err != nil {
			return err
		}
		var g core.Group = root
		if name != "" {
			if g, err = root.CreateGroup(name); err != nil {
				return err
			}
		}
		if b, err = readAttrs(b, g.Atts()); err != nil {
			return errors.Wrapf(err, "group %q", name)
		}
	}

	nvars, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return err
	}
	var batch []core.ScaleAttachment
	for range nvars {
		var sa *core.ScaleAttachment
		if b, sa, err = readVar(b, root); err != nil {
			return err
		}
		if sa != nil {
			batch = append(batch, *sa)
		}
	}
	if len(b) != 0 {
		return errors.Errorf("obsfile body: %d trailing bytes", len(b))
	}
	return root.AttachDimensionScales(batch)
}

func readVar(b []byte, root *mem.Group) ([]byte, *core.ScaleAttachment, error) {
	var (
		name, kname, scaleName string
		dims                   core.Dims
		params                 core.CreateParams
		fill, values           dtype.Vector
		fillSet, isScale       bool
		scales                 []string
		err                    error
	)
	if name, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, nil, err
	}
	if kname, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, nil, err
	}
	kind, err := dtype.ParseKind(kname)
	if err != nil {
		return b, nil, cos.NewErrUnsupportedType(name, kname)
	}
	if dims.Cur, b, err = readInts(b); err != nil {
		return b, nil, err
	}
	if dims.Max, b, err = readInts(b); err != nil {
		return b, nil, err
	}
	if fillSet, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, nil, err
	}
	if fill, b, err = readVector(b); err != nil {
		return b, nil, errors.Wrapf(err, "variable %q fill", name)
	}
	if fillSet {
		params.Fill = dtype.FillFromVector(fill)
	}
	if params.StringLen, b, err = msgp.ReadIntBytes(b); err != nil {
		return b, nil, err
	}
	if params.Chunks, b, err = readInts(b); err != nil {
		return b, nil, err
	}
	if len(params.Chunks) == 0 {
		params.Chunks = nil
	}
	if params.Compress, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, nil, err
	}
	if scaleName, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, nil, err
	}
	if isScale, b, err = msgp.ReadBoolBytes(b); err != nil {
		return b, nil, err
	}
	if scales, b, err = readStrings(b); err != nil {
		return b, nil, err
	}

	v, err := root.CreateVar(name, kind, dims, params)
	if err != nil {
		return b, nil, err
	}
	if b, err = readAttrs(b, v.Atts()); err != nil {
		return b, nil, errors.Wrapf(err, "variable %q", name)
	}
	if values, b, err = readVector(b); err != nil {
		return b, nil, errors.Wrapf(err, "variable %q values", name)
	}
	if values.Len() != dims.NumElements() {
		return b, nil, cos.NewErrSizeMismatch("variable "+name+" values", dims.NumElements(), values.Len())
	}
	if values.Len() > 0 {
		if err := v.Write(values, nil, nil); err != nil {
			return b, nil, err
		}
	}
	if isScale {
		if err := v.SetIsDimensionScale(scaleName); err != nil {
			return b, nil, err
		}
	}
	if len(scales) == 0 {
		return b, nil, nil
	}
	return b, &core.ScaleAttachment{Var: name, Scales: scales}, nil
}
