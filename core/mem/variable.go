// Package mem is the in-memory storage engine behind core.Group: groups,
// variables, attributes and dimension scales held in process memory.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package mem

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/selection"

	"github.com/pkg/errors"
)

type Variable struct {
	mu        *sync.RWMutex
	data      dtype.Vector
	atts      *Attrs
	name      string
	scaleName string
	scales    []string
	dims      core.Dims
	params    core.CreateParams
	kind      dtype.Kind
	isScale   bool
}

// interface guard
var _ core.Variable = (*Variable)(nil)

func newVariable(mu *sync.RWMutex, name string, kind dtype.Kind, dims core.Dims, params core.CreateParams) *Variable {
	v := &Variable{
		mu:     mu,
		atts:   newAttrs(mu),
		name:   name,
		kind:   kind,
		dims:   dims,
		params: params,
		scales: make([]string, len(dims.Cur)),
	}
	v.data = dtype.New(kind, dims.NumElements())
	if params.Fill.Set {
		v.data.SetAll(params.Fill)
	}
	return v
}

func (v *Variable) Name() string               { return v.name }
func (v *Variable) Kind() dtype.Kind           { return v.kind }
func (v *Variable) Fill() dtype.FillSpec       { return v.params.Fill }
func (v *Variable) Params() core.CreateParams  { return v.params }
func (v *Variable) Atts() core.Attributes      { return v.atts }
func (v *Variable) DimensionScaleName() string { return v.scaleName }

func (v *Variable) Dims() core.Dims {
	v.mu.RLock()
	d := v.dims.Clone()
	v.mu.RUnlock()
	return d
}

func (v *Variable) IsDimensionScale() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.isScale
}

func (v *Variable) SetIsDimensionScale(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.dims.Cur) != 1 {
		return errors.Errorf("variable %q: a dimension scale must be one-dimensional, have rank %d",
			v.name, len(v.dims.Cur))
	}
	v.isScale, v.scaleName = true, name
	return nil
}

func (v *Variable) Scales() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, s := range v.scales {
		if s != "" {
			return append([]string(nil), v.scales...)
		}
	}
	return nil
}

func (v *Variable) Read(dst dtype.Vector, sel *selection.Selection) error {
	if dst.Kind() != v.kind {
		return errors.Errorf("read %q: destination kind %s, variable kind %s", v.name, dst.Kind(), v.kind)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if sel == nil {
		sel = selection.ForEntireVariable(v.dims.Cur)
	}
	if err := v.checkFileSel(sel); err != nil {
		return err
	}
	dst.Resize(sel.NumElements())
	var pos int
	sel.Runs(func(off, n int) {
		dst.CopyAt(pos, v.data, off, n)
		pos += n
	})
	return nil
}

func (v *Variable) Write(src dtype.Vector, memSel, fileSel *selection.Selection) error {
	if src.Kind() != v.kind {
		return errors.Errorf("write %q: source kind %s, variable kind %s", v.name, src.Kind(), v.kind)
	}
	if v.params.StringLen > 0 {
		if err := v.checkStringLen(src); err != nil {
			return err
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if memSel == nil {
		memSel = selection.ForEntireVariable([]int{src.Len()})
	}
	if fileSel == nil {
		fileSel = selection.ForEntireVariable(v.dims.Cur)
	}
	if err := memSel.Validate(); err != nil {
		return errors.Wrapf(err, "write %q: memory selection", v.name)
	}
	if memSel.ExtentElements() > src.Len() {
		return cos.NewErrSizeMismatch("write "+v.name+": source buffer", memSel.ExtentElements(), src.Len())
	}
	if err := v.checkFileSel(fileSel); err != nil {
		return err
	}
	if memSel.NumElements() != fileSel.NumElements() {
		return cos.NewErrSizeMismatch("write "+v.name+": selected elements", fileSel.NumElements(), memSel.NumElements())
	}
	copyRuns(v.data, src, memSel, fileSel)
	return nil
}

func (v *Variable) checkFileSel(sel *selection.Selection) error {
	if len(sel.Extent) != len(v.dims.Cur) {
		return cos.NewErrSizeMismatch(fmt.Sprintf("%q: selection rank", v.name), len(v.dims.Cur), len(sel.Extent))
	}
	for i, e := range sel.Extent {
		if e != v.dims.Cur[i] {
			return cos.NewErrSizeMismatch(fmt.Sprintf("%q: selection extent in dimension %d", v.name, i), v.dims.Cur[i], e)
		}
	}
	return sel.Validate()
}

func (v *Variable) checkStringLen(src dtype.Vector) error {
	for _, s := range dtype.Values[string](src) {
		if len(s) > v.params.StringLen {
			return cos.NewErrSizeMismatch("fixed-length string in "+v.name, v.params.StringLen, len(s))
		}
	}
	return nil
}

// copyRuns pairs the contiguous runs of both selections (the two run
// sequences generally have different boundaries).
func copyRuns(dst, src dtype.Vector, memSel, fileSel *selection.Selection) {
	type run struct{ off, n int }
	var srcRuns []run
	memSel.Runs(func(off, n int) { srcRuns = append(srcRuns, run{off, n}) })
	var i, used int
	fileSel.Runs(func(off, n int) {
		for n > 0 {
			r := srcRuns[i]
			k := min(n, r.n-used)
			dst.CopyAt(off, src, r.off+used, k)
			off += k
			n -= k
			used += k
			if used == r.n {
				i++
				used = 0
			}
		}
	})
}
