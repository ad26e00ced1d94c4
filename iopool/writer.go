// Package iopool runs collective transfer passes between all ranks and the
// I/O pool.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package iopool

import (
	"context"
	"strconv"

	"github.com/NVIDIA/obsxfer/cmn"
	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/cmn/nlog"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/grouping"
	"github.com/NVIDIA/obsxfer/memsys"
	"github.com/NVIDIA/obsxfer/selection"
	"github.com/NVIDIA/obsxfer/stats"
	"github.com/NVIDIA/obsxfer/transport"
	"github.com/NVIDIA/obsxfer/xfer"

	"github.com/pkg/errors"
)

// OrigFillAttr keeps the fill value of a string variable that is written
// with fixed-length storage (which cannot carry a string fill).
const OrigFillAttr = "_orig_fill_value"

type (
	WriterOpts struct {
		Config  *cmn.Config
		Tracker stats.Tracker
		// PatchObs flags the locations this rank is the unique owner of
		// (nil: all of them).
		PatchObs []bool
		// GlobalIdx maps each local location to its global index. When any
		// rank provides it, the pass starts with a patch partition check.
		GlobalIdx []int
		// ForceMultiple: the destination cannot be shared by pool ranks.
		ForceMultiple bool
	}

	// DestFunc opens the destination group of a pool rank.
	DestFunc func(p *Pool) (core.Group, error)

	// WriterPool gathers a distributed group onto the pool ranks (ioWriteGroup).
	WriterPool struct {
		*pass
		opts *WriterOpts
		pool *Pool
		dest core.Group
	}

	// per-pass variable inventory of the source
	srcVars struct {
		order   []core.NamedVariable // scales (Location first), then regular
		dm      *core.VarDimMap
		maxLens map[string]int // string variables only
		isScale map[string]bool
	}
)

func NewWriterPool(c transport.Comm, opts *WriterOpts) *WriterPool {
	if opts == nil {
		opts = &WriterOpts{}
	}
	return &WriterPool{pass: newPass(c, opts.Config, opts.Tracker, KindWrite), opts: opts}
}

func (wp *WriterPool) Pool() *Pool         { return wp.pool }
func (wp *WriterPool) Dest() core.Group    { return wp.dest }
func (wp *WriterPool) Stats() *Stats       { return &wp.stats }
func (wp *WriterPool) IsParallel() bool    { return wp.pool != nil && wp.pool.IsParallel() }
func (wp *WriterPool) MultipleFiles() bool { return wp.pool != nil && wp.pool.CreateMultipleFiles() }

// Save is collective over all ranks. src is this rank's part of the
// distributed group; open is called on pool ranks only. A rank that fails
// on its own aborts the world so that every peer fails with
// transport.ErrAborted rather than block or commit a partial file.
func (wp *WriterPool) Save(ctx context.Context, src core.Group, open DestFunc) error {
	return wp.fail(wp.save(ctx, src, open))
}

func (wp *WriterPool) save(ctx context.Context, src core.Group, open DestFunc) error {
	if err := wp.begin(); err != nil {
		return err
	}
	nlocs, err := grouping.SourceNlocs(src)
	if err == nil && wp.opts.PatchObs != nil && len(wp.opts.PatchObs) != nlocs {
		err = cos.NewErrSizeMismatch("patch mask", nlocs, len(wp.opts.PatchObs))
	}
	if err := agree(wp.c, err); err != nil {
		return err
	}
	if err := wp.verifyPatches(nlocs); err != nil {
		return err
	}

	own := xfer.PatchCount(wp.opts.PatchObs, nlocs)
	if wp.pool, err = NewPool(wp.c, &wp.config.IoPool, own, wp.opts.ForceMultiple); err != nil {
		return err
	}
	wp.stats.Own, wp.stats.Total, wp.stats.Global = own, wp.pool.Total(), wp.pool.GlobalNlocs()
	wp.stats.PoolRank = wp.pool.PoolRank()

	sv, err := collectSrcVars(src)
	if err := agree(wp.c, err); err != nil {
		return err
	}
	if err := wp.maxStringLens(sv); err != nil {
		return err
	}

	// pool ranks: attributes, variables, dimension scales
	if wp.pool.InPool() {
		if wp.dest, err = open(wp.pool); err == nil {
			if err = copyGroupAttributes(src, wp.dest); err == nil {
				err = wp.createDestVars(sv)
			}
		}
	}
	if err := agree(wp.c, err); err != nil {
		return err
	}

	engine := xfer.NewEngine(wp.c, wp.scratch(sv), wp.tracker, wp.config.Transport.BaseTag, wp.config.Transport.TagFactor)
	for i, nv := range sv.order {
		if err := wp.checkCtx(ctx); err != nil {
			return err
		}
		if err := wp.writeVar(engine, sv, nv, i+1); err != nil {
			return err
		}
		wp.stats.Vars++
	}
	// commit only when every rank wrote every variable
	if err := agree(wp.c, nil); err != nil {
		return err
	}
	wp.stats.Grown = engine.Scratch().Grown()
	wp.end()
	return nil
}

// verifyPatches runs the partition check when any rank supplied global indices.
func (wp *WriterPool) verifyPatches(nlocs int) error {
	var has int64
	if wp.opts.GlobalIdx != nil {
		has = 1
	}
	anyHas, err := wp.c.AllReduceMax(has)
	if err != nil || anyHas == 0 {
		return err
	}
	if len(wp.opts.GlobalIdx) != nlocs {
		err = cos.NewErrSizeMismatch("global location indices", nlocs, len(wp.opts.GlobalIdx))
	}
	if err := agree(wp.c, err); err != nil {
		return err
	}
	if err := xfer.VerifyPatches(wp.c, wp.opts.GlobalIdx, wp.opts.PatchObs); err != nil {
		return &agreedErr{err} // same verdict on every rank
	}
	return nil
}

func collectSrcVars(src core.Group) (*srcVars, error) {
	regular, scales, dm, _, err := core.CollectVarDimInfo(src)
	if err != nil {
		return nil, err
	}
	sv := &srcVars{
		order:   make([]core.NamedVariable, 0, len(scales)+len(regular)),
		dm:      dm,
		maxLens: make(map[string]int),
		isScale: make(map[string]bool, len(scales)),
	}
	for _, nv := range scales {
		sv.isScale[nv.Name] = true
	}
	sv.order = append(sv.order, scales...)
	sv.order = append(sv.order, regular...)
	for _, nv := range sv.order {
		if err := dtype.Check(nv.Var.Kind(), nv.Name); err != nil {
			return nil, err
		}
	}
	return sv, nil
}

// maxStringLens is collective: the longest string of every string variable
// over all ranks (at least 1).
func (wp *WriterPool) maxStringLens(sv *srcVars) error {
	var (
		names []string
		lens  []int
	)
	for _, nv := range sv.order {
		if !nv.Var.Kind().IsString() {
			continue
		}
		vec := dtype.New(dtype.String, 0)
		if err := nv.Var.Read(vec, nil); err != nil {
			return errors.Wrapf(err, "max string length of %q", nv.Name)
		}
		names = append(names, nv.Name)
		lens = append(lens, xfer.MaxLen(dtype.Values[string](vec)))
	}
	parts, err := wp.c.AllGather(appendInts(nil, lens))
	if err != nil {
		return errors.Wrap(err, "max string lengths")
	}
	for rank, b := range parts {
		theirs, _, err := readInts(b)
		if err != nil {
			return errors.Wrapf(err, "max string lengths from rank %d", rank)
		}
		if len(theirs) != len(lens) {
			return &agreedErr{cos.NewErrSizeMismatch("string variables on rank "+strconv.Itoa(rank), len(lens), len(theirs))}
		}
		for i, n := range theirs {
			lens[i] = max(lens[i], n)
		}
	}
	bound := wp.config.Transport.MaxStringLength
	for i, name := range names {
		n := max(lens[i], 1)
		if n+1 > bound {
			return &agreedErr{cos.NewErrSizeMismatch("packed string segment of "+name+" (transport.max_string_length)", bound, n+1)}
		}
		sv.maxLens[name] = n
	}
	return nil
}

func (wp *WriterPool) createDestVars(sv *srcVars) error {
	var batch []core.ScaleAttachment
	for _, nv := range sv.order {
		var (
			v      = nv.Var
			kind   = v.Kind()
			dims   = v.Dims()
			params core.CreateParams
		)
		if sv.dm.UsesLocation(nv.Name) {
			dims = dims.WithAxis0(wp.pool.PoolNlocs())
		}
		if kind.IsString() {
			params.StringLen = sv.maxLens[nv.Name]
		} else {
			params.Fill = v.Fill()
			if !params.Fill.Set {
				params.Fill = kind.DefaultFill()
			}
		}
		dv, err := wp.dest.CreateVar(nv.Name, kind, dims, params)
		if err != nil {
			return err
		}
		if err := core.CopyAttributes(v.Atts(), dv.Atts()); err != nil {
			return errors.Wrapf(err, "variable %q", nv.Name)
		}
		if kind.IsString() && v.Fill().Set {
			if err := dv.Atts().Set(OrigFillAttr, v.Fill().Vector(dtype.String)); err != nil {
				return err
			}
		}
		if sv.isScale[nv.Name] {
			if err := dv.SetIsDimensionScale(v.DimensionScaleName()); err != nil {
				return err
			}
			continue
		}
		if scales, ok := sv.dm.Scales(nv.Name); ok && len(scales) > 0 {
			sa := core.ScaleAttachment{Var: nv.Name, Scales: make([]string, len(scales))}
			for i, s := range scales {
				sa.Scales[i] = s.Name
			}
			batch = append(batch, sa)
		}
	}
	return wp.dest.AttachDimensionScales(batch)
}

// scratch is sized for the largest variable this rank will send or receive.
func (wp *WriterPool) scratch(sv *srcVars) *memsys.Scratch {
	var srcSize, dstSize int
	for _, nv := range sv.order {
		if !sv.dm.UsesLocation(nv.Name) {
			continue
		}
		var (
			kind    = nv.Var.Kind()
			nelems  = wp.pool.Total() * nv.Var.Dims().RowSize()
			elemLen = kind.Size()
		)
		if kind.IsString() {
			srcSize = max(srcSize, xfer.PackedSize(nelems, sv.maxLens[nv.Name]+1))
			continue
		}
		dstSize = max(dstSize, nelems*elemLen)
	}
	return memsys.NewScratch(srcSize, dstSize)
}

func (wp *WriterPool) writeVar(engine *xfer.Engine, sv *srcVars, nv core.NamedVariable, varNum int) error {
	var (
		v       = nv.Var
		rowSize = v.Dims().RowSize()
		vec     = dtype.New(v.Kind(), 0)
	)
	if err := v.Read(vec, nil); err != nil {
		return errors.Wrapf(err, "read %q", nv.Name)
	}
	if !sv.dm.UsesLocation(nv.Name) {
		// one copy per file
		if !wp.pool.InPool() || (wp.pool.IsParallel() && wp.pool.PoolRank() != 0) {
			return nil
		}
		return wp.commit(nv.Name, vec, nil, nil)
	}

	local := xfer.PatchSelect(vec, wp.opts.PatchObs, rowSize)
	global, err := engine.Gather(nv.Name, varNum, local, rowSize, sv.maxLens[nv.Name]+1, wp.pool.Plan())
	if err != nil || !wp.pool.InPool() {
		return err
	}
	if !wp.pool.IsParallel() {
		return wp.commit(nv.Name, global, nil, nil)
	}
	dv, err := wp.dest.OpenVar(nv.Name)
	if err != nil {
		return err
	}
	dims := dv.Dims().Cur
	memSel := selection.ForBlock(dims, 0, wp.pool.Total(), false)
	fileSel := selection.ForBlock(dims, wp.pool.NlocsStart(), wp.pool.Total(), true)
	return wp.commit(nv.Name, global, memSel, fileSel)
}

func (wp *WriterPool) commit(name string, vec dtype.Vector, memSel, fileSel *selection.Selection) error {
	dv, err := wp.dest.OpenVar(name)
	if err != nil {
		return err
	}
	if err := dv.Write(vec, memSel, fileSel); err != nil {
		return errors.Wrapf(err, "write %q", name)
	}
	if nlog.V(4) {
		nlog.Infof("%s: wrote %q, %d elements", wp.stats.PassID, name, vec.Len())
	}
	return nil
}
