// Package xfer is the redistribution engine.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package xfer

import (
	"encoding/binary"
	"fmt"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/cmn/debug"
	"github.com/NVIDIA/obsxfer/cmn/nlog"
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/memsys"
	"github.com/NVIDIA/obsxfer/stats"
	"github.com/NVIDIA/obsxfer/transport"

	"github.com/pkg/errors"
)

type (
	// Engine moves one variable at a time between a rank and its peers. All
	// exchanges are issue-all, then wait-all; nothing is observable in between.
	Engine struct {
		c         transport.Comm
		scratch   *memsys.Scratch
		tracker   stats.Tracker
		baseTag   int
		tagFactor int
	}

	// Plan is a rank's role in a Location-indexed exchange.
	Plan struct {
		Assignment Assignment
		// Own is this rank's (patch) location count; Total is Own plus the
		// assignment total on a pool rank, and Own otherwise.
		Own    int
		Total  int
		IsPool bool
	}

	// PeerRows are the source rows a non-pool peer receives from its pool
	// rank; nil Rows means the whole variable.
	PeerRows struct {
		Rows []int
		Peer int
	}
)

func NewEngine(c transport.Comm, scratch *memsys.Scratch, tracker stats.Tracker, baseTag, tagFactor int) *Engine {
	debug.Assert(tagFactor > c.Size(), tagFactor, " vs ", c.Size())
	if tracker == nil {
		tracker = (*stats.Prom)(nil)
	}
	return &Engine{c: c, scratch: scratch, tracker: tracker, baseTag: baseTag, tagFactor: tagFactor}
}

// Tag is unique per (variable, sending or receiving non-pool rank) within a pass.
func (e *Engine) Tag(varNum, peer int) int { return e.baseTag + varNum*e.tagFactor + peer }

func (e *Engine) Scratch() *memsys.Scratch { return e.scratch }

// Gather collects a Location-indexed variable on the pool ranks. local is
// this rank's patch-selected data, Own*rowSize elements. On a pool rank the
// result holds Total*rowSize elements: own block first, then each peer's
// block in assignment order. Numeric results alias the scratch buffer and are
// valid until the next call. Non-pool ranks get nil.
func (e *Engine) Gather(varName string, varNum int, local dtype.Vector, rowSize, width int, p *Plan) (dtype.Vector, error) {
	if local.Len() != p.Own*rowSize {
		return nil, cos.NewErrSizeMismatch("gather "+varName+": local elements", p.Own*rowSize, local.Len())
	}
	e.tracker.Inc(stats.NumVars)
	if p.IsPool {
		return e.gatherPool(varName, varNum, local, rowSize, width, p)
	}
	return nil, e.gatherSend(varName, varNum, local, rowSize, width, p)
}

func (e *Engine) gatherPool(varName string, varNum int, local dtype.Vector, rowSize, width int, p *Plan) (dtype.Vector, error) {
	var (
		kind          = local.Kind()
		starts, cnts  = Offsets(p.Own, p.Assignment, rowSize, true)
		reqs          = make([]*transport.Request, 0, len(p.Assignment))
		nelems, owned = p.Total * rowSize, p.Own * rowSize
		dst           dtype.Vector
		packed        []byte
	)
	if err := CheckPartition(p.Own, p.Assignment, rowSize, p.Total); err != nil {
		return nil, errors.Wrapf(err, "gather %s", varName)
	}
	if kind.IsString() {
		dst = dtype.New(kind, nelems)
		packed = e.scratch.Src(PackedSize(nelems-owned, width))
	} else {
		dst = dtype.View(kind, e.scratch.Dst(nelems*kind.Size()), nelems)
	}
	dst.CopyAt(0, local, 0, owned)

	for i, ent := range p.Assignment {
		var buf []byte
		if kind.IsString() {
			buf = packed[(starts[i]-owned)*width : (starts[i]-owned+cnts[i])*width]
		} else {
			buf = dst.Raw()[starts[i]*kind.Size() : (starts[i]+cnts[i])*kind.Size()]
		}
		reqs = append(reqs, e.c.Irecv(buf, ent.Peer, e.Tag(varNum, ent.Peer)))
	}
	if err := transport.WaitAll(reqs); err != nil {
		return nil, errors.Wrapf(err, "gather %s (var #%d)", varName, varNum)
	}
	if kind.IsString() {
		strs := dtype.Values[string](dst)
		if err := Unpack(varName, packed, width, strs[owned:]); err != nil {
			return nil, err
		}
	}
	if nlog.V(4) {
		nlog.Infof("gather %s: own %d + %s => %d elements", varName, owned, p.Assignment, nelems)
	}
	return dst, nil
}

func (e *Engine) gatherSend(varName string, varNum int, local dtype.Vector, rowSize, width int, p *Plan) error {
	debug.Assert(len(p.Assignment) == 1, p.Assignment.String())
	var (
		kind  = local.Kind()
		reqs  = make([]*transport.Request, 0, len(p.Assignment))
		me    = e.c.Rank()
		nelem = p.Own * rowSize
		buf   []byte
	)
	if kind.IsString() {
		buf = e.scratch.Src(PackedSize(nelem, width))
		if err := Pack(varName, buf, dtype.Values[string](local), width); err != nil {
			return errors.Wrapf(err, "gather %s", varName)
		}
	} else {
		buf = local.Raw()
	}
	for _, ent := range p.Assignment {
		reqs = append(reqs, e.c.Isend(buf, ent.Peer, e.Tag(varNum, me)))
	}
	return errors.Wrapf(transport.WaitAll(reqs), "gather %s (var #%d)", varName, varNum)
}

//
// reader direction: pool rank serves its peers' rows
//

// ScatterServe runs on a pool rank: for every peer in order, it receives the
// element count the peer expects, checks it against the peer's selection,
// and sends the selected rows of src. Strings are preceded by a [count, width]
// shape message.
func (e *Engine) ScatterServe(varName string, varNum int, src dtype.Vector, rowSize int, peers []PeerRows) error {
	e.tracker.Inc(stats.NumVars)
	rows := dtype.New(src.Kind(), 0)
	for _, pr := range peers {
		tag := e.Tag(varNum, pr.Peer)
		b, err := e.c.Recv(pr.Peer, tag)
		if err != nil {
			return errors.Wrapf(err, "scatter %s: size from %d", varName, pr.Peer)
		}
		if len(b) != 8 {
			return cos.NewErrSizeMismatch("scatter "+varName+": size message", 8, len(b))
		}
		want := int(binary.LittleEndian.Uint64(b))
		sel := src
		if pr.Rows != nil {
			src.GatherInto(rows, pr.Rows, rowSize)
			sel = rows
		}
		if sel.Len() != want {
			return cos.NewErrSizeMismatch(fmt.Sprintf("scatter %s: elements for rank %d", varName, pr.Peer), sel.Len(), want)
		}
		if want == 0 {
			continue
		}
		if err := e.sendValues(varName, sel, pr.Peer, tag); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sendValues(varName string, v dtype.Vector, peer, tag int) error {
	if !v.Kind().IsString() {
		return errors.Wrapf(e.c.Send(v.Raw(), peer, tag), "scatter %s to %d", varName, peer)
	}
	var (
		strs  = dtype.Values[string](v)
		width = MaxLen(strs) + 1
		shape [16]byte
	)
	binary.LittleEndian.PutUint64(shape[:8], uint64(len(strs)))
	binary.LittleEndian.PutUint64(shape[8:], uint64(width))
	if err := e.c.Send(shape[:], peer, tag); err != nil {
		return errors.Wrapf(err, "scatter %s: shape to %d", varName, peer)
	}
	buf := e.scratch.Src(PackedSize(len(strs), width))
	if err := Pack(varName, buf, strs, width); err != nil {
		return errors.Wrapf(err, "scatter %s", varName)
	}
	return errors.Wrapf(e.c.Send(buf, peer, tag), "scatter %s to %d", varName, peer)
}

// ScatterRecv runs on a non-pool rank: it announces the number of elements
// it expects and receives them from its pool rank. The returned numeric
// vector aliases the scratch buffer.
func (e *Engine) ScatterRecv(varName string, varNum int, kind dtype.Kind, nelems, pool int) (dtype.Vector, error) {
	e.tracker.Inc(stats.NumVars)
	var (
		me   = e.c.Rank()
		tag  = e.Tag(varNum, me)
		size [8]byte
	)
	binary.LittleEndian.PutUint64(size[:], uint64(nelems))
	if err := e.c.Send(size[:], pool, tag); err != nil {
		return nil, errors.Wrapf(err, "scatter %s: size to %d", varName, pool)
	}
	if nelems == 0 {
		return dtype.New(kind, 0), nil
	}
	if !kind.IsString() {
		dst := dtype.View(kind, e.scratch.Dst(nelems*kind.Size()), nelems)
		if _, err := e.c.Irecv(dst.Raw(), pool, tag).Wait(); err != nil {
			return nil, errors.Wrapf(err, "scatter %s from %d", varName, pool)
		}
		return dst, nil
	}
	shape, err := e.c.Recv(pool, tag)
	if err != nil {
		return nil, errors.Wrapf(err, "scatter %s: shape from %d", varName, pool)
	}
	if len(shape) != 16 {
		return nil, cos.NewErrSizeMismatch("scatter "+varName+": shape message", 16, len(shape))
	}
	n, width := int(binary.LittleEndian.Uint64(shape[:8])), int(binary.LittleEndian.Uint64(shape[8:]))
	if n != nelems {
		return nil, cos.NewErrSizeMismatch("scatter "+varName+": strings", nelems, n)
	}
	body, err := e.c.Recv(pool, tag)
	if err != nil {
		return nil, errors.Wrapf(err, "scatter %s from %d", varName, pool)
	}
	dst := dtype.New(kind, n)
	if err := Unpack(varName, body, width, dtype.Values[string](dst)); err != nil {
		return nil, err
	}
	return dst, nil
}
