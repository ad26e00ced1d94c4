// Package iopool runs collective transfer passes between all ranks and the
// I/O pool.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package iopool

import (
	"context"
	"encoding/binary"
	"strconv"

	"github.com/NVIDIA/obsxfer/cmn"
	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/cmn/nlog"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/dist"
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/grouping"
	"github.com/NVIDIA/obsxfer/memsys"
	"github.com/NVIDIA/obsxfer/stats"
	"github.com/NVIDIA/obsxfer/transport"
	"github.com/NVIDIA/obsxfer/xfer"

	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

// assumed packed width of a string when sizing scratch buffers
const estStringLen = 32

type (
	ReaderOpts struct {
		Config  *cmn.Config
		Tracker stats.Tracker
	}

	// SourceFunc opens the observation source; called on pool ranks only.
	SourceFunc func() (core.Group, error)

	// ReaderPool scatters a source group from the pool ranks to the ranks
	// that own its records (ioReadGroup).
	ReaderPool struct {
		*pass
		opts   *ReaderOpts
		pool   *Pool
		src    core.Group
		dist   dist.Distribution
		local  *grouping.Local
		plan   indexPlan
		patch  []bool
		peers  []xfer.PeerRows // pool ranks: who gets which source rows
		layout *Structure
	}
)

func NewReaderPool(c transport.Comm, opts *ReaderOpts) *ReaderPool {
	if opts == nil {
		opts = &ReaderOpts{}
	}
	return &ReaderPool{pass: newPass(c, opts.Config, opts.Tracker, KindRead), opts: opts}
}

func (rp *ReaderPool) Pool() *Pool                     { return rp.pool }
func (rp *ReaderPool) Stats() *Stats                   { return &rp.stats }
func (rp *ReaderPool) Local() *grouping.Local          { return rp.local }
func (rp *ReaderPool) Counts() grouping.Counts         { return rp.plan.counts }
func (rp *ReaderPool) SrcNlocs() int                   { return rp.plan.srcNlocs }
func (rp *ReaderPool) Distribution() dist.Distribution { return rp.dist }
func (rp *ReaderPool) Structure() *Structure           { return rp.layout }

// PatchObs flags the loaded locations this rank is the unique owner of.
func (rp *ReaderPool) PatchObs() []bool { return rp.patch }

// Load is collective over all ranks: every rank ends up with its records
// in dst, Location-indexed variables sized to its location count.
func (rp *ReaderPool) Load(ctx context.Context, dst core.Group, open SourceFunc) error {
	return rp.fail(rp.load(ctx, dst, open))
}

func (rp *ReaderPool) load(ctx context.Context, dst core.Group, open SourceFunc) error {
	if err := rp.begin(); err != nil {
		return err
	}
	if err := rp.selectLocations(open); err != nil {
		return err
	}
	if err := rp.distribute(); err != nil {
		return err
	}
	var err error
	if rp.pool, err = NewPool(rp.c, &rp.config.IoPool, rp.local.Nlocs, false); err != nil {
		return err
	}
	rp.stats.Own, rp.stats.Total, rp.stats.Global = rp.local.Nlocs, rp.pool.Total(), rp.pool.GlobalNlocs()
	rp.stats.PoolRank = rp.pool.PoolRank()

	if rp.pool.InPool() && rp.src == nil {
		rp.src, err = open()
	}
	if err := agree(rp.c, err); err != nil {
		return err
	}
	if err := rp.distributionMap(); err != nil {
		return err
	}
	if err := rp.createDest(dst); err != nil {
		return err
	}

	engine := xfer.NewEngine(rp.c, rp.scratch(), rp.tracker, rp.config.Transport.ReaderBaseTag, rp.config.Transport.TagFactor)
	for i := range rp.layout.Vars {
		if err := rp.checkCtx(ctx); err != nil {
			return err
		}
		if err := rp.readVar(engine, dst, &rp.layout.Vars[i], i+1); err != nil {
			return err
		}
		rp.stats.Vars++
	}
	if err := agree(rp.c, nil); err != nil {
		return err
	}
	rp.stats.Grown = engine.Scratch().Grown()
	rp.end()
	return nil
}

// selectLocations: rank 0 reads the location metadata, applies the time
// window and numbers the records, then broadcasts the outcome.
func (rp *ReaderPool) selectLocations(open SourceFunc) error {
	var b []byte
	if rp.c.Rank() == 0 {
		if err := rp.planIndices(open); err != nil {
			rp.plan = indexPlan{errMsg: err.Error()}
		}
		b = rp.plan.marshal()
	}
	b, err := rp.c.Bcast(b, 0)
	if err != nil {
		return errors.Wrap(err, "broadcast source locations")
	}
	if rp.c.Rank() != 0 {
		if err := rp.plan.unmarshal(b); err != nil {
			return errors.Wrap(err, "source locations")
		}
	}
	if rp.plan.errMsg != "" {
		return &agreedErr{errors.Errorf("rank 0: %s", rp.plan.errMsg)}
	}
	if len(rp.plan.idx) != len(rp.plan.recNums) {
		return cos.NewErrSizeMismatch("record numbers", len(rp.plan.idx), len(rp.plan.recNums))
	}
	return nil
}

func (rp *ReaderPool) planIndices(open SourceFunc) (err error) {
	if rp.src, err = open(); err != nil {
		return err
	}
	format, nlocs, err := grouping.CheckRequiredVars(rp.src)
	if err != nil {
		return err
	}
	for _, field := range rp.config.Obs.GroupingVars {
		switch field {
		case grouping.DateTimeField, grouping.LongitudeField, grouping.LatitudeField:
		default:
			if name := grouping.MetaData + core.PathSep + field; !rp.src.HasVar(name) {
				return cos.NewErrMissingRequiredField(name, "obs grouping")
			}
		}
	}
	buffers, err := grouping.ReadBuffers(rp.src, format)
	if err != nil {
		return err
	}
	var window *grouping.Window
	if tw := rp.config.Obs.TimeWindow; tw != nil {
		window = &grouping.Window{Start: tw.Begin, End: tw.End}
	}
	idx, counts := grouping.SelectSourceIndices(buffers, window)
	recNums, err := grouping.RecordNumbers(rp.src, rp.config.Obs.GroupingVars, buffers, idx)
	if err != nil {
		return err
	}
	rp.plan = indexPlan{
		srcNlocs: nlocs,
		counts:   counts,
		idx:      idx,
		recNums:  recNums,
		lon:      buffers.Lon,
		lat:      buffers.Lat,
	}
	nlog.Infof("%s: source %d locations, %d inside window, %d outside, %d rejected", rp.stats.PassID,
		counts.Src, counts.Inside, counts.Outside, counts.RejectQC)
	return nil
}

func (rp *ReaderPool) distribute() (err error) {
	conf := &rp.config.Obs.Distribution
	if rp.dist, err = dist.New(conf.Name, rp.c, conf.Halo); err != nil {
		return err
	}
	if len(rp.plan.idx) > 0 && (len(rp.plan.lon) != rp.plan.srcNlocs || len(rp.plan.lat) != rp.plan.srcNlocs) {
		return cos.NewErrSizeMismatch("longitude/latitude", rp.plan.srcNlocs, min(len(rp.plan.lon), len(rp.plan.lat)))
	}
	b := &grouping.Buffers{Lon: rp.plan.lon, Lat: rp.plan.lat}
	rp.local = grouping.ApplyDistribution(rp.dist, b, rp.plan.idx, rp.plan.recNums)
	if err := rp.dist.ComputePatchLocs(rp.plan.srcNlocs); err != nil {
		return err
	}
	rp.patch = rp.dist.PatchObs(rp.local.Nlocs)
	return nil
}

// distributionMap: every non-pool rank tells its pool rank which source
// rows it owns.
func (rp *ReaderPool) distributionMap() error {
	var (
		sizeTag = rp.config.Transport.ReaderBaseTag
		idxTag  = sizeTag + 1
	)
	if !rp.pool.InPool() {
		poolRank := rp.pool.Assignment()[0].Peer
		var size [8]byte
		binary.LittleEndian.PutUint64(size[:], uint64(rp.local.Nlocs))
		if err := rp.c.Send(size[:], poolRank, sizeTag); err != nil {
			return errors.Wrap(err, "distribution map: size")
		}
		return errors.Wrap(rp.c.Send(appendInts(nil, rp.local.LocIndices), poolRank, idxTag), "distribution map: indices")
	}
	rp.peers = make([]xfer.PeerRows, 0, len(rp.pool.Assignment()))
	for _, ent := range rp.pool.Assignment() {
		b, err := rp.c.Recv(ent.Peer, sizeTag)
		if err != nil {
			return errors.Wrapf(err, "distribution map: size from %d", ent.Peer)
		}
		if len(b) != 8 {
			return cos.NewErrSizeMismatch("distribution map: size message from rank "+strconv.Itoa(ent.Peer), 8, len(b))
		}
		n := int(binary.LittleEndian.Uint64(b))
		if n != ent.Count {
			return cos.NewErrSizeMismatch("distribution map: locations of rank "+strconv.Itoa(ent.Peer), ent.Count, n)
		}
		if b, err = rp.c.Recv(ent.Peer, idxTag); err != nil {
			return errors.Wrapf(err, "distribution map: indices from %d", ent.Peer)
		}
		rows, _, err := readInts(b)
		if err != nil {
			return errors.Wrapf(err, "distribution map: indices from %d", ent.Peer)
		}
		if len(rows) != n {
			return cos.NewErrSizeMismatch("distribution map: indices of rank "+strconv.Itoa(ent.Peer), n, len(rows))
		}
		rp.peers = append(rp.peers, xfer.PeerRows{Peer: ent.Peer, Rows: rows})
	}
	return nil
}

// createDest: rank 0 describes the source, everyone builds the destination.
func (rp *ReaderPool) createDest(dst core.Group) error {
	var b []byte
	if rp.c.Rank() == 0 {
		var (
			errMsg string
			body   []byte
		)
		s, err := Describe(rp.src)
		if err == nil {
			body, err = s.Marshal()
		}
		if err != nil {
			errMsg = err.Error()
		}
		b = msgp.AppendBytes(msgp.AppendString(nil, errMsg), body)
	}
	b, err := rp.c.Bcast(b, 0)
	if err != nil {
		return errors.Wrap(err, "broadcast group structure")
	}
	errMsg, b, err := msgp.ReadStringBytes(b)
	if err != nil {
		return errors.Wrap(err, "group structure")
	}
	if errMsg != "" {
		return errors.Errorf("rank 0: %s", errMsg)
	}
	body, _, err := msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return errors.Wrap(err, "group structure")
	}
	if rp.layout, err = UnmarshalStructure(body); err == nil {
		err = rp.checkLayout()
	}
	if err == nil {
		err = rp.layout.Build(dst, rp.local.Nlocs)
	}
	return agree(rp.c, err)
}

func (rp *ReaderPool) checkLayout() error {
	for i := range rp.layout.Vars {
		vm := &rp.layout.Vars[i]
		if _, err := dtype.ParseKind(vm.Kind); err != nil {
			return cos.NewErrUnsupportedType(vm.Name, vm.Kind)
		}
		if vm.Location && (len(vm.Dims) == 0 || vm.Dims[0] != rp.plan.srcNlocs) {
			return errors.Errorf("variable %q: first dimension must be %s (%d)", vm.Name, core.LocationName, rp.plan.srcNlocs)
		}
	}
	return nil
}

func (rp *ReaderPool) scratch() *memsys.Scratch {
	var srcSize, dstSize int
	for i := range rp.layout.Vars {
		vm := &rp.layout.Vars[i]
		kind, _ := dtype.ParseKind(vm.Kind)
		nelems := core.Dims{Cur: vm.Dims}.NumElements()
		if vm.Location {
			nelems = rp.local.Nlocs * vm.RowSize()
		}
		if !kind.IsString() {
			dstSize = max(dstSize, nelems*kind.Size())
			continue
		}
		width := estStringLen
		if vm.StringLen > 0 {
			width = vm.StringLen + 1
		}
		srcSize = max(srcSize, xfer.PackedSize(nelems, width))
	}
	return memsys.NewScratch(srcSize, dstSize)
}

func (rp *ReaderPool) readVar(engine *xfer.Engine, dst core.Group, vm *VarMeta, varNum int) error {
	kind, _ := dtype.ParseKind(vm.Kind)
	rowSize := vm.RowSize()
	dv, err := dst.OpenVar(vm.Name)
	if err != nil {
		return err
	}
	if !rp.pool.InPool() {
		nelems := core.Dims{Cur: vm.Dims}.NumElements()
		if vm.Location {
			nelems = rp.local.Nlocs * rowSize
		}
		vec, err := engine.ScatterRecv(vm.Name, varNum, kind, nelems, rp.pool.Assignment()[0].Peer)
		if err != nil {
			return err
		}
		return errors.Wrapf(dv.Write(vec, nil, nil), "write %q", vm.Name)
	}

	vec, err := rp.readSource(vm.Name, kind)
	if err != nil {
		return err
	}
	own, peers := vec, rp.peers
	if vm.Location {
		own = vec.Gather(rp.local.LocIndices, rowSize)
	} else {
		peers = make([]xfer.PeerRows, len(rp.peers))
		for i, pr := range rp.peers {
			peers[i] = xfer.PeerRows{Peer: pr.Peer}
		}
	}
	if err := dv.Write(own, nil, nil); err != nil {
		return errors.Wrapf(err, "write %q", vm.Name)
	}
	return engine.ScatterServe(vm.Name, varNum, vec, rowSize, peers)
}

// readSource reads a whole source variable and replaces its fill values
// with the missing value of its kind.
func (rp *ReaderPool) readSource(name string, kind dtype.Kind) (dtype.Vector, error) {
	sv, err := rp.src.OpenVar(name)
	if err != nil {
		return nil, err
	}
	if sv.Kind() != kind {
		return nil, errors.Errorf("source variable %q: kind %s, expected %s", name, sv.Kind(), kind)
	}
	vec := dtype.New(kind, 0)
	if err := sv.Read(vec, nil); err != nil {
		return nil, errors.Wrapf(err, "read %q", name)
	}
	fill := sv.Fill()
	if !fill.Set && kind.IsString() {
		if orig, ok := sv.Atts().Get(OrigFillAttr); ok && orig.Kind() == dtype.String {
			fill = dtype.FillFromVector(orig)
		}
	}
	if n := vec.Reconcile(fill); n > 0 && nlog.V(4) {
		nlog.Infof("%s: %q: %d fill value%s replaced", rp.stats.PassID, name, n, cos.Plural(n))
	}
	return vec, nil
}
