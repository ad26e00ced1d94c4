// Package iopool_test tests collective write and read passes
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package iopool_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/NVIDIA/obsxfer/cmn"
	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/core/mem"
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/grouping"
	"github.com/NVIDIA/obsxfer/iopool"
	"github.com/NVIDIA/obsxfer/tools/obsgen"
	"github.com/NVIDIA/obsxfer/transport"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	nlocs     = 6
	channels  = 2
	fillEvery = 4
)

func readVec(g core.Group, name string, kind dtype.Kind) dtype.Vector {
	v, err := g.OpenVar(name)
	Expect(err).NotTo(HaveOccurred(), name)
	vec := dtype.New(kind, 0)
	Expect(v.Read(vec, nil)).To(Succeed(), name)
	return vec
}

func locations(g core.Group) []int32 {
	return dtype.Values[int32](readVec(g, core.LocationName, dtype.Int32))
}

func seq(lo, hi int) []int32 {
	out := make([]int32, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, int32(i))
	}
	return out
}

// checkWritten verifies the gathered values of global indices [lo, hi) in g.
func checkWritten(g core.Group, lo, hi int) {
	Expect(locations(g)).To(Equal(seq(lo, hi)))
	temps := dtype.Values[float32](readVec(g, obsgen.AirTempVar, dtype.Float32))
	bright := dtype.Values[float32](readVec(g, obsgen.BrightnessVar, dtype.Float32))
	stations := dtype.Values[string](readVec(g, obsgen.StationVar, dtype.String))
	for i, gi := 0, lo; gi < hi; i, gi = i+1, gi+1 {
		Expect(temps[i]).To(Equal(obsgen.AirTemp(gi, fillEvery)), "air temperature %d", gi)
		Expect(stations[i]).To(Equal(obsgen.Station(gi, 4)))
		for ch := range channels {
			Expect(bright[i*channels+ch]).To(Equal(obsgen.Bright(gi, ch)))
		}
	}
	Expect(dtype.Values[int32](readVec(g, obsgen.ChannelName, dtype.Int32))).To(Equal([]int32{1, 2}))

	v, err := g.OpenVar(obsgen.AirTempVar)
	Expect(err).NotTo(HaveOccurred())
	Expect(v.Fill().Set).To(BeTrue())
	Expect(v.Scales()).To(Equal([]string{core.LocationName}))
	platform, ok := g.Atts().Get(obsgen.PlatformAttr)
	Expect(ok).To(BeTrue())
	Expect(platform.Format(0)).To(Equal("synthetic"))
}

type saveResult struct {
	dests map[int]core.Group // by pool rank
	stats []iopool.Stats
}

// save runs a write pass of size ranks; rank r holds global indices
// [r*nlocs, (r+1)*nlocs).
func save(size int, config *cmn.Config, shared *mem.Group, force bool) (*saveResult, error) {
	var (
		mu  sync.Mutex
		res = &saveResult{dests: make(map[int]core.Group), stats: make([]iopool.Stats, size)}
	)
	err := transport.Run(context.Background(), size, func(ctx context.Context, c transport.Comm) error {
		src := mem.NewRoot()
		gen := obsgen.Opts{Nlocs: nlocs, Offset: c.Rank() * nlocs, Channels: channels, FillEvery: fillEvery}
		if err := obsgen.Gen(src, gen); err != nil {
			return err
		}
		wp := iopool.NewWriterPool(c, &iopool.WriterOpts{Config: config, ForceMultiple: force})
		err := wp.Save(ctx, src, func(p *iopool.Pool) (core.Group, error) {
			if p.IsParallel() {
				return shared, nil
			}
			return mem.NewRoot(), nil
		})
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		res.stats[c.Rank()] = *wp.Stats()
		if wp.Pool().InPool() {
			res.dests[wp.Pool().PoolRank()] = wp.Dest()
		}
		return nil
	})
	return res, err
}

func poolConfig(maxPoolSize int, multiple bool) *cmn.Config {
	config := cmn.DefaultConfig()
	config.IoPool.MaxPoolSize = maxPoolSize
	config.IoPool.WriteMultipleFiles = multiple
	return config
}

var _ = Describe("WriterPool", func() {
	It("should gather everything onto a single pool rank", func() {
		res, err := save(3, poolConfig(1, false), nil, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.dests).To(HaveLen(1))
		checkWritten(res.dests[0], 0, 3*nlocs)

		Expect(res.stats[0].PoolRank).To(Equal(0))
		Expect(res.stats[0].Total).To(Equal(3 * nlocs))
		Expect(res.stats[1].PoolRank).To(Equal(-1))
		Expect(res.stats[0].PassID).To(Equal(res.stats[2].PassID))
		Expect(res.stats[0].Vars).To(Equal(res.stats[1].Vars))
	})

	It("should write one shared destination from several pool ranks", func() {
		shared := mem.NewRoot(mem.Shared())
		res, err := save(5, poolConfig(2, false), shared, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.dests).To(HaveLen(2))
		Expect(res.dests[0]).To(BeIdenticalTo(core.Group(shared)))
		checkWritten(shared, 0, 5*nlocs)
		Expect(res.stats[3].Global).To(Equal(5 * nlocs))
	})

	It("should write one destination per pool rank", func() {
		res, err := save(5, poolConfig(2, true), nil, false)
		Expect(err).NotTo(HaveOccurred())
		checkWritten(res.dests[0], 0, 3*nlocs)
		checkWritten(res.dests[1], 3*nlocs, 5*nlocs)
	})

	It("should reject strings longer than the transport bound", func() {
		config := poolConfig(1, false)
		config.Transport.MaxStringLength = 4 // "ST000" needs 6
		_, err := save(2, config, nil, false)
		Expect(cos.IsErrSizeMismatch(err)).To(BeTrue())
	})

	It("should fail everywhere when a pool rank cannot open its destination", func() {
		boom := errors.New("no space left")
		err := transport.Run(context.Background(), 4, func(ctx context.Context, c transport.Comm) error {
			src := mem.NewRoot()
			if err := obsgen.Gen(src, obsgen.Opts{Nlocs: 2, Offset: 2 * c.Rank()}); err != nil {
				return err
			}
			wp := iopool.NewWriterPool(c, &iopool.WriterOpts{Config: poolConfig(2, true)})
			err := wp.Save(ctx, src, func(p *iopool.Pool) (core.Group, error) {
				if p.PoolRank() == 1 {
					return nil, boom
				}
				return mem.NewRoot(), nil
			})
			if err == nil {
				return errors.New("expected failure")
			}
			if !errors.Is(err, boom) && !errors.Is(err, iopool.ErrPeerFailed) {
				return err
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should abort the peers of a rank that stops mid-pass", func() {
		const size = 4
		errs := make([]error, size)
		err := transport.Run(context.Background(), size, func(ctx context.Context, c transport.Comm) error {
			src := mem.NewRoot()
			if err := obsgen.Gen(src, obsgen.Opts{Nlocs: nlocs, Offset: nlocs * c.Rank(), Channels: channels}); err != nil {
				return err
			}
			if c.Rank() == 2 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				cancel()
			}
			wp := iopool.NewWriterPool(c, &iopool.WriterOpts{Config: poolConfig(2, true)})
			errs[c.Rank()] = wp.Save(ctx, src, func(*iopool.Pool) (core.Group, error) { return mem.NewRoot(), nil })
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		for rank, err := range errs {
			Expect(err).To(HaveOccurred(), "rank %d committed", rank)
			if rank == 2 {
				Expect(errors.Is(err, context.Canceled)).To(BeTrue(), "%v", err)
				continue
			}
			Expect(errors.Is(err, transport.ErrAborted)).To(BeTrue(), "rank %d: %v", rank, err)
			Expect(err).To(MatchError(ContainSubstring("rank 2 failed")))
		}
	})

	It("should write only patch-owned locations", func() {
		// rank 0 sees [0, 4), rank 1 sees [3, 7): location 3 belongs to rank 1
		var dest core.Group
		err := transport.Run(context.Background(), 2, func(ctx context.Context, c transport.Comm) error {
			src := mem.NewRoot()
			gen := obsgen.Opts{Nlocs: 4, Offset: 3 * c.Rank(), FillEvery: fillEvery}
			if err := obsgen.Gen(src, gen); err != nil {
				return err
			}
			opts := &iopool.WriterOpts{Config: poolConfig(1, false), GlobalIdx: make([]int, 4)}
			for i := range opts.GlobalIdx {
				opts.GlobalIdx[i] = gen.Offset + i
			}
			if c.Rank() == 0 {
				opts.PatchObs = []bool{true, true, true, false}
			}
			wp := iopool.NewWriterPool(c, opts)
			if err := wp.Save(ctx, src, func(*iopool.Pool) (core.Group, error) { return mem.NewRoot(), nil }); err != nil {
				return err
			}
			if c.Rank() == 0 {
				dest = wp.Dest()
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(locations(dest)).To(Equal(seq(0, 7)))
		temps := dtype.Values[float32](readVec(dest, obsgen.AirTempVar, dtype.Float32))
		Expect(temps[3]).To(Equal(obsgen.AirTemp(3, fillEvery)))
	})

	It("should detect locations owned twice", func() {
		err := transport.Run(context.Background(), 2, func(ctx context.Context, c transport.Comm) error {
			src := mem.NewRoot()
			gen := obsgen.Opts{Nlocs: 4, Offset: 3 * c.Rank()}
			if err := obsgen.Gen(src, gen); err != nil {
				return err
			}
			opts := &iopool.WriterOpts{Config: poolConfig(1, false), GlobalIdx: make([]int, 4)}
			for i := range opts.GlobalIdx {
				opts.GlobalIdx[i] = gen.Offset + i
			}
			wp := iopool.NewWriterPool(c, opts)
			return wp.Save(ctx, src, func(*iopool.Pool) (core.Group, error) { return mem.NewRoot(), nil })
		})
		Expect(cos.IsErrPatchPartition(err)).To(BeTrue())
	})
})

// load runs a read pass of size ranks over one source and returns every
// rank's destination.
func load(size int, config *cmn.Config, src core.Group) ([]core.Group, []*iopool.ReaderPool, error) {
	var (
		dests = make([]core.Group, size)
		rps   = make([]*iopool.ReaderPool, size)
	)
	err := transport.Run(context.Background(), size, func(ctx context.Context, c transport.Comm) error {
		rp := iopool.NewReaderPool(c, &iopool.ReaderOpts{Config: config})
		dst := mem.NewRoot()
		if err := rp.Load(ctx, dst, func() (core.Group, error) { return src, nil }); err != nil {
			return err
		}
		dests[c.Rank()], rps[c.Rank()] = dst, rp
		return nil
	})
	return dests, rps, err
}

var _ = Describe("ReaderPool", func() {
	const srcNlocs = 20

	var src *mem.Group

	BeforeEach(func() {
		src = mem.NewRoot()
		Expect(obsgen.Gen(src, obsgen.Opts{Nlocs: srcNlocs, Channels: channels, FillEvery: fillEvery})).To(Succeed())
	})

	It("should distribute locations round-robin and reconcile fill values", func() {
		dests, rps, err := load(3, poolConfig(2, false), src)
		Expect(err).NotTo(HaveOccurred())
		var total int
		for rank, g := range dests {
			locs := locations(g)
			total += len(locs)
			Expect(rps[rank].Local().Nlocs).To(Equal(len(locs)))
			temps := dtype.Values[float32](readVec(g, obsgen.AirTempVar, dtype.Float32))
			bright := dtype.Values[float32](readVec(g, obsgen.BrightnessVar, dtype.Float32))
			for i, gi := range locs {
				Expect(int(gi) % 3).To(Equal(rank))
				want := obsgen.AirTemp(int(gi), fillEvery)
				if want == obsgen.AirTempFill {
					want = dtype.Missing[float32]()
				}
				Expect(temps[i]).To(Equal(want))
				Expect(bright[i*channels+1]).To(Equal(obsgen.Bright(int(gi), 1)))
			}
			// not Location-indexed: every rank gets all of it
			Expect(dtype.Values[int32](readVec(g, obsgen.ChannelName, dtype.Int32))).To(Equal([]int32{1, 2}))
			Expect(rps[rank].PatchObs()).To(HaveLen(len(locs)))
		}
		Expect(total).To(Equal(srcNlocs))
		Expect(rps[0].SrcNlocs()).To(Equal(srcNlocs))
	})

	It("should keep the locations of a record together", func() {
		config := poolConfig(2, false)
		config.Obs.GroupingVars = []string{obsgen.StationField}
		dests, _, err := load(3, config, src)
		Expect(err).NotTo(HaveOccurred())
		owner := make(map[string]int)
		for rank, g := range dests {
			for _, st := range dtype.Values[string](readVec(g, obsgen.StationVar, dtype.String)) {
				if prev, ok := owner[st]; ok {
					Expect(prev).To(Equal(rank), "station %s", st)
				}
				owner[st] = rank
			}
		}
		Expect(owner).To(HaveLen(4))
	})

	It("should apply the time window", func() {
		gen := obsgen.Opts{}
		config := poolConfig(1, false)
		config.Obs.TimeWindow = &cmn.TimeWindowConf{Begin: gen.Time(4), End: gen.Time(9)}
		dests, rps, err := load(2, config, src)
		Expect(err).NotTo(HaveOccurred())
		Expect(append(locations(dests[0]), locations(dests[1])...)).To(ConsistOf(seq(5, 10)))
		Expect(rps[1].Counts().Outside).To(Equal(srcNlocs - 5))
	})

	It("should fail on a missing grouping variable", func() {
		config := poolConfig(1, false)
		config.Obs.GroupingVars = []string{"nonexistent"}
		_, _, err := load(2, config, src)
		Expect(err).To(MatchError(ContainSubstring(grouping.MetaData + "/nonexistent")))
	})

	It("should abort the peers of a rank that stops mid-pass", func() {
		const size = 3
		errs := make([]error, size)
		err := transport.Run(context.Background(), size, func(ctx context.Context, c transport.Comm) error {
			if c.Rank() == 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				cancel()
			}
			rp := iopool.NewReaderPool(c, &iopool.ReaderOpts{Config: poolConfig(2, false)})
			errs[c.Rank()] = rp.Load(ctx, mem.NewRoot(), func() (core.Group, error) { return src, nil })
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(errors.Is(errs[0], context.Canceled)).To(BeTrue(), "%v", errs[0])
		for _, err := range errs[1:] {
			Expect(errors.Is(err, transport.ErrAborted)).To(BeTrue(), "%v", err)
		}
	})

	It("should read back what the writer wrote", func() {
		res, err := save(4, poolConfig(2, true), nil, false)
		Expect(err).NotTo(HaveOccurred())
		var loaded int
		for _, k := range []int{0, 1} {
			dests, _, err := load(4, poolConfig(2, false), res.dests[k])
			Expect(err).NotTo(HaveOccurred())
			for _, g := range dests {
				loaded += len(locations(g))
			}
		}
		Expect(loaded).To(Equal(4 * nlocs))
	})
})

const typedVar = "ObsValue/typed"

func typedValues(kind dtype.Kind, gis []int32) (dtype.Vector, error) {
	strs := make([]string, len(gis))
	for i, gi := range gis {
		switch {
		case kind == dtype.String:
			strs[i] = fmt.Sprintf("v%03d", gi)
		case kind == dtype.Char:
			strs[i] = string(rune('a' + gi%26))
		case kind.IsFloat():
			strs[i] = strconv.FormatFloat(float64(gi)+0.5, 'g', -1, 64)
		default:
			strs[i] = strconv.Itoa(int(gi) + 1)
		}
	}
	return dtype.Parse(kind, strs)
}

// addTyped adds a Location-indexed variable of the given kind holding
// global indices [offset, offset+n).
func addTyped(g core.Group, kind dtype.Kind, offset, n int) error {
	v, err := g.CreateVar(typedVar, kind, core.Dims{Cur: []int{n}, Max: []int{core.Unlimited}}, core.CreateParams{})
	if err != nil {
		return err
	}
	vals, err := typedValues(kind, seq(offset, offset+n))
	if err != nil {
		return err
	}
	if err := v.Write(vals, nil, nil); err != nil {
		return err
	}
	return g.AttachDimensionScales([]core.ScaleAttachment{{Var: typedVar, Scales: []string{core.LocationName}}})
}

func kindEntries(size int) (entries []TableEntry) {
	for _, k := range dtype.Kinds() {
		entries = append(entries,
			Entry(fmt.Sprintf("%s, pool of 1", k), k, size, 1),
			Entry(fmt.Sprintf("%s, pool of %d", k, size), k, size, size),
		)
	}
	return
}

var _ = Describe("Round trip", func() {
	DescribeTable("should write and read back every kind",
		func(kind dtype.Kind, size, poolSize int) {
			var (
				mu     sync.Mutex
				dests  = make(map[int]core.Group)
				shared = mem.NewRoot(mem.Shared())
				config = poolConfig(poolSize, false)
			)
			err := transport.Run(context.Background(), size, func(ctx context.Context, c transport.Comm) error {
				src := mem.NewRoot()
				offset := c.Rank() * nlocs
				if err := obsgen.Gen(src, obsgen.Opts{Nlocs: nlocs, Offset: offset}); err != nil {
					return err
				}
				if err := addTyped(src, kind, offset, nlocs); err != nil {
					return err
				}
				wp := iopool.NewWriterPool(c, &iopool.WriterOpts{Config: config})
				err := wp.Save(ctx, src, func(p *iopool.Pool) (core.Group, error) {
					if p.IsParallel() {
						return shared, nil
					}
					return mem.NewRoot(), nil
				})
				if err != nil {
					return err
				}
				if p := wp.Pool(); p.InPool() {
					mu.Lock()
					dests[p.PoolRank()] = wp.Dest()
					mu.Unlock()
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(dests).To(HaveLen(poolSize))

			written := dests[0]
			want, err := typedValues(kind, seq(0, size*nlocs))
			Expect(err).NotTo(HaveOccurred())
			Expect(readVec(written, typedVar, kind).Equal(want)).To(BeTrue())

			loaded, _, err := load(size, config, written)
			Expect(err).NotTo(HaveOccurred())
			var total int
			for _, g := range loaded {
				locs := locations(g)
				total += len(locs)
				want, err := typedValues(kind, locs)
				Expect(err).NotTo(HaveOccurred())
				got := readVec(g, typedVar, kind)
				Expect(got.Equal(want)).To(BeTrue(), "%s: %v vs %v", kind, got.Any(), want.Any())
			}
			Expect(total).To(Equal(size * nlocs))
		},
		kindEntries(3),
	)
})
