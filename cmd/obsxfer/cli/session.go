// Package cli implements the obsxfer commands.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"context"
	"sync"

	"github.com/NVIDIA/obsxfer/cmn"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/core/mem"
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/iopool"
	"github.com/NVIDIA/obsxfer/obsfile"
	"github.com/NVIDIA/obsxfer/stats"
	"github.com/NVIDIA/obsxfer/tools/obsgen"
	"github.com/NVIDIA/obsxfer/transport"

	"github.com/pkg/errors"
)

type (
	// session is one write pass followed by one read pass per output file,
	// shared by all ranks of a world
	session struct {
		config *cmn.Config
		gen    obsgen.Opts
		// in-process worlds without --out: the pool's destination groups,
		// by pool rank
		dests map[int]core.Group
		// in-process world, one shared destination
		shared   *mem.Group
		out      string
		mu       sync.Mutex
		forceMul bool
	}

	// per-rank outcome
	result struct {
		Write      iopool.Stats   `json:"write"`
		Reads      []iopool.Stats `json:"reads"`
		Loaded     int            `json:"loaded"`
		Mismatches int            `json:"mismatches"`
		Rank       int            `json:"rank"`
	}
)

func newSession(config *cmn.Config, gen obsgen.Opts, forceMultiple bool) *session {
	s := &session{config: config, gen: gen, out: config.IoPool.PoolFile, forceMul: forceMultiple}
	if s.out == "" {
		s.dests = make(map[int]core.Group)
		s.shared = mem.NewRoot(mem.Shared())
	}
	return s
}

func (s *session) run(ctx context.Context, c transport.Comm, tracker stats.Tracker) (*result, error) {
	res := &result{Rank: c.Rank()}
	wp, err := s.write(ctx, c, tracker)
	if err != nil {
		return nil, err
	}
	res.Write = *wp.Stats()

	// same number of files everywhere (non-pool ranks do not know)
	var nfiles int64 = 1
	if wp.MultipleFiles() {
		nfiles = int64(wp.Pool().TargetSize())
	}
	if nfiles, err = c.AllReduceMax(nfiles); err != nil {
		return nil, err
	}
	for k := range int(nfiles) {
		rp := iopool.NewReaderPool(c, &iopool.ReaderOpts{Config: s.config, Tracker: tracker})
		dst := mem.NewRoot()
		if err := rp.Load(ctx, dst, s.source(k, nfiles > 1)); err != nil {
			return nil, errors.Wrapf(err, "read pass #%d", k)
		}
		res.Reads = append(res.Reads, *rp.Stats())
		n, bad, err := verify(dst, s.gen.FillEvery)
		if err != nil {
			return nil, err
		}
		res.Loaded += n
		res.Mismatches += bad
	}
	return res, nil
}

func (s *session) write(ctx context.Context, c transport.Comm, tracker stats.Tracker) (*iopool.WriterPool, error) {
	gen := s.gen
	gen.Offset = c.Rank() * gen.Nlocs
	src := mem.NewRoot()
	if err := obsgen.Gen(src, gen); err != nil {
		return nil, err
	}
	wp := iopool.NewWriterPool(c, &iopool.WriterOpts{Config: s.config, Tracker: tracker, ForceMultiple: s.forceMul})
	err := wp.Save(ctx, src, func(p *iopool.Pool) (core.Group, error) {
		if p.IsParallel() && s.shared != nil {
			return s.shared, nil
		}
		return mem.NewRoot(), nil
	})
	if err != nil {
		return nil, err
	}
	// all pool ranks are done writing
	if err := c.Barrier(); err != nil {
		return nil, err
	}
	if err := agreePersist(c, s.persist(wp)); err != nil {
		return nil, err
	}
	return wp, nil
}

// persist stores this pool rank's destination: in a file with --out, in
// the session otherwise. With one shared destination pool rank 0 does it.
func (s *session) persist(wp *iopool.WriterPool) error {
	p := wp.Pool()
	if !p.InPool() || (p.IsParallel() && p.PoolRank() != 0) {
		return nil
	}
	if s.out == "" {
		s.mu.Lock()
		s.dests[p.PoolRank()] = wp.Dest()
		s.mu.Unlock()
		return nil
	}
	return obsfile.Save(iopool.FileName(s.out, p.PoolRank(), p.CreateMultipleFiles()), wp.Dest(), obsfile.DefaultOpts())
}

func agreePersist(c transport.Comm, err error) error {
	var flag int64
	if err != nil {
		flag = 1
	}
	failed, cerr := c.AllReduceMax(flag)
	switch {
	case cerr != nil:
		return cerr
	case err != nil:
		return err
	case failed != 0:
		return iopool.ErrPeerFailed
	}
	return nil
}

func (s *session) source(k int, multiple bool) iopool.SourceFunc {
	return func() (core.Group, error) {
		if s.out != "" {
			return obsfile.Load(iopool.FileName(s.out, k, multiple))
		}
		s.mu.Lock()
		g, ok := s.dests[k]
		s.mu.Unlock()
		if !ok {
			return nil, errors.Errorf("no output of pool rank %d", k)
		}
		return g, nil
	}
}

// verify checks the loaded air temperatures against the generator; the
// fill value must have become the missing sentinel.
func verify(g core.Group, fillEvery int) (n, mismatches int, err error) {
	locs, err := readAll(g, core.LocationName, dtype.Int32)
	if err != nil {
		return 0, 0, err
	}
	temps, err := readAll(g, obsgen.AirTempVar, dtype.Float32)
	if err != nil {
		return 0, 0, err
	}
	gis, vals := dtype.Values[int32](locs), dtype.Values[float32](temps)
	if len(gis) != len(vals) {
		return 0, 0, errors.Errorf("%d locations, %d air temperatures", len(gis), len(vals))
	}
	for i, gi := range gis {
		want := obsgen.AirTemp(int(gi), fillEvery)
		if want == obsgen.AirTempFill {
			want = dtype.Missing[float32]()
		}
		if vals[i] != want {
			mismatches++
		}
	}
	return len(gis), mismatches, nil
}

func readAll(g core.Group, name string, kind dtype.Kind) (dtype.Vector, error) {
	v, err := g.OpenVar(name)
	if err != nil {
		return nil, err
	}
	vec := dtype.New(kind, 0)
	return vec, v.Read(vec, nil)
}
