// Package iopool runs collective transfer passes between all ranks and the
// few ranks (the "I/O pool") that touch files: WriterPool.Save gathers a
// distributed group onto the pool, ReaderPool.Load scatters a source group
// from the pool to the ranks that own its records.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package iopool

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/NVIDIA/obsxfer/cmn"
	"github.com/NVIDIA/obsxfer/cmn/debug"
	"github.com/NVIDIA/obsxfer/cmn/nlog"
	"github.com/NVIDIA/obsxfer/transport"
	"github.com/NVIDIA/obsxfer/xfer"

	"github.com/pkg/errors"
)

const poolColor = 1

type (
	// Grouping maps each pool rank to the non-pool ranks it serves.
	Grouping map[int][]int

	// Pool is one rank's view of the pool layout. Built collectively.
	Pool struct {
		all  transport.Comm
		pool transport.Comm // nil on non-pool ranks

		assignment xfer.Assignment

		targetSize  int
		own         int // this rank's location count
		total       int // own plus everything assigned to this rank (pool ranks)
		globalNlocs int // sum of totals over the pool
		nlocsStart  int // offset of this pool rank's block in a single shared file

		isParallel    bool
		multipleFiles bool
	}
)

// GroupRanks splits size ranks into poolSize contiguous groups of nearly
// equal size; the first rank of every group joins the pool. The first
// size % poolSize groups get one extra rank.
func GroupRanks(size, poolSize int) Grouping {
	debug.Assert(poolSize >= 1 && poolSize <= size, poolSize, " vs ", size)
	var (
		g     = make(Grouping, poolSize)
		base  = size / poolSize
		rem   = size % poolSize
		start int
	)
	for i := range poolSize {
		count := base
		if i < rem {
			count++
		}
		others := make([]int, count-1)
		for j := range others {
			others[j] = start + 1 + j
		}
		g[start] = others
		start += count
	}
	return g
}

// PoolRanks returns the pool ranks in increasing order.
func (g Grouping) PoolRanks() []int {
	ranks := make([]int, 0, len(g))
	for r := range g {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	return ranks
}

// Assign builds the assignment of rank from the grouping and the location
// counts of all ranks. A pool rank receives one entry per associated
// non-pool rank; a non-pool rank gets one entry naming its pool rank.
func (g Grouping) Assign(rank int, nlocs []int) xfer.Assignment {
	if others, ok := g[rank]; ok {
		a := make(xfer.Assignment, 0, len(others))
		for _, r := range others {
			a = append(a, xfer.Entry{Peer: r, Count: nlocs[r]})
		}
		return a
	}
	for poolRank, others := range g {
		for _, r := range others {
			if r == rank {
				return xfer.Assignment{{Peer: poolRank, Count: nlocs[rank]}}
			}
		}
	}
	debug.Assertf(false, "rank %d is in no group", rank)
	return nil
}

// NewPool is collective over all: every rank must call it, with its own
// location count. forceMultiple requests one file per pool rank regardless
// of the configuration (backends that cannot share a file).
func NewPool(all transport.Comm, conf *cmn.IoPoolConf, nlocs int, forceMultiple bool) (*Pool, error) {
	p := &Pool{all: all, own: nlocs}
	p.targetSize = min(conf.MaxPoolSize, all.Size())
	grouping := GroupRanks(all.Size(), p.targetSize)

	counts, err := all.AllGatherInt(nlocs)
	if err != nil {
		return nil, errors.Wrap(err, "io pool: collect location counts")
	}
	p.assignment = grouping.Assign(all.Rank(), counts)

	color := transport.Undefined
	if _, ok := grouping[all.Rank()]; ok {
		color = poolColor
	}
	if p.pool, err = all.Split(color, all.Rank()); err != nil {
		return nil, errors.Wrap(err, "io pool: split")
	}

	p.total = nlocs
	if p.pool != nil {
		p.total += p.assignment.Total()
		if err := p.collectSingleFileInfo(); err != nil {
			return nil, err
		}
		multiple := conf.WriteMultipleFiles || forceMultiple
		p.isParallel = !multiple && p.pool.Size() > 1
		p.multipleFiles = multiple && p.pool.Size() > 1
	}
	if nlog.V(4) {
		nlog.Infoln(p.String())
	}
	return p, nil
}

// global Location size and this pool rank's offset into it
func (p *Pool) collectSingleFileInfo() error {
	totals, err := p.pool.AllGatherInt(p.total)
	if err != nil {
		return errors.Wrap(err, "io pool: collect totals")
	}
	for i, t := range totals {
		if i < p.pool.Rank() {
			p.nlocsStart += t
		}
		p.globalNlocs += t
	}
	return nil
}

func (p *Pool) All() transport.Comm         { return p.all }
func (p *Pool) PoolComm() transport.Comm    { return p.pool }
func (p *Pool) InPool() bool                { return p.pool != nil }
func (p *Pool) Assignment() xfer.Assignment { return p.assignment }
func (p *Pool) TargetSize() int             { return p.targetSize }
func (p *Pool) Own() int                    { return p.own }
func (p *Pool) Total() int                  { return p.total }
func (p *Pool) GlobalNlocs() int            { return p.globalNlocs }
func (p *Pool) NlocsStart() int             { return p.nlocsStart }
func (p *Pool) IsParallel() bool            { return p.isParallel }
func (p *Pool) CreateMultipleFiles() bool   { return p.multipleFiles }

// PoolRank is the rank within the pool, -1 on non-pool ranks.
func (p *Pool) PoolRank() int {
	if p.pool == nil {
		return -1
	}
	return p.pool.Rank()
}

// Plan is this rank's role in a Location-indexed exchange.
func (p *Pool) Plan() *xfer.Plan {
	return &xfer.Plan{Assignment: p.assignment, Own: p.own, Total: p.total, IsPool: p.InPool()}
}

// PoolNlocs is the Location size of the destination: the global size when
// all pool ranks share one file, this rank's total otherwise.
func (p *Pool) PoolNlocs() int {
	if p.isParallel {
		return p.globalNlocs
	}
	return p.total
}

func (p *Pool) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "io pool[r%d/%d, target %d", p.all.Rank(), p.all.Size(), p.targetSize)
	if p.InPool() {
		fmt.Fprintf(&sb, ", pool r%d/%d, total %d, global %d @%d", p.pool.Rank(), p.pool.Size(),
			p.total, p.globalNlocs, p.nlocsStart)
	}
	fmt.Fprintf(&sb, ", assignment %s]", p.assignment)
	return sb.String()
}

// FileName uniquifies base for the given pool rank when each pool rank
// writes its own file: "out.obs" => "out_0002.obs".
func FileName(base string, poolRank int, multiple bool) string {
	if !multiple {
		return base
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s_%04d%s", strings.TrimSuffix(base, ext), poolRank, ext)
}
