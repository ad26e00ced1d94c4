// Package iopool_test tests collective write and read passes
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package iopool_test

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/NVIDIA/obsxfer/cmn"
	"github.com/NVIDIA/obsxfer/iopool"
	"github.com/NVIDIA/obsxfer/transport"
	"github.com/NVIDIA/obsxfer/xfer"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Pool", func() {
	It("should group ranks contiguously, extra ranks first", func() {
		g := iopool.GroupRanks(10, 3)
		Expect(g.PoolRanks()).To(Equal([]int{0, 4, 7}))
		Expect(g[0]).To(Equal([]int{1, 2, 3}))
		Expect(g[4]).To(Equal([]int{5, 6}))
		Expect(g[7]).To(Equal([]int{8, 9}))

		nlocs := []int{0, 10, 11, 12, 13, 14, 15, 16, 17, 18}
		Expect(g.Assign(4, nlocs)).To(Equal(xfer.Assignment{{Peer: 5, Count: 14}, {Peer: 6, Count: 15}}))
		Expect(g.Assign(9, nlocs)).To(Equal(xfer.Assignment{{Peer: 7, Count: 18}}))
	})

	It("should partition every pool rank's buffer for random layouts", func() {
		rnd := rand.New(rand.NewPCG(42, 7))
		for range 200 {
			var (
				size     = 1 + rnd.IntN(40)
				poolSize = 1 + rnd.IntN(size)
				dim      = 1 + rnd.IntN(4)
				nlocs    = make([]int, size)
				served   = make(map[int]int, size)
				g        = iopool.GroupRanks(size, poolSize)
			)
			for i := range nlocs {
				nlocs[i] = rnd.IntN(20)
			}
			Expect(g.PoolRanks()).To(HaveLen(poolSize))
			for _, poolRank := range g.PoolRanks() {
				a := g.Assign(poolRank, nlocs)
				own := nlocs[poolRank]
				total := own + a.Total()
				Expect(xfer.CheckPartition(own, a, dim, total)).To(Succeed())

				starts, counts := xfer.Offsets(own, a, dim, true)
				next := own * dim
				for i, e := range a {
					Expect(starts[i]).To(Equal(next))
					Expect(counts[i]).To(Equal(nlocs[e.Peer] * dim))
					next += counts[i]
					served[e.Peer] = poolRank
				}
				Expect(next).To(Equal(total * dim))
			}
			// every non-pool rank is served by exactly the pool rank it sends to
			Expect(len(served) + poolSize).To(Equal(size))
			for rank, poolRank := range served {
				Expect(g.Assign(rank, nlocs)).To(Equal(xfer.Assignment{{Peer: poolRank, Count: nlocs[rank]}}))
			}
		}
	})

	It("should make every rank a pool rank when the pool is as large as the world", func() {
		g := iopool.GroupRanks(3, 3)
		Expect(g.PoolRanks()).To(Equal([]int{0, 1, 2}))
		for _, others := range g {
			Expect(others).To(BeEmpty())
		}
	})

	It("should uniquify file names per pool rank", func() {
		Expect(iopool.FileName("out.obs", 2, true)).To(Equal("out_0002.obs"))
		Expect(iopool.FileName("dir/out.obs", 2, false)).To(Equal("dir/out.obs"))
		Expect(iopool.FileName("out", 11, true)).To(Equal("out_0011"))
	})

	It("should build the pool collectively", func() {
		var (
			mu    sync.Mutex
			pools = make([]*iopool.Pool, 5)
		)
		conf := &cmn.IoPoolConf{MaxPoolSize: 2}
		err := transport.Run(context.Background(), 5, func(_ context.Context, c transport.Comm) error {
			p, err := iopool.NewPool(c, conf, c.Rank()+1, false)
			mu.Lock()
			pools[c.Rank()] = p
			mu.Unlock()
			return err
		})
		Expect(err).NotTo(HaveOccurred())

		// groups {0,1,2} and {3,4}
		p0, p3 := pools[0], pools[3]
		Expect(p0.InPool()).To(BeTrue())
		Expect(p0.TargetSize()).To(Equal(2))
		Expect(p0.Total()).To(Equal(1 + 2 + 3))
		Expect(p3.PoolRank()).To(Equal(1))
		Expect(p3.Total()).To(Equal(4 + 5))
		Expect(p3.NlocsStart()).To(Equal(6))
		Expect(p3.GlobalNlocs()).To(Equal(15))
		Expect(p3.IsParallel()).To(BeTrue())
		Expect(p3.CreateMultipleFiles()).To(BeFalse())
		Expect(p3.PoolNlocs()).To(Equal(15))
		Expect(p3.PoolComm().Size()).To(Equal(2))

		p4 := pools[4]
		Expect(p4.InPool()).To(BeFalse())
		Expect(p4.PoolRank()).To(Equal(-1))
		Expect(p4.PoolComm()).To(BeNil())
		Expect(p4.TargetSize()).To(Equal(2))
		Expect(p4.Assignment()).To(Equal(xfer.Assignment{{Peer: 3, Count: 5}}))
	})

	It("should write one file per pool rank when forced", func() {
		conf := &cmn.IoPoolConf{MaxPoolSize: 2}
		err := transport.Run(context.Background(), 4, func(_ context.Context, c transport.Comm) error {
			p, err := iopool.NewPool(c, conf, 1, true)
			if err != nil {
				return err
			}
			if p.InPool() && (p.IsParallel() || !p.CreateMultipleFiles() || p.PoolNlocs() != 2) {
				return transport.ErrAborted
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})
})
