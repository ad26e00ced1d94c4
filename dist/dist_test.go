// Package dist_test tests record distributions
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package dist_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/NVIDIA/obsxfer/dist"
	"github.com/NVIDIA/obsxfer/transport"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Distribution", func() {
	ctx := context.Background()

	It("should give every record to exactly one rank", func() {
		const size, nrecs = 3, 100
		for _, name := range []string{dist.RoundRobinName, dist.HashName} {
			counts := make([]int, nrecs)
			for rank := range size {
				var d dist.Distribution
				if name == dist.HashName {
					d = dist.NewHash(rank, size)
				} else {
					d = dist.NewRoundRobin(rank, size)
				}
				Expect(d.Name()).To(Equal(name))
				Expect(d.IsNonoverlapping()).To(BeTrue())
				for rec := range nrecs {
					if d.IsMyRecord(rec) {
						counts[rec]++
					}
				}
			}
			for rec, n := range counts {
				Expect(n).To(Equal(1), "%s: record %d", name, rec)
			}
		}
	})

	It("should place round-robin records by modulo", func() {
		d := dist.NewRoundRobin(1, 4)
		Expect(d.IsMyRecord(5)).To(BeTrue())
		Expect(d.IsMyRecord(6)).To(BeFalse())
		Expect(d.ComputePatchLocs(10)).To(Succeed())
		Expect(d.PatchObs(3)).To(Equal([]bool{true, true, true}))
	})

	It("should make distributions by name", func() {
		err := transport.Run(ctx, 2, func(_ context.Context, c transport.Comm) error {
			for _, name := range []string{"", "roundrobin", "HASH", "Halo"} {
				d, err := dist.New(name, c, nil)
				if err != nil {
					return err
				}
				if name == "" && d.Name() != dist.RoundRobinName {
					return fmt.Errorf("default distribution: %s", d.Name())
				}
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		err = transport.Run(ctx, 1, func(_ context.Context, c transport.Comm) error {
			_, err := dist.New("Random", c, nil)
			return err
		})
		Expect(err).To(MatchError(ContainSubstring("unknown distribution")))
	})

	It("should measure great-circle distances", func() {
		Expect(dist.Distance(dist.Point{}, dist.Point{})).To(BeZero())
		// a quarter of the equator
		Expect(dist.Distance(dist.Point{}, dist.Point{Lon: 90})).To(BeNumerically("~", 1.0007543e7, 1e3))
		Expect(dist.Distance(dist.Point{Lat: 90}, dist.Point{Lat: -90})).To(BeNumerically("~", 2.0015087e7, 1e3))
	})
})

var _ = Describe("Halo", func() {
	It("should keep overlapping records and patch-own the nearest", func() {
		// ranks centered at lon 0 and 180, each seeing everything
		points := []dist.Point{{Lon: 10}, {Lon: 170}, {Lon: 80}, {Lon: -100}}
		var (
			mu      sync.Mutex
			patches = make([][]bool, 2)
		)
		err := transport.Run(context.Background(), 2, func(_ context.Context, c transport.Comm) error {
			d := dist.NewHalo(c, nil)
			for i, p := range points {
				d.AssignRecord(i, i, p)
			}
			for i := range points {
				if !d.IsMyRecord(i) {
					return transport.ErrAborted
				}
			}
			if err := d.ComputePatchLocs(len(points)); err != nil {
				return err
			}
			mu.Lock()
			patches[c.Rank()] = d.PatchObs(len(points))
			mu.Unlock()
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(patches[0]).To(Equal([]bool{true, false, true, false}))
		Expect(patches[1]).To(Equal([]bool{false, true, false, true}))
	})

	It("should keep only records within the radius", func() {
		err := transport.Run(context.Background(), 1, func(_ context.Context, c transport.Comm) error {
			d := dist.NewHalo(c, &dist.HaloOpts{Center: &dist.Point{}, Radius: 1000e3})
			d.AssignRecord(0, 0, dist.Point{Lon: 1})
			d.AssignRecord(1, 1, dist.Point{Lon: 30})
			d.AssignRecord(0, 2, dist.Point{Lon: 60})
			if !d.IsMyRecord(0) || d.IsMyRecord(1) {
				return transport.ErrAborted
			}
			if err := d.ComputePatchLocs(3); err != nil {
				return err
			}
			// both locations of record 0 are kept and owned
			if mask := d.PatchObs(2); !mask[0] || !mask[1] {
				return transport.ErrAborted
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})
})
