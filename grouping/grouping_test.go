// Package grouping_test tests location selection and record grouping
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package grouping_test

import (
	"time"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/core/mem"
	"github.com/NVIDIA/obsxfer/dist"
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/grouping"
	"github.com/NVIDIA/obsxfer/tools/obsgen"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Grouping", func() {
	var (
		src  *mem.Group
		opts obsgen.Opts
	)

	BeforeEach(func() {
		src = mem.NewRoot()
		opts = obsgen.Opts{Nlocs: 8, Stations: 3}
		Expect(obsgen.Gen(src, opts)).To(Succeed())
	})

	readBuffers := func() *grouping.Buffers {
		format, nlocs, err := grouping.CheckRequiredVars(src)
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal(grouping.TimeEpoch))
		Expect(nlocs).To(Equal(8))
		b, err := grouping.ReadBuffers(src, format)
		Expect(err).NotTo(HaveOccurred())
		return b
	}

	It("should read epoch times and coordinates", func() {
		b := readBuffers()
		Expect(b.DateTime).To(HaveLen(8))
		Expect(b.DateTime[3]).To(Equal(opts.Time(3).Unix()))
		Expect(b.Lat[5]).To(Equal(obsgen.Lat(5)))
		Expect(b.Lon[5]).To(Equal(obsgen.Lon(5)))
	})

	It("should keep every location without a window", func() {
		idx, cnt := grouping.SelectSourceIndices(readBuffers(), nil)
		Expect(idx).To(Equal([]int{0, 1, 2, 3, 4, 5, 6, 7}))
		Expect(cnt.Global).To(Equal(8))
	})

	It("should select the half-open time window", func() {
		w := &grouping.Window{Start: opts.Time(2), End: opts.Time(5)}
		idx, cnt := grouping.SelectSourceIndices(readBuffers(), w)
		Expect(idx).To(Equal([]int{3, 4, 5}))
		Expect(cnt.Inside).To(Equal(3))
		Expect(cnt.Outside).To(Equal(5))
		Expect(cnt.RejectQC).To(BeZero())
	})

	It("should reject locations with fill coordinates", func() {
		b := readBuffers()
		b.Lat[4] = b.LatFill
		w := &grouping.Window{Start: opts.Time(0).Add(-time.Second), End: opts.Time(7)}
		idx, cnt := grouping.SelectSourceIndices(b, w)
		Expect(idx).NotTo(ContainElement(4))
		Expect(cnt.RejectQC).To(Equal(1))
		Expect(cnt.Global).To(Equal(7))
	})

	It("should number records by grouping key", func() {
		b := readBuffers()
		idx, _ := grouping.SelectSourceIndices(b, nil)
		nums, err := grouping.RecordNumbers(src, []string{obsgen.StationField}, b, idx)
		Expect(err).NotTo(HaveOccurred())
		Expect(nums).To(Equal([]int{0, 1, 2, 0, 1, 2, 0, 1}))

		nums, err = grouping.RecordNumbers(src, nil, b, idx)
		Expect(err).NotTo(HaveOccurred())
		Expect(nums).To(Equal(idx))
	})

	It("should build composite keys", func() {
		b := readBuffers()
		keys, err := grouping.BuildKeys(src, []string{obsgen.StationField, grouping.LatitudeField}, b, []int{1, 4})
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(Equal([]string{"ST001:-79", "ST001:-76"}))
	})

	It("should require grouping variables to exist", func() {
		b := readBuffers()
		_, err := grouping.BuildKeys(src, []string{"nonexistent"}, b, []int{0})
		Expect(cos.IsErrMissingRequiredField(err)).To(BeTrue())
	})

	It("should assign dense record numbers in first-seen order", func() {
		Expect(grouping.AssignRecordNumbers([]string{"a:1", "b:2", "a:1", "c:3"})).To(Equal([]int{0, 1, 0, 2}))
		Expect(grouping.AssignRecordNumbers(nil)).To(BeEmpty())
	})

	It("should keep the records of this rank", func() {
		b := readBuffers()
		idx, _ := grouping.SelectSourceIndices(b, nil)
		nums, err := grouping.RecordNumbers(src, []string{obsgen.StationField}, b, idx)
		Expect(err).NotTo(HaveOccurred())

		l := grouping.ApplyDistribution(dist.NewRoundRobin(1, 2), b, idx, nums)
		Expect(l.LocIndices).To(Equal([]int{1, 4, 7}))
		Expect(l.RecNums).To(Equal([]int{1, 1, 1}))
		Expect(l.Nlocs).To(Equal(3))
		Expect(l.Nrecs).To(Equal(1))
	})

	It("should fail without coordinates", func() {
		g := mem.NewRoot()
		v, err := g.CreateVar(core.LocationName, dtype.Int32, core.NewDims(3), core.CreateParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Write(dtype.Wrap(dtype.Int32, []int32{0, 1, 2}), nil, nil)).To(Succeed())
		_, _, err = grouping.CheckRequiredVars(g)
		Expect(cos.IsErrMissingRequiredField(err)).To(BeTrue())
	})

	It("should accept an empty source without coordinates", func() {
		g := mem.NewRoot()
		_, err := g.CreateVar(core.LocationName, dtype.Int32, core.NewDims(0), core.CreateParams{})
		Expect(err).NotTo(HaveOccurred())
		format, nlocs, err := grouping.CheckRequiredVars(g)
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal(grouping.TimeNone))
		Expect(nlocs).To(BeZero())
	})

	It("should parse epoch units", func() {
		epoch := time.Date(2020, 5, 17, 6, 0, 0, 0, time.UTC)
		t, err := grouping.ParseEpochUnits(grouping.EpochUnits(epoch))
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Equal(epoch)).To(BeTrue())
		_, err = grouping.ParseEpochUnits("hours since 2020-01-01T00:00:00Z")
		Expect(err).To(HaveOccurred())
	})
})
