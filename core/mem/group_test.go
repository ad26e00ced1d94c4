// Package mem_test tests the in-memory group engine
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package mem_test

import (
	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/core/mem"
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/selection"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func readInt32(v core.Variable) []int32 {
	vec := dtype.New(dtype.Int32, 0)
	Expect(v.Read(vec, nil)).To(Succeed())
	return dtype.Values[int32](vec)
}

var _ = Describe("Group", func() {
	var root *mem.Group

	BeforeEach(func() {
		root = mem.NewRoot()
	})

	It("should create nested variables and list them", func() {
		_, err := root.CreateVar("MetaData/latitude", dtype.Float32, core.NewDims(3), core.CreateParams{})
		Expect(err).NotTo(HaveOccurred())
		_, err = root.CreateVar("ObsValue/airTemperature", dtype.Float32, core.NewDims(3), core.CreateParams{})
		Expect(err).NotTo(HaveOccurred())
		_, err = root.CreateVar(core.LocationName, dtype.Int32, core.NewDims(3), core.CreateParams{})
		Expect(err).NotTo(HaveOccurred())

		Expect(root.List(core.ObjVariable, true)).To(Equal([]string{
			core.LocationName, "MetaData/latitude", "ObsValue/airTemperature",
		}))
		Expect(root.List(core.ObjVariable, false)).To(Equal([]string{core.LocationName}))
		Expect(root.List(core.ObjGroup, true)).To(Equal([]string{"MetaData", "ObsValue"}))
		Expect(root.HasVar("MetaData/latitude")).To(BeTrue())
		Expect(root.HasVar("MetaData/longitude")).To(BeFalse())

		sub, err := root.OpenGroup("MetaData")
		Expect(err).NotTo(HaveOccurred())
		Expect(sub.HasVar("latitude")).To(BeTrue())
	})

	It("should fill new variables and reject duplicates", func() {
		v, err := root.CreateVar("x", dtype.Int32, core.NewDims(2), core.CreateParams{Fill: dtype.FillOf(int32(-1))})
		Expect(err).NotTo(HaveOccurred())
		Expect(readInt32(v)).To(Equal([]int32{-1, -1}))

		_, err = root.CreateVar("x", dtype.Int32, core.NewDims(2), core.CreateParams{})
		Expect(err).To(HaveOccurred())

		_, err = root.CreateVar("bad", dtype.Invalid, core.NewDims(2), core.CreateParams{})
		Expect(cos.IsErrUnsupportedType(err)).To(BeTrue())
	})

	It("should make creation idempotent when shared", func() {
		shared := mem.NewRoot(mem.Shared())
		a, err := shared.CreateVar("g/x", dtype.Int32, core.NewDims(4), core.CreateParams{})
		Expect(err).NotTo(HaveOccurred())
		b, err := shared.CreateVar("g/x", dtype.Int32, core.NewDims(4), core.CreateParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(BeIdenticalTo(a))
		_, err = shared.CreateGroup("g")
		Expect(err).NotTo(HaveOccurred())

		_, err = shared.CreateVar("g/x", dtype.Int32, core.NewDims(5), core.CreateParams{})
		Expect(err).To(HaveOccurred())
	})

	It("should write blocks through selections", func() {
		v, err := root.CreateVar("x", dtype.Int32, core.NewDims(3, 2), core.CreateParams{})
		Expect(err).NotTo(HaveOccurred())
		src := dtype.Wrap(dtype.Int32, []int32{1, 2, 3, 4})
		memSel := selection.ForBlock([]int{2, 2}, 0, 2, false)
		fileSel := selection.ForBlock([]int{3, 2}, 1, 2, true)
		Expect(v.Write(src, memSel, fileSel)).To(Succeed())
		Expect(readInt32(v)).To(Equal([]int32{0, 0, 1, 2, 3, 4}))

		part := dtype.New(dtype.Int32, 0)
		Expect(v.Read(part, selection.ForBlock([]int{3, 2}, 2, 1, true))).To(Succeed())
		Expect(dtype.Values[int32](part)).To(Equal([]int32{3, 4}))

		err = v.Write(dtype.Wrap(dtype.Int32, []int32{1}), nil, nil)
		Expect(cos.IsErrSizeMismatch(err)).To(BeTrue())
		err = v.Write(dtype.Wrap(dtype.Float32, []float32{1}), nil, nil)
		Expect(err).To(HaveOccurred())
	})

	It("should enforce fixed string lengths", func() {
		v, err := root.CreateVar("s", dtype.String, core.NewDims(2), core.CreateParams{StringLen: 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Write(dtype.Wrap(dtype.String, []string{"abc", ""}), nil, nil)).To(Succeed())
		err = v.Write(dtype.Wrap(dtype.String, []string{"abcd", ""}), nil, nil)
		Expect(cos.IsErrSizeMismatch(err)).To(BeTrue())
	})

	It("should attach dimension scales", func() {
		loc, err := root.CreateVar(core.LocationName, dtype.Int32, core.NewDims(3), core.CreateParams{})
		Expect(err).NotTo(HaveOccurred())
		ch, err := root.CreateVar("Channel", dtype.Int32, core.NewDims(2), core.CreateParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(loc.SetIsDimensionScale(core.LocationName)).To(Succeed())
		Expect(ch.SetIsDimensionScale("Channel")).To(Succeed())
		bt, err := root.CreateVar("ObsValue/bt", dtype.Float32, core.NewDims(3, 2), core.CreateParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(bt.SetIsDimensionScale("bt")).NotTo(Succeed())

		Expect(root.AttachDimensionScales([]core.ScaleAttachment{
			{Var: "ObsValue/bt", Scales: []string{core.LocationName, "Channel"}},
		})).To(Succeed())
		Expect(bt.Scales()).To(Equal([]string{core.LocationName, "Channel"}))

		err = root.AttachDimensionScales([]core.ScaleAttachment{
			{Var: "ObsValue/bt", Scales: []string{"Channel", core.LocationName}},
		})
		Expect(cos.IsErrSizeMismatch(err)).To(BeTrue())

		regular, scales, dm, maxSize0, err := core.CollectVarDimInfo(root)
		Expect(err).NotTo(HaveOccurred())
		Expect(scales[0].Name).To(Equal(core.LocationName))
		Expect(scales).To(HaveLen(2))
		Expect(regular).To(HaveLen(1))
		Expect(dm.UsesLocation("ObsValue/bt")).To(BeTrue())
		Expect(maxSize0).To(Equal(3))
	})
})

var _ = Describe("Attributes", func() {
	It("should keep insertion order and overwrite in place", func() {
		atts := mem.NewRoot().Atts()
		Expect(atts.Set("b", dtype.Wrap(dtype.Int32, []int32{1}))).To(Succeed())
		Expect(atts.Set("a", dtype.Wrap(dtype.String, []string{"x"}))).To(Succeed())
		Expect(atts.Set("b", dtype.Wrap(dtype.Int32, []int32{2}))).To(Succeed())
		Expect(atts.Names()).To(Equal([]string{"b", "a"}))
		v, ok := atts.Get("b")
		Expect(ok).To(BeTrue())
		Expect(v.Format(0)).To(Equal("2"))
		Expect(atts.Set("", v)).NotTo(Succeed())
	})

	It("should skip backend bookkeeping on copy", func() {
		src, dst := mem.NewRoot().Atts(), mem.NewRoot().Atts()
		Expect(src.Set("_FillValue", dtype.Wrap(dtype.Int32, []int32{1}))).To(Succeed())
		Expect(src.Set("units", dtype.Wrap(dtype.String, []string{"K"}))).To(Succeed())
		Expect(core.CopyAttributes(src, dst)).To(Succeed())
		Expect(dst.Names()).To(Equal([]string{"units"}))
	})
})
