// Package xfer_test tests the redistribution engine
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package xfer_test

import (
	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/xfer"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Offsets", func() {
	a := xfer.Assignment{{Peer: 1, Count: 2}, {Peer: 2, Count: 3}}

	It("should place peers after the own block on a pool rank", func() {
		starts, counts := xfer.Offsets(4, a, 2, true)
		Expect(starts).To(Equal([]int{8, 12}))
		Expect(counts).To(Equal([]int{4, 6}))
		Expect(a.Total()).To(Equal(5))
		Expect(xfer.CheckPartition(4, a, 2, 9)).To(Succeed())
	})

	It("should send the whole buffer from a non-pool rank", func() {
		starts, counts := xfer.Offsets(3, xfer.Assignment{{Peer: 0, Count: 3}}, 5, false)
		Expect(starts).To(Equal([]int{0}))
		Expect(counts).To(Equal([]int{15}))
	})

	It("should detect a total that is not tiled", func() {
		err := xfer.CheckPartition(4, a, 1, 10)
		Expect(cos.IsErrSizeMismatch(err)).To(BeTrue())
	})

	It("should render assignments", func() {
		Expect(a.String()).To(Equal("[(1,2) (2,3)]"))
		Expect(xfer.Assignment(nil).Total()).To(BeZero())
	})
})

var _ = Describe("Strings", func() {
	strs := []string{"foo", "", "longer-string"}

	It("should round-trip fixed-width packing", func() {
		width := xfer.MaxLen(strs) + 1
		Expect(width).To(Equal(14))
		buf := make([]byte, xfer.PackedSize(len(strs), width))
		Expect(xfer.Pack("v", buf, strs, width)).To(Succeed())
		Expect(buf[3]).To(BeZero())

		out := make([]string, len(strs))
		Expect(xfer.Unpack("v", buf, width, out)).To(Succeed())
		Expect(out).To(Equal(strs))
	})

	It("should keep the missing sentinel", func() {
		in := []string{dtype.MissingString, "x"}
		width := xfer.MaxLen(in) + 1
		buf := make([]byte, xfer.PackedSize(len(in), width))
		Expect(xfer.Pack("v", buf, in, width)).To(Succeed())
		out := make([]string, 2)
		Expect(xfer.Unpack("v", buf, width, out)).To(Succeed())
		Expect(out).To(Equal(in))
	})

	It("should reject strings that do not fit", func() {
		buf := make([]byte, 2*4)
		err := xfer.Pack("v", buf, []string{"ab", "abcd"}, 4)
		Expect(cos.IsErrSizeMismatch(err)).To(BeTrue())
	})

	It("should reject strings with an embedded NUL", func() {
		in := []string{"ok", "a\x00b"}
		width := xfer.MaxLen(in) + 1
		buf := make([]byte, xfer.PackedSize(len(in), width))
		err := xfer.Pack("MetaData/stationIdentification", buf, in, width)
		Expect(cos.IsErrStringFraming(err)).To(BeTrue())
		Expect(err).To(MatchError(`variable "MetaData/stationIdentification": string #1 contains a NUL byte`))
	})

	It("should reject segments without a terminator", func() {
		buf := []byte("abcdefgh")
		err := xfer.Unpack("v", buf, 4, make([]string, 2))
		Expect(cos.IsErrStringFraming(err)).To(BeTrue())
	})

	It("should reject a short source", func() {
		err := xfer.Unpack("v", make([]byte, 5), 4, make([]string, 2))
		Expect(cos.IsErrSizeMismatch(err)).To(BeTrue())
	})
})
