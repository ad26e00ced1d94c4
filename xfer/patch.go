// Package xfer is the redistribution engine.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package xfer

import (
	"fmt"
	"math"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/transport"

	"github.com/RoaringBitmap/roaring"
	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

// patchClaims is one rank's contribution to the partition check. extra[k]
// holds the locations this rank claims more than k+1 times.
type patchClaims struct {
	bad     string
	visible *roaring.Bitmap
	owned   *roaring.Bitmap
	extra   []*roaring.Bitmap
}

// PatchSelect keeps the rows flagged in mask; a nil mask keeps everything.
func PatchSelect(v dtype.Vector, mask []bool, rowSize int) dtype.Vector {
	if mask == nil {
		return v
	}
	return v.SelectRows(mask, rowSize)
}

// PatchCount is the number of flagged rows (all rows when mask is nil).
func PatchCount(mask []bool, nlocs int) (n int) {
	if mask == nil {
		return nlocs
	}
	for _, m := range mask {
		if m {
			n++
		}
	}
	return
}

// VerifyPatches is collective: it checks that the patch masks of all ranks
// partition the set of visible global locations. A location visible on some
// rank must be patch-owned exactly once, counting repeated claims by the same
// rank. globalIdx maps each local location to its global index; mask flags
// the patch-owned ones (nil: all). All ranks return the same error, naming
// the lowest offending location.
func VerifyPatches(c transport.Comm, globalIdx []int, mask []bool) error {
	parts, err := c.AllGather(newClaims(globalIdx, mask).marshal())
	if err != nil {
		return errors.Wrap(err, "verify patches")
	}
	all := make([]*patchClaims, len(parts))
	for rank, b := range parts {
		if all[rank], err = unmarshalClaims(b); err != nil {
			return errors.Wrapf(err, "verify patches: claims of rank %d", rank)
		}
		if all[rank].bad != "" {
			return errors.Errorf("verify patches: rank %d: %s", rank, all[rank].bad)
		}
	}

	var (
		visible = roaring.New()
		owned   = roaring.New()
		overlap = roaring.New()
	)
	for _, pc := range all {
		visible.Or(pc.visible)
		overlap.Or(roaring.And(owned, pc.owned))
		owned.Or(pc.owned)
		if len(pc.extra) > 0 {
			overlap.Or(pc.extra[0])
		}
	}
	gap := roaring.AndNot(visible, owned)
	offending := roaring.Or(gap, overlap)
	if offending.IsEmpty() {
		return nil
	}
	loc := offending.Minimum()
	if gap.Contains(loc) {
		return cos.NewErrPatchPartition(int(loc), 0)
	}
	var claims int
	for _, pc := range all {
		if pc.owned.Contains(loc) {
			claims++
		}
		for _, bm := range pc.extra {
			if bm.Contains(loc) {
				claims++
			}
		}
	}
	return cos.NewErrPatchPartition(int(loc), claims)
}

func newClaims(globalIdx []int, mask []bool) *patchClaims {
	pc := &patchClaims{visible: roaring.New(), owned: roaring.New()}
	if mask != nil && len(mask) != len(globalIdx) {
		pc.bad = cos.NewErrSizeMismatch("patch mask", len(globalIdx), len(mask)).Error()
		return pc
	}
	var counts map[uint32]int
	for i, g := range globalIdx {
		if g < 0 || int64(g) > math.MaxUint32 {
			pc.bad = fmt.Sprintf("global index %d of location %d out of range", g, i)
			return pc
		}
		loc := uint32(g)
		pc.visible.Add(loc)
		if mask != nil && !mask[i] {
			continue
		}
		if pc.owned.CheckedAdd(loc) {
			continue
		}
		if counts == nil {
			counts = make(map[uint32]int)
		}
		counts[loc]++
		k := counts[loc] - 1
		if k == len(pc.extra) {
			pc.extra = append(pc.extra, roaring.New())
		}
		pc.extra[k].Add(loc)
	}
	return pc
}

// wire: msgpack array [bad, visible, owned, extra...], bitmaps in roaring
// portable format
func (pc *patchClaims) marshal() []byte {
	bms := append([]*roaring.Bitmap{pc.visible, pc.owned}, pc.extra...)
	b := msgp.AppendArrayHeader(nil, uint32(1+len(bms)))
	b = msgp.AppendString(b, pc.bad)
	for _, bm := range bms {
		raw, err := bm.ToBytes()
		cos.AssertNoErr(err)
		b = msgp.AppendBytes(b, raw)
	}
	return b
}

func unmarshalClaims(b []byte) (*patchClaims, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	if n < 3 {
		return nil, cos.NewErrSizeMismatch("patch claims fields", 3, int(n))
	}
	pc := &patchClaims{}
	if pc.bad, b, err = msgp.ReadStringBytes(b); err != nil {
		return nil, err
	}
	bms := make([]*roaring.Bitmap, n-1)
	for i := range bms {
		var raw []byte
		if raw, b, err = msgp.ReadBytesZC(b); err != nil {
			return nil, err
		}
		bms[i] = roaring.New()
		if err := bms[i].UnmarshalBinary(raw); err != nil {
			return nil, err
		}
	}
	pc.visible, pc.owned, pc.extra = bms[0], bms[1], bms[2:]
	return pc, nil
}
