// Package grouping reads the location metadata of an observation source,
// selects locations, groups them into records and applies a distribution.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package grouping

import (
	"strconv"
	"strings"
	"time"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/dist"
	"github.com/NVIDIA/obsxfer/dtype"

	"github.com/pkg/errors"
)

// KeySep joins the fields of a grouping key.
const KeySep = ":"

type (
	// Window is the half-open time window (Start, End].
	Window struct {
		Start time.Time
		End   time.Time
	}

	Counts struct {
		Src      int `json:"src"`
		Inside   int `json:"inside_window"`
		Outside  int `json:"outside_window"`
		RejectQC int `json:"reject_qc"`
		Global   int `json:"global"`
	}

	// Local is what the distribution leaves to one rank.
	Local struct {
		LocIndices []int
		RecNums    []int
		Nlocs      int
		Nrecs      int
	}
)

// SelectSourceIndices returns the source rows to keep. A nil window keeps
// every row. Otherwise a row is kept when its time is in (Start, End] (a time
// equal to Start belongs to the previous window) and neither its longitude
// nor its latitude equals the variable's fill value.
func SelectSourceIndices(b *Buffers, w *Window) (idx []int, cnt Counts) {
	cnt.Src = len(b.DateTime)
	idx = make([]int, 0, cnt.Src)
	if w == nil {
		for i := range b.DateTime {
			idx = append(idx, i)
		}
		cnt.Inside, cnt.Global = cnt.Src, cnt.Src
		return
	}
	var (
		start = int64(w.Start.Sub(b.Epoch) / time.Second)
		end   = int64(w.End.Sub(b.Epoch) / time.Second)
	)
	for i, t := range b.DateTime {
		if t <= start || t > end {
			cnt.Outside++
			continue
		}
		cnt.Inside++
		if b.Lon[i] == b.LonFill || b.Lat[i] == b.LatFill {
			cnt.RejectQC++
			continue
		}
		idx = append(idx, i)
	}
	cnt.Global = len(idx)
	return
}

// BuildKeys builds one key per selected row: the canonical string form of
// each grouping field, in order, joined with KeySep. dateTime, longitude and
// latitude come from b; every other field is read from MetaData in g.
func BuildKeys(g core.Group, fields []string, b *Buffers, idx []int) ([]string, error) {
	segs := make([][]string, len(fields))
	for i, field := range fields {
		seg := make([]string, len(idx))
		switch field {
		case DateTimeField:
			for j, row := range idx {
				seg[j] = strconv.FormatInt(b.DateTime[row], 10)
			}
		case LongitudeField:
			for j, row := range idx {
				seg[j] = strconv.FormatFloat(float64(b.Lon[row]), 'g', -1, 32)
			}
		case LatitudeField:
			for j, row := range idx {
				seg[j] = strconv.FormatFloat(float64(b.Lat[row]), 'g', -1, 32)
			}
		default:
			if err := readKeySegment(g, field, idx, seg); err != nil {
				return nil, err
			}
		}
		segs[i] = seg
	}
	keys := make([]string, len(idx))
	parts := make([]string, len(fields))
	for j := range idx {
		for i := range fields {
			parts[i] = segs[i][j]
		}
		keys[j] = strings.Join(parts, KeySep)
	}
	return keys, nil
}

func readKeySegment(g core.Group, field string, idx []int, seg []string) error {
	name := MetaData + core.PathSep + field
	v, err := g.OpenVar(name)
	if err != nil {
		return cos.NewErrMissingRequiredField(name, "obs grouping")
	}
	nlocs, err := SourceNlocs(g)
	if err != nil {
		return err
	}
	dims := v.Dims()
	if dims.Rank() == 0 || dims.Cur[0] != nlocs {
		return errors.Errorf("obs grouping variable %q must have %q as first dimension", name, core.LocationName)
	}
	rowSize := dims.RowSize()
	return dtype.Dispatch(v.Kind(), name, func(vec dtype.Vector) error {
		if err := v.Read(vec, nil); err != nil {
			return err
		}
		for j, row := range idx {
			seg[j] = vec.Format(row * rowSize)
		}
		return nil
	})
}

// AssignRecordNumbers numbers distinct keys densely in first-seen order.
func AssignRecordNumbers(keys []string) []int {
	var (
		nums = make([]int, len(keys))
		seen = make(map[string]int, len(keys))
	)
	for i, key := range keys {
		num, ok := seen[key]
		if !ok {
			num = len(seen)
			seen[key] = num
		}
		nums[i] = num
	}
	return nums
}

// RecordNumbers is 0..n-1 without grouping fields, and AssignRecordNumbers of
// the grouping keys otherwise.
func RecordNumbers(g core.Group, fields []string, b *Buffers, idx []int) ([]int, error) {
	if len(fields) == 0 {
		nums := make([]int, len(idx))
		for i := range nums {
			nums[i] = i
		}
		return nums, nil
	}
	keys, err := BuildKeys(g, fields, b, idx)
	if err != nil {
		return nil, err
	}
	return AssignRecordNumbers(keys), nil
}

// ApplyDistribution assigns every selected location to the distribution and
// keeps those of records that are this rank's.
func ApplyDistribution(d dist.Distribution, b *Buffers, idx, recNums []int) *Local {
	var (
		l       = &Local{}
		uniques = make(map[int]struct{})
	)
	for i, row := range idx {
		recNum := recNums[i]
		d.AssignRecord(recNum, row, dist.Point{Lon: float64(b.Lon[row]), Lat: float64(b.Lat[row])})
		if d.IsMyRecord(recNum) {
			l.LocIndices = append(l.LocIndices, row)
			l.RecNums = append(l.RecNums, recNum)
			uniques[recNum] = struct{}{}
		}
	}
	l.Nlocs, l.Nrecs = len(l.LocIndices), len(uniques)
	return l
}
