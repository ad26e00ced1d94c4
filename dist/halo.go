// Package dist implements the policies that decide which rank keeps which
// observation record, and which of a rank's locations it is the unique
// ("patch") owner of.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package dist

import (
	"encoding/binary"
	"math"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/cmn/debug"
	"github.com/NVIDIA/obsxfer/transport"

	"github.com/pkg/errors"
)

const (
	earthRadius   = 6.371e6 // meters
	DefaultRadius = 50000000.0
)

type (
	HaloOpts struct {
		// Center defaults to (rank*360/size, 0)
		Center *Point `json:"center,omitempty" yaml:"center,omitempty"`
		// Radius in meters; the localization length scale is added to it
		Radius    float64 `json:"radius" yaml:"radius"`
		LocRadius float64 `json:"localization_lengthscale" yaml:"localization_lengthscale"`
	}

	haloLoc struct {
		locNum int
		recNum int
		dist   float64
	}

	// Halo keeps every record with at least one location within Radius of
	// the rank's center. Halos overlap; each location is then patch-owned by
	// the rank whose center is nearest (ties go to the lower rank).
	Halo struct {
		c       transport.Comm
		records map[int]struct{}
		locs    []haloLoc
		patch   []bool
		center  Point
		radius  float64
	}
)

func NewHalo(c transport.Comm, opts *HaloOpts) *Halo {
	d := &Halo{c: c, records: make(map[int]struct{}), radius: DefaultRadius}
	d.center = Point{Lon: float64(c.Rank()) * (360.0 / float64(c.Size()))}
	if opts != nil {
		if opts.Center != nil {
			d.center = *opts.Center
		}
		if opts.Radius > 0 {
			d.radius = opts.Radius
		}
		d.radius += opts.LocRadius
	}
	return d
}

func (*Halo) Name() string           { return HaloName }
func (*Halo) IsNonoverlapping() bool { return false }

func (d *Halo) AssignRecord(recNum, locNum int, p Point) {
	dist := Distance(d.center, p)
	if dist <= d.radius {
		d.records[recNum] = struct{}{}
	}
	d.locs = append(d.locs, haloLoc{locNum: locNum, recNum: recNum, dist: dist})
}

func (d *Halo) IsMyRecord(recNum int) bool {
	_, ok := d.records[recNum]
	return ok
}

// ComputePatchLocs is a collective minloc over the per-location distances.
func (d *Halo) ComputePatchLocs(nglocs int) error {
	var (
		buf  = make([]byte, nglocs*8)
		mine = d.mine()
		inf  = math.Inf(1)
	)
	for gloc := range nglocs {
		binary.LittleEndian.PutUint64(buf[gloc*8:], math.Float64bits(inf))
	}
	for _, l := range mine {
		if l.locNum >= nglocs {
			return errors.Errorf("halo: location %d out of range [0, %d)", l.locNum, nglocs)
		}
		binary.LittleEndian.PutUint64(buf[l.locNum*8:], math.Float64bits(l.dist))
	}
	parts, err := d.c.AllGather(buf)
	if err != nil {
		return errors.Wrap(err, "halo: compute patch locations")
	}
	for _, p := range parts {
		if len(p) != len(buf) {
			return cos.NewErrSizeMismatch("halo: distances per rank", len(buf), len(p))
		}
	}
	owner := func(gloc int) int {
		best, who := inf, -1
		for rank, p := range parts {
			if dist := math.Float64frombits(binary.LittleEndian.Uint64(p[gloc*8:])); dist < best {
				best, who = dist, rank
			}
		}
		return who
	}
	d.patch = make([]bool, len(mine))
	for i, l := range mine {
		d.patch[i] = owner(l.locNum) == d.c.Rank()
	}
	return nil
}

// kept locations, in assignment order
func (d *Halo) mine() []haloLoc {
	out := make([]haloLoc, 0, len(d.locs))
	for _, l := range d.locs {
		if d.IsMyRecord(l.recNum) {
			out = append(out, l)
		}
	}
	return out
}

func (d *Halo) PatchObs(nlocs int) []bool {
	debug.Assertf(len(d.patch) == nlocs, "halo: patch mask %d vs %d locations", len(d.patch), nlocs)
	return append([]bool(nil), d.patch...)
}

// Distance is the great-circle distance in meters (haversine).
func Distance(a, b Point) float64 {
	const rad = math.Pi / 180
	var (
		dLat = (b.Lat - a.Lat) * rad
		dLon = (b.Lon - a.Lon) * rad
		h    = math.Sin(dLat/2)*math.Sin(dLat/2) +
			math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}
