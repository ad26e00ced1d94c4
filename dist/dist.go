// Package dist implements the policies that decide which rank keeps which
// observation record, and which of a rank's locations it is the unique
// ("patch") owner of.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package dist

import (
	"encoding/binary"
	"strings"

	"github.com/NVIDIA/obsxfer/transport"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

const (
	RoundRobinName = "RoundRobin"
	HashName       = "Hash"
	HaloName       = "Halo"
)

type (
	Point struct {
		Lon float64
		Lat float64
	}

	// Distribution is used in two phases: AssignRecord for every candidate
	// location (in the same order on every rank), then ComputePatchLocs once.
	// Only then is PatchObs valid.
	Distribution interface {
		Name() string
		// AssignRecord informs the distribution that global location locNum
		// belongs to record recNum.
		AssignRecord(recNum, locNum int, p Point)
		IsMyRecord(recNum int) bool
		// ComputePatchLocs is collective for overlapping policies.
		ComputePatchLocs(nglocs int) error
		// PatchObs returns one flag per kept location: true when this rank is
		// the unique owner of that location.
		PatchObs(nlocs int) []bool
		IsNonoverlapping() bool
	}

	// nonoverlapping policies: every location is a patch location
	nonoverlapping struct{}

	RoundRobin struct {
		nonoverlapping
		rank, size int
	}
	Hash struct {
		nonoverlapping
		rank, size int
	}
)

// interface guard
var (
	_ Distribution = (*RoundRobin)(nil)
	_ Distribution = (*Hash)(nil)
	_ Distribution = (*Halo)(nil)
)

// New makes a distribution by (case-insensitive) name for the given communicator.
func New(name string, c transport.Comm, opts *HaloOpts) (Distribution, error) {
	switch strings.ToLower(name) {
	case "", strings.ToLower(RoundRobinName):
		return NewRoundRobin(c.Rank(), c.Size()), nil
	case strings.ToLower(HashName):
		return NewHash(c.Rank(), c.Size()), nil
	case strings.ToLower(HaloName):
		return NewHalo(c, opts), nil
	}
	return nil, errors.Errorf("unknown distribution %q (expecting one of: %s, %s, %s)",
		name, RoundRobinName, HashName, HaloName)
}

func (nonoverlapping) ComputePatchLocs(int) error { return nil }
func (nonoverlapping) IsNonoverlapping() bool     { return true }

func (nonoverlapping) PatchObs(nlocs int) []bool {
	mask := make([]bool, nlocs)
	for i := range mask {
		mask[i] = true
	}
	return mask
}

//
// RoundRobin: record r belongs to rank r % size
//

func NewRoundRobin(rank, size int) *RoundRobin { return &RoundRobin{rank: rank, size: size} }

func (*RoundRobin) Name() string                  { return RoundRobinName }
func (*RoundRobin) AssignRecord(int, int, Point) {}
func (d *RoundRobin) IsMyRecord(recNum int) bool { return recNum%d.size == d.rank }

//
// Hash: record placement by xxhash of the record number
//

func NewHash(rank, size int) *Hash { return &Hash{rank: rank, size: size} }

func (*Hash) Name() string                  { return HashName }
func (*Hash) AssignRecord(int, int, Point) {}

func (d *Hash) IsMyRecord(recNum int) bool {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(recNum))
	return int(xxhash.Sum64(b[:])%uint64(d.size)) == d.rank
}
