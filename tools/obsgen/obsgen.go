// Package obsgen generates deterministic synthetic observation groups for
// dev tools and tests
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package obsgen

import (
	"fmt"
	"time"

	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/dtype"
	"github.com/NVIDIA/obsxfer/grouping"
)

const (
	ChannelName   = "Channel"
	AirTempVar    = "ObsValue/airTemperature"
	AirTempQCVar  = "PreQC/airTemperature"
	BrightnessVar = "ObsValue/brightnessTemperature"
	StationVar    = grouping.MetaData + core.PathSep + StationField
	StationField  = "stationIdentification"
	PlatformAttr  = "platform"

	AirTempFill = float32(-999)
)

type Opts struct {
	Start    time.Time
	Nlocs    int
	Offset   int // global index of the first location
	Channels int // 0: no two-dimensional variable
	Stations int // distinct station identifiers (default 4)
	// FillEvery: every n-th air temperature (by global index) is AirTempFill
	FillEvery int
	Step      time.Duration
}

func (o *Opts) defaults() {
	if o.Stations <= 0 {
		o.Stations = 4
	}
	if o.Step == 0 {
		o.Step = time.Minute
	}
	if o.Start.IsZero() {
		o.Start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}
}

// per-location values, by global index

func Lat(gi int) float32        { return float32(gi%160) - 80 }
func Lon(gi int) float32        { return float32((gi*7)%360) - 180 }
func QC(gi int) int32           { return int32(gi % 3) }
func Bright(gi, ch int) float32 { return 200 + float32(gi) + float32(ch)/10 }

func Station(gi, stations int) string { return fmt.Sprintf("ST%03d", gi%stations) }

func AirTemp(gi, fillEvery int) float32 {
	if fillEvery > 0 && gi%fillEvery == 0 {
		return AirTempFill
	}
	return 250 + float32(gi)/2
}

// Time returns the observation time of location gi.
func (o *Opts) Time(gi int) time.Time {
	o.defaults()
	return o.Start.Add(time.Duration(gi) * o.Step)
}

// Gen creates and fills the synthetic variables in g.
func Gen(g core.Group, o Opts) error {
	o.defaults()
	n := o.Nlocs
	locDims := core.Dims{Cur: []int{n}, Max: []int{core.Unlimited}}

	if err := g.Atts().Set(PlatformAttr, dtype.Wrap(dtype.String, []string{"synthetic"})); err != nil {
		return err
	}
	loc, err := g.CreateVar(core.LocationName, dtype.Int32, locDims, core.CreateParams{})
	if err != nil {
		return err
	}
	if err := write(loc, dtype.Wrap(dtype.Int32, genInt32(n, func(i int) int32 { return int32(o.Offset + i) }))); err != nil {
		return err
	}
	if err := loc.SetIsDimensionScale(core.LocationName); err != nil {
		return err
	}

	epoch := time.Unix(0, 0).UTC()
	dt, err := g.CreateVar(grouping.DateTimeVar, dtype.Int64, locDims, core.CreateParams{})
	if err != nil {
		return err
	}
	if err := dt.Atts().Set(grouping.UnitsAttr, dtype.Wrap(dtype.String, []string{grouping.EpochUnits(epoch)})); err != nil {
		return err
	}
	times := make([]int64, n)
	for i := range times {
		times[i] = int64(o.Time(o.Offset+i).Sub(epoch) / time.Second)
	}
	if err := write(dt, dtype.Wrap(dtype.Int64, times)); err != nil {
		return err
	}

	vars := []struct {
		name string
		vec  dtype.Vector
		fill dtype.FillSpec
	}{
		{grouping.LatitudeVar, dtype.Wrap(dtype.Float32, genFloat32(n, func(i int) float32 { return Lat(o.Offset + i) })), dtype.FillSpec{}},
		{grouping.LongitudeVar, dtype.Wrap(dtype.Float32, genFloat32(n, func(i int) float32 { return Lon(o.Offset + i) })), dtype.FillSpec{}},
		{AirTempVar, dtype.Wrap(dtype.Float32, genFloat32(n, func(i int) float32 { return AirTemp(o.Offset+i, o.FillEvery) })), dtype.FillOf(AirTempFill)},
		{AirTempQCVar, dtype.Wrap(dtype.Int32, genInt32(n, func(i int) int32 { return QC(o.Offset + i) })), dtype.FillSpec{}},
		{StationVar, dtype.Wrap(dtype.String, genStrings(n, func(i int) string { return Station(o.Offset+i, o.Stations) })), dtype.FillSpec{}},
	}
	batch := []core.ScaleAttachment{{Var: grouping.DateTimeVar, Scales: []string{core.LocationName}}}
	for _, vv := range vars {
		v, err := g.CreateVar(vv.name, vv.vec.Kind(), locDims, core.CreateParams{Fill: vv.fill})
		if err != nil {
			return err
		}
		if err := write(v, vv.vec); err != nil {
			return err
		}
		batch = append(batch, core.ScaleAttachment{Var: vv.name, Scales: []string{core.LocationName}})
	}

	if o.Channels > 0 {
		ch, err := g.CreateVar(ChannelName, dtype.Int32, core.NewDims(o.Channels), core.CreateParams{})
		if err != nil {
			return err
		}
		if err := write(ch, dtype.Wrap(dtype.Int32, genInt32(o.Channels, func(i int) int32 { return int32(i + 1) }))); err != nil {
			return err
		}
		if err := ch.SetIsDimensionScale(ChannelName); err != nil {
			return err
		}
		dims := core.Dims{Cur: []int{n, o.Channels}, Max: []int{core.Unlimited, o.Channels}}
		bt, err := g.CreateVar(BrightnessVar, dtype.Float32, dims, core.CreateParams{})
		if err != nil {
			return err
		}
		vals := make([]float32, n*o.Channels)
		for i := range n {
			for c := range o.Channels {
				vals[i*o.Channels+c] = Bright(o.Offset+i, c)
			}
		}
		if err := write(bt, dtype.Wrap(dtype.Float32, vals)); err != nil {
			return err
		}
		batch = append(batch, core.ScaleAttachment{Var: BrightnessVar, Scales: []string{core.LocationName, ChannelName}})
	}
	return g.AttachDimensionScales(batch)
}

func write(v core.Variable, vec dtype.Vector) error {
	if vec.Len() == 0 {
		return nil
	}
	return v.Write(vec, nil, nil)
}

func genInt32(n int, f func(i int) int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func genFloat32(n int, f func(i int) float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func genStrings(n int, f func(i int) string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}
