// Package grouping reads the location metadata of an observation source
// (time, longitude, latitude), selects the locations inside the time window,
// groups them into records by composite key, and applies a distribution.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package grouping

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/cmn/nlog"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/dtype"

	"github.com/pkg/errors"
)

const (
	MetaData = "MetaData"

	DateTimeField  = "dateTime"
	LongitudeField = "longitude"
	LatitudeField  = "latitude"

	DateTimeVar       = MetaData + core.PathSep + DateTimeField
	DateTimeStringVar = MetaData + core.PathSep + "datetime"
	TimeOffsetVar     = MetaData + core.PathSep + "time"
	LongitudeVar      = MetaData + core.PathSep + LongitudeField
	LatitudeVar       = MetaData + core.PathSep + LatitudeField

	UnitsAttr    = "units"
	RefDateAttr  = "date_time" // YYYYMMDDhh
	unitsPrefix  = "seconds since "
	DefaultEpoch = "1970-01-01T00:00:00Z"
)

type TimeFormat int

// in increasing precedence
const (
	TimeNone TimeFormat = iota
	TimeOffset
	TimeString
	TimeEpoch
)

func (f TimeFormat) String() string {
	switch f {
	case TimeOffset:
		return "offset"
	case TimeString:
		return "string"
	case TimeEpoch:
		return "epoch"
	}
	return "none"
}

// Buffers are the already materialized location metadata. DateTime holds
// seconds since Epoch.
type Buffers struct {
	Epoch    time.Time
	DateTime []int64
	Lon      []float32
	Lat      []float32
	LonFill  float32
	LatFill  float32
}

// SourceNlocs is the size of the source Location dimension.
func SourceNlocs(g core.Group) (int, error) {
	v, err := g.OpenVar(core.LocationName)
	if err != nil {
		return 0, cos.NewErrMissingRequiredField(core.LocationName, "obs source")
	}
	dims := v.Dims()
	if dims.Rank() != 1 {
		return 0, cos.NewErrSizeMismatch(core.LocationName+" rank", 1, dims.Rank())
	}
	return dims.Cur[0], nil
}

// CheckRequiredVars detects the time format and verifies that a non-empty
// source has time, longitude and latitude. An empty source may lack them.
func CheckRequiredVars(g core.Group) (format TimeFormat, nlocs int, err error) {
	if nlocs, err = SourceNlocs(g); err != nil {
		return
	}
	if g.HasVar(TimeOffsetVar) {
		format = TimeOffset
	}
	if g.HasVar(DateTimeStringVar) {
		format = TimeString
	}
	if g.HasVar(DateTimeVar) {
		format = TimeEpoch
	}
	if nlocs == 0 {
		nlog.Warningln("obs source contains zero locations")
		return
	}
	switch {
	case format == TimeNone:
		err = cos.NewErrMissingRequiredField(DateTimeVar+" (or "+DateTimeStringVar+", "+TimeOffsetVar+")", "obs source")
	case !g.HasVar(LatitudeVar):
		err = cos.NewErrMissingRequiredField(LatitudeVar, "obs source")
	case !g.HasVar(LongitudeVar):
		err = cos.NewErrMissingRequiredField(LongitudeVar, "obs source")
	}
	if format == TimeString || format == TimeOffset {
		nlog.Warningf("%s-style datetime is deprecated, please use %s (epoch)", format, DateTimeVar)
	}
	return
}

// ReadBuffers reads time (converted to epoch seconds), longitude and latitude.
func ReadBuffers(g core.Group, format TimeFormat) (b *Buffers, err error) {
	b = &Buffers{}
	if b.Epoch, err = time.Parse(time.RFC3339, DefaultEpoch); err != nil {
		return nil, err
	}
	switch format {
	case TimeEpoch:
		err = b.readEpoch(g)
	case TimeString:
		err = b.readStrings(g)
	case TimeOffset:
		err = b.readOffsets(g)
	default:
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	if b.Lon, b.LonFill, err = readFloat32(g, LongitudeVar); err != nil {
		return nil, err
	}
	if b.Lat, b.LatFill, err = readFloat32(g, LatitudeVar); err != nil {
		return nil, err
	}
	if len(b.Lon) != len(b.DateTime) || len(b.Lat) != len(b.DateTime) {
		return nil, cos.NewErrSizeMismatch("longitude/latitude vs dateTime", len(b.DateTime), min(len(b.Lon), len(b.Lat)))
	}
	return b, nil
}

func (b *Buffers) readEpoch(g core.Group) error {
	v, err := g.OpenVar(DateTimeVar)
	if err != nil {
		return err
	}
	if units, ok := v.Atts().Get(UnitsAttr); ok && units.Kind() == dtype.String && units.Len() > 0 {
		if b.Epoch, err = ParseEpochUnits(units.Format(0)); err != nil {
			return errors.Wrapf(err, "%s: %s", DateTimeVar, UnitsAttr)
		}
	}
	if v.Kind() != dtype.Int64 {
		return cos.NewErrUnsupportedType(DateTimeVar, v.Kind().String())
	}
	vec := dtype.New(dtype.Int64, 0)
	if err := v.Read(vec, nil); err != nil {
		return err
	}
	b.DateTime = dtype.Values[int64](vec)
	return nil
}

func (b *Buffers) readStrings(g core.Group) error {
	v, err := g.OpenVar(DateTimeStringVar)
	if err != nil {
		return err
	}
	if v.Kind() != dtype.String {
		return cos.NewErrUnsupportedType(DateTimeStringVar, v.Kind().String())
	}
	vec := dtype.New(dtype.String, 0)
	if err := v.Read(vec, nil); err != nil {
		return err
	}
	strs := dtype.Values[string](vec)
	b.DateTime = make([]int64, len(strs))
	for i, s := range strs {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return errors.Wrapf(err, "%s[%d]", DateTimeStringVar, i)
		}
		b.DateTime[i] = int64(t.Sub(b.Epoch) / time.Second)
	}
	return nil
}

func (b *Buffers) readOffsets(g core.Group) error {
	ref, ok := g.Atts().Get(RefDateAttr)
	if !ok || ref.Len() == 0 {
		return cos.NewErrMissingRequiredField(RefDateAttr, "obs source attributes")
	}
	ymdh, err := strconv.ParseInt(ref.Format(0), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "attribute %s", RefDateAttr)
	}
	b.Epoch = time.Date(int(ymdh/1000000), time.Month(ymdh%1000000/10000), int(ymdh%10000/100), int(ymdh%100), 0, 0, 0, time.UTC)

	hours, _, err := readFloat32(g, TimeOffsetVar)
	if err != nil {
		return err
	}
	b.DateTime = make([]int64, len(hours))
	for i, h := range hours {
		b.DateTime[i] = int64(math.Round(float64(h) * 3600))
	}
	return nil
}

// ParseEpochUnits parses "seconds since <RFC 3339 time>".
func ParseEpochUnits(units string) (time.Time, error) {
	s, ok := strings.CutPrefix(units, unitsPrefix)
	if !ok {
		return time.Time{}, errors.Errorf("expecting %q, got %q", unitsPrefix+"<datetime>", units)
	}
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}

func EpochUnits(epoch time.Time) string { return unitsPrefix + epoch.UTC().Format(time.RFC3339) }

// readFloat32 reads a floating point variable as float32, along with its
// fill value (the kind default when unset).
func readFloat32(g core.Group, name string) ([]float32, float32, error) {
	v, err := g.OpenVar(name)
	if err != nil {
		return nil, 0, err
	}
	fill := v.Fill()
	if !fill.Set {
		fill = v.Kind().DefaultFill()
	}
	vec := dtype.New(v.Kind(), 0)
	if vec == nil {
		return nil, 0, cos.NewErrUnsupportedType(name, v.Kind().String())
	}
	if err := v.Read(vec, nil); err != nil {
		return nil, 0, err
	}
	switch v.Kind() {
	case dtype.Float32:
		return dtype.Values[float32](vec), dtype.FillValue[float32](fill), nil
	case dtype.Float64, dtype.LongDouble:
		src := dtype.Values[float64](vec)
		out := make([]float32, len(src))
		for i, x := range src {
			out[i] = float32(x)
		}
		return out, float32(dtype.FillValue[float64](fill)), nil
	}
	return nil, 0, cos.NewErrUnsupportedType(name, v.Kind().String())
}
