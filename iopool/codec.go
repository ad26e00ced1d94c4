// Package iopool runs collective transfer passes between all ranks and the
// I/O pool.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package iopool

import (
	"github.com/NVIDIA/obsxfer/grouping"

	"github.com/tinylib/msgp/msgp"
)

// msgpack bodies of the small control messages that ranks exchange around a
// pass (the variable payloads themselves travel raw)

func appendInts(b []byte, vals []int) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(vals)))
	for _, v := range vals {
		b = msgp.AppendInt(b, v)
	}
	return b
}

func readInts(b []byte) ([]int, []byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	vals := make([]int, n)
	for i := range vals {
		if vals[i], b, err = msgp.ReadIntBytes(b); err != nil {
			return nil, b, err
		}
	}
	return vals, b, nil
}

func appendFloat32s(b []byte, vals []float32) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(vals)))
	for _, v := range vals {
		b = msgp.AppendFloat32(b, v)
	}
	return b
}

func readFloat32s(b []byte) ([]float32, []byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	vals := make([]float32, n)
	for i := range vals {
		if vals[i], b, err = msgp.ReadFloat32Bytes(b); err != nil {
			return nil, b, err
		}
	}
	return vals, b, nil
}

// selection of source locations, computed once (rank 0) and broadcast
type indexPlan struct {
	errMsg   string
	srcNlocs int
	counts   grouping.Counts
	idx      []int
	recNums  []int
	lon, lat []float32
}

func (ip *indexPlan) marshal() []byte {
	b := make([]byte, 0, 64+len(ip.idx)*18+len(ip.lon)*10)
	b = msgp.AppendString(b, ip.errMsg)
	b = msgp.AppendInt(b, ip.srcNlocs)
	b = appendInts(b, []int{ip.counts.Src, ip.counts.Inside, ip.counts.Outside, ip.counts.RejectQC, ip.counts.Global})
	b = appendInts(b, ip.idx)
	b = appendInts(b, ip.recNums)
	b = appendFloat32s(b, ip.lon)
	return appendFloat32s(b, ip.lat)
}

func (ip *indexPlan) unmarshal(b []byte) (err error) {
	var cnts []int
	if ip.errMsg, b, err = msgp.ReadStringBytes(b); err != nil {
		return
	}
	if ip.srcNlocs, b, err = msgp.ReadIntBytes(b); err != nil {
		return
	}
	if cnts, b, err = readInts(b); err != nil {
		return
	}
	if len(cnts) == 5 {
		ip.counts = grouping.Counts{Src: cnts[0], Inside: cnts[1], Outside: cnts[2], RejectQC: cnts[3], Global: cnts[4]}
	}
	if ip.idx, b, err = readInts(b); err != nil {
		return
	}
	if ip.recNums, b, err = readInts(b); err != nil {
		return
	}
	if ip.lon, b, err = readFloat32s(b); err != nil {
		return
	}
	ip.lat, _, err = readFloat32s(b)
	return
}
