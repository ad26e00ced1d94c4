// Package transport provides the rank-to-rank communicator used by collective
// transfers.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"github.com/NVIDIA/obsxfer/cmn/cos"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

// wire frame: msgpack array [comm, src, tag, cksum, body]
const frameFields = 5

// opcode tags (positive tags are user traffic, negative are collectives)
const (
	tagHello = -1 << 30
	tagAbort = tagHello + 1 // body: cause
)

type frame struct {
	comm  string
	body  []byte
	src   int
	tag   int
	cksum uint64
}

func (f *frame) EncodeMsg(w *msgp.Writer) (err error) {
	if err = w.WriteArrayHeader(frameFields); err != nil {
		return
	}
	if err = w.WriteString(f.comm); err != nil {
		return
	}
	if err = w.WriteInt(f.src); err != nil {
		return
	}
	if err = w.WriteInt(f.tag); err != nil {
		return
	}
	if err = w.WriteUint64(xxhash.Sum64(f.body)); err != nil {
		return
	}
	return w.WriteBytes(f.body)
}

// DecodeMsg reuses f.body when large enough and verifies the checksum.
func (f *frame) DecodeMsg(r *msgp.Reader) (err error) {
	var n uint32
	if n, err = r.ReadArrayHeader(); err != nil {
		return
	}
	if n != frameFields {
		return cos.NewErrSizeMismatch("transport frame fields", frameFields, int(n))
	}
	if f.comm, err = r.ReadString(); err != nil {
		return
	}
	if f.src, err = r.ReadInt(); err != nil {
		return
	}
	if f.tag, err = r.ReadInt(); err != nil {
		return
	}
	if f.cksum, err = r.ReadUint64(); err != nil {
		return
	}
	if f.body, err = r.ReadBytes(f.body[:0]); err != nil {
		return
	}
	if actual := xxhash.Sum64(f.body); actual != f.cksum {
		return errors.Errorf("transport frame from %d (tag %d): checksum mismatch %x vs %x",
			f.src, f.tag, f.cksum, actual)
	}
	return nil
}
