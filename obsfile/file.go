// Package obsfile persists a group (attributes, variables, dimension scales
// and values) in a single self-describing, checksummed file.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package obsfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/cmn/debug"
	"github.com/NVIDIA/obsxfer/cmn/nlog"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/core/mem"

	onexxh "github.com/OneOfOne/xxhash"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

const (
	Ext = ".obs"

	signature = "obsxfer" // file signature
	version   = 1
	//                                0 ---------------- 63  64 ------ 95 | 96 ------ 127
	prefLen = 2 * cos.SizeofI64 // [ signature           | version      |   bit flags  ]

	flCompress = 1 << 0
	flChecksum = 1 << 1

	sizeEstimate = 64 * 1024
)

const tag = "obsfile"

type Opts struct {
	Compress bool
	Checksum bool
}

func DefaultOpts() Opts { return Opts{Compress: true, Checksum: true} }

func (o Opts) flags() (f uint32) {
	if o.Compress {
		f |= flCompress
	}
	if o.Checksum {
		f |= flChecksum
	}
	return
}

// Save writes g to a temporary file and renames it into place.
func Save(path string, g core.Group, opts Opts) (err error) {
	var (
		file *os.File
		tmp  = path + ".tmp." + cos.GenTie()
	)
	if file, err = cos.CreateFile(tmp); err != nil {
		return
	}
	defer func() {
		if err != nil {
			errRm := cos.RemoveFile(tmp)
			debug.AssertNoErr(errRm)
		}
	}()
	if err = Encode(file, g, opts); err != nil {
		cos.Close(file)
		return
	}
	if err = file.Close(); err != nil {
		return
	}
	err = os.Rename(tmp, path)
	return
}

func Load(path string, opts ...mem.Opt) (*mem.Group, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer cos.Close(file)
	g, err := Decode(file, opts...)
	if err != nil {
		if cos.IsErrMetaCksum(err) {
			nlog.Errorf("%s: %v", path, err)
		}
		return nil, errors.Wrap(err, path)
	}
	return g, nil
}

func Encode(w io.Writer, g core.Group, opts Opts) error {
	body, err := marshal(make([]byte, 0, sizeEstimate), g)
	if err != nil {
		return err
	}
	if opts.Compress {
		var (
			zbuf bytes.Buffer
			zw   = lz4.NewWriter(&zbuf)
		)
		if _, err := zw.Write(body); err != nil {
			return errors.Wrap(err, tag+" compression failed")
		}
		if err := zw.Close(); err != nil {
			return errors.Wrap(err, tag+" compression failed")
		}
		body = zbuf.Bytes()
	}

	var prefix [prefLen]byte
	copy(prefix[:cos.SizeofI64], signature)
	binary.BigEndian.PutUint32(prefix[cos.SizeofI64:], version)
	binary.BigEndian.PutUint32(prefix[cos.SizeofI64+4:], opts.flags())
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if !opts.Checksum {
		return nil
	}
	var checksumBuf [cos.SizeXXHash64]byte
	binary.BigEndian.PutUint64(checksumBuf[:], onexxh.Checksum64S(body, cos.MLCG32))
	_, err = w.Write(checksumBuf[:])
	return err
}

func Decode(r io.Reader, opts ...mem.Opt) (*mem.Group, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < prefLen {
		return nil, errors.Errorf("%s: short read (%d bytes)", tag, len(data))
	}
	if string(bytes.TrimRight(data[:cos.SizeofI64], "\x00")) != signature {
		return nil, errors.Errorf("%s: bad signature %q", tag, data[:cos.SizeofI64])
	}
	if v := binary.BigEndian.Uint32(data[cos.SizeofI64:]); v != version {
		return nil, errors.Errorf("%s: unsupported version %d (expecting %d)", tag, v, version)
	}
	flags := binary.BigEndian.Uint32(data[cos.SizeofI64+4:])
	body := data[prefLen:]

	// validate and strip the trailing checksum
	if flags&flChecksum != 0 {
		if len(body) < cos.SizeXXHash64 {
			return nil, errors.Errorf("%s: missing checksum", tag)
		}
		checksumOffset := len(body) - cos.SizeXXHash64
		expectedChecksum := binary.BigEndian.Uint64(body[checksumOffset:])
		body = body[:checksumOffset]
		actualChecksum := onexxh.Checksum64S(body, cos.MLCG32)
		if expectedChecksum != actualChecksum {
			return nil, cos.NewErrMetaCksum(expectedChecksum, actualChecksum, tag)
		}
	}
	if flags&flCompress != 0 {
		zr := lz4.NewReader(bytes.NewReader(body))
		if body, err = io.ReadAll(zr); err != nil {
			return nil, errors.Wrap(err, tag+" decompression failed")
		}
	}
	root := mem.NewRoot(opts...)
	if err := unmarshal(body, root); err != nil {
		return nil, errors.Wrap(err, tag)
	}
	return root, nil
}
