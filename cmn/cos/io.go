// Package cos provides common low-level types and utilities for all obsxfer packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	ratomic "sync/atomic"

	"github.com/NVIDIA/obsxfer/cmn/debug"
)

const (
	PermRWR   os.FileMode = 0o640 // POSIX perms
	PermRWXRX os.FileMode = 0o750

	configDirMode = PermRWXRX | os.ModeDir
)

const (
	SizeofI64    = 8
	SizeXXHash64 = 8

	MLCG32 = 1103515245 // xxhash seed
)

var tie ratomic.Int64

// GenTie returns a short process-unique suffix for temporary file names.
func GenTie() string {
	return strconv.FormatInt(tie.Add(1), 36) + strconv.Itoa(os.Getpid())
}

func CreateDir(dir string) error {
	return os.MkdirAll(dir, configDirMode)
}

// CreateFile creates a new write-only (O_WRONLY) file with default cos.PermRWR permissions.
// NOTE: if the file pathname doesn't exist it'll be created.
// NOTE: if the file already exists it'll be also silently truncated.
func CreateFile(fqn string) (*os.File, error) {
	if err := CreateDir(filepath.Dir(fqn)); err != nil {
		return nil, err
	}
	return os.OpenFile(fqn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, PermRWR)
}

// RemoveFile removes path; returns nil upon success or if the path does not exist.
func RemoveFile(path string) (err error) {
	err = os.Remove(path)
	if os.IsNotExist(err) {
		err = nil
	}
	return
}

func Close(closer io.Closer) {
	err := closer.Close()
	debug.AssertNoErr(err)
}
