// Package cos provides common low-level types and utilities for all obsxfer packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"

	"github.com/NVIDIA/obsxfer/cmn/nlog"
)

const assertMsg = "assertion failed"

// NOTE: not to be used in the datapath - see cmn/debug
func Assertf(cond bool, f string, a ...any) {
	if !cond {
		AssertMsg(cond, fmt.Sprintf(f, a...))
	}
}

func Assert(cond bool) {
	if !cond {
		nlog.Flush()
		panic(assertMsg)
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		nlog.Flush()
		panic(assertMsg + ": " + msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		nlog.ErrorDepth(1, err)
		nlog.Flush()
		panic(err)
	}
}
