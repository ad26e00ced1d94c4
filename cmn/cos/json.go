// Package cos provides common low-level types and utilities for all obsxfer packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"github.com/NVIDIA/obsxfer/cmn/debug"

	jsoniter "github.com/json-iterator/go"
)

// JSON is used to Marshal/Unmarshal configuration and summaries.
var JSON jsoniter.API

func init() {
	jsonConf := jsoniter.Config{
		EscapeHTML:             false,
		ValidateJsonRawMessage: false,
		DisallowUnknownFields:  true, // config typos must not pass silently
		SortMapKeys:            true,
	}
	JSON = jsonConf.Froze()
}

func MustMarshalToString(v any) string {
	s, err := JSON.MarshalToString(v)
	debug.AssertNoErr(err)
	return s
}

func MustMarshalIndent(v any) []byte {
	b, err := JSON.MarshalIndent(v, "", "    ")
	debug.AssertNoErr(err)
	return b
}
