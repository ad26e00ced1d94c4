// Package nlog - obsxfer logger, provides buffering, timestamping, rank
// prefixing, and flushing
/*
 * Copyright (c) 2023-2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import "strconv"

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

// SetLogDir must be called before the first log line; an empty dir keeps
// logging on stderr.
func SetLogDir(dir string) {
	logDir = dir
	toStderr = dir == ""
}

// SetAlsoToStderr duplicates file logging on stderr.
func SetAlsoToStderr(v bool) { alsoToStderr = v }

func SetTitle(s string) { title = s }

// SetRank tags all subsequent lines of this process with "[r<rank>]".
// In-process worlds (many ranks, one process) leave it unset.
func SetRank(rank int) {
	p := "[r" + strconv.Itoa(rank) + "]"
	prefix.Store(&p)
}

func SetVerbosity(level int) { verbosity.Store(int32(level)) }

// V reports whether verbose logging at the given level is enabled.
func V(level int) bool { return int(verbosity.Load()) >= level }

func Flush() {
	if std == nil {
		return
	}
	std.mw.Lock()
	std.flushLocked()
	if std.file != nil {
		std.file.Sync()
	}
	std.mw.Unlock()
}
