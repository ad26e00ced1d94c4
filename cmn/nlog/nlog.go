// Package nlog - obsxfer logger, provides buffering, timestamping, rank
// prefixing, and flushing
/*
 * Copyright (c) 2023-2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	nlogBufSize  = 64 * 1024
	nlogLineSize = 4 * 1024

	flushAfter = 10 * time.Second
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

type nlog struct {
	out  io.Writer
	file *os.File
	pw   *fixed
	line fixed
	last atomic.Int64
	mw   sync.Mutex
}

var (
	std *nlog

	toStderr     = true
	alsoToStderr bool
	logDir       string
	title        string

	verbosity atomic.Int32
	prefix    atomic.Pointer[string]

	onceInit sync.Once

	pool = sync.Pool{
		New: func() any {
			return &fixed{buf: make([]byte, nlogLineSize)}
		},
	}
)

func initStd() {
	std = &nlog{
		out:  os.Stderr,
		pw:   &fixed{buf: make([]byte, nlogBufSize)},
		line: fixed{buf: make([]byte, nlogLineSize)},
	}
	if toStderr || logDir == "" {
		return
	}
	if err := std.create(time.Now()); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("nlog: unable to create log in %q: %v (using stderr)\n", logDir, err))
		std.out, std.file = os.Stderr, nil
	}
}

// main function
func log(sev severity, depth int, format string, args ...any) {
	onceInit.Do(initStd)

	if std.file == nil {
		fb := alloc()
		sprintf(sev, depth, format, fb, args...)
		std.mw.Lock()
		os.Stderr.Write(fb.buf[:fb.woff])
		std.mw.Unlock()
		free(fb)
		return
	}
	std.mw.Lock()
	std.line.reset()
	sprintf(sev, depth, format, &std.line, args...)
	if alsoToStderr || sev >= sevErr {
		os.Stderr.Write(std.line.buf[:std.line.woff])
	}
	std.write(&std.line)
	if sev >= sevErr {
		std.flushLocked()
	}
	std.mw.Unlock()
}

// under mw-lock
func (nlog *nlog) write(line *fixed) {
	if nlog.pw.avail() < line.woff {
		nlog.flushLocked()
	}
	nlog.pw.Write(line.buf[:line.woff])
	if nlog.pw.avail() < nlogBufSize/2 || time.Since(time.Unix(0, nlog.last.Load())) > flushAfter {
		nlog.flushLocked()
	}
}

func (nlog *nlog) flushLocked() {
	if nlog.pw.woff == 0 {
		return
	}
	nlog.pw.flush(nlog.out)
	nlog.pw.reset()
	nlog.last.Store(time.Now().UnixNano())
}

func (nlog *nlog) create(now time.Time) (err error) {
	if err = os.MkdirAll(logDir, os.ModePerm); err != nil {
		return
	}
	fname := filepath.Join(logDir, logfname(now))
	if nlog.file, err = os.OpenFile(fname, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640); err != nil {
		return
	}
	nlog.out = nlog.file
	s := fmt.Sprintf("Started up at %s, %s for %s/%s\n", now.Format("2006/01/02 15:04:05"),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if _, err = nlog.file.WriteString(s); err == nil && title != "" {
		_, err = nlog.file.WriteString(title + "\n")
	}
	nlog.last.Store(now.UnixNano())
	return
}

//
// utils
//

func logfname(t time.Time) string {
	return fmt.Sprintf("%s.%02d%02d-%02d%02d%02d.%d.log",
		filepath.Base(os.Args[0]), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), os.Getpid())
}

func formatHdr(s severity, depth int, fb *fixed) {
	const char = "IWE"
	fb.writeByte(char[s])
	fb.writeByte(' ')
	fb.writeStamp()
	fb.writeByte(' ')
	if p := prefix.Load(); p != nil {
		fb.writeString(*p)
		fb.writeByte(' ')
	}
	_, fn, ln, ok := runtime.Caller(3 + depth)
	if !ok {
		return
	}
	if idx := strings.LastIndexByte(fn, filepath.Separator); idx > 0 {
		fn = fn[idx+1:]
	}
	fn = strings.TrimSuffix(fn, ".go")
	fb.writeString(fn)
	fb.writeByte(':')
	fb.writeString(strconv.Itoa(ln))
	fb.writeByte(' ')
}

func sprintf(sev severity, depth int, format string, fb *fixed, args ...any) {
	formatHdr(sev, depth+1, fb)
	if format == "" {
		fmt.Fprint(fb, args...)
	} else {
		fmt.Fprintf(fb, format, args...)
	}
	fb.eol()
}

func alloc() (fb *fixed) {
	fb = pool.Get().(*fixed)
	fb.reset()
	return
}

func free(fb *fixed) { pool.Put(fb) }
