// Package cos provides common low-level types and utilities for all obsxfer packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	ratomic "sync/atomic"

	"github.com/NVIDIA/obsxfer/cmn/debug"
)

// transfer error taxonomy; all of the following are fatal for the pass
type (
	ErrUnsupportedType struct {
		varName string
		kind    string
	}
	ErrSizeMismatch struct {
		what     string
		expected int
		actual   int
	}
	ErrStringFraming struct {
		varName  string
		segment  int
		width    int
		embedded bool // NUL inside the string itself
	}
	ErrMissingRequiredField struct {
		field string
		where string
	}
	ErrPatchPartition struct {
		loc    int
		owners int
	}
	ErrMetaCksum struct {
		context  string
		expected uint64
		actual   uint64
	}
)

type Errs struct {
	errs []error
	cnt  int64
	cap  int
	mu   sync.Mutex
}

// ErrUnsupportedType

func NewErrUnsupportedType(varName, kind string) *ErrUnsupportedType {
	return &ErrUnsupportedType{varName: varName, kind: kind}
}

func (e *ErrUnsupportedType) Error() string {
	s := "Variable '" + e.varName + "' is not of any supported type"
	if e.kind != "" {
		s += " (" + e.kind + ")"
	}
	return s
}

func IsErrUnsupportedType(err error) bool {
	var e *ErrUnsupportedType
	return errors.As(err, &e)
}

// ErrSizeMismatch

func NewErrSizeMismatch(what string, expected, actual int) *ErrSizeMismatch {
	return &ErrSizeMismatch{what: what, expected: expected, actual: actual}
}

func (e *ErrSizeMismatch) Error() string {
	return fmt.Sprintf("%s: size mismatch (expected %d, got %d)", e.what, e.expected, e.actual)
}

func IsErrSizeMismatch(err error) bool {
	var e *ErrSizeMismatch
	return errors.As(err, &e)
}

// ErrStringFraming

func NewErrStringFraming(varName string, segment, width int) *ErrStringFraming {
	return &ErrStringFraming{varName: varName, segment: segment, width: width}
}

// NewErrEmbeddedNUL: a string that cannot be packed since its NUL would
// read back as the segment terminator.
func NewErrEmbeddedNUL(varName string, segment int) *ErrStringFraming {
	return &ErrStringFraming{varName: varName, segment: segment, embedded: true}
}

func (e *ErrStringFraming) Error() string {
	if e.embedded {
		return fmt.Sprintf("variable %q: string #%d contains a NUL byte", e.varName, e.segment)
	}
	return fmt.Sprintf("variable %q: packed string segment #%d has no NUL terminator within %d bytes",
		e.varName, e.segment, e.width)
}

func IsErrStringFraming(err error) bool {
	var e *ErrStringFraming
	return errors.As(err, &e)
}

// ErrMissingRequiredField

func NewErrMissingRequiredField(field, where string) *ErrMissingRequiredField {
	return &ErrMissingRequiredField{field: field, where: where}
}

func (e *ErrMissingRequiredField) Error() string {
	if e.where == "" {
		return "required field " + strconv.Quote(e.field) + " is missing"
	}
	return e.where + ": required field " + strconv.Quote(e.field) + " is missing"
}

func IsErrMissingRequiredField(err error) bool {
	var e *ErrMissingRequiredField
	return errors.As(err, &e)
}

// ErrPatchPartition: a global location owned zero times (gap) or more than
// once (overlap)

func NewErrPatchPartition(loc, owners int) *ErrPatchPartition {
	return &ErrPatchPartition{loc: loc, owners: owners}
}

func (e *ErrPatchPartition) Error() string {
	if e.owners == 0 {
		return fmt.Sprintf("location %d is not patch-owned by any rank", e.loc)
	}
	return fmt.Sprintf("location %d is patch-owned %d times", e.loc, e.owners)
}

func (e *ErrPatchPartition) Loc() int      { return e.loc }
func (e *ErrPatchPartition) Owners() int   { return e.owners }
func (e *ErrPatchPartition) Overlap() bool { return e.owners > 1 }

func IsErrPatchPartition(err error) bool {
	var e *ErrPatchPartition
	return errors.As(err, &e)
}

// ErrMetaCksum

func NewErrMetaCksum(expected, actual uint64, context ...string) *ErrMetaCksum {
	ctx := ""
	if len(context) > 0 {
		ctx = context[0]
	}
	return &ErrMetaCksum{expected: expected, actual: actual, context: ctx}
}

func (e *ErrMetaCksum) Error() string {
	s := fmt.Sprintf("BAD META CHECKSUM: (%x != %x)", e.expected, e.actual)
	if e.context != "" {
		s += " (context: " + e.context + ")"
	}
	return s
}

func IsErrMetaCksum(err error) bool {
	var e *ErrMetaCksum
	return errors.As(err, &e)
}

//
// Errs is a thread-safe collection of errors
//

const defaultMaxErrs = 8

func NewErrs(maxErrs ...int) *Errs {
	capacity := defaultMaxErrs
	if len(maxErrs) > 0 && maxErrs[0] > 0 {
		capacity = maxErrs[0]
	}
	return &Errs{errs: make([]error, 0, capacity), cap: capacity}
}

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			e.mu.Unlock()
			return
		}
	}
	if len(e.errs) < e.cap {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
	e.mu.Unlock()
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) JoinErr() (cnt int, err error) {
	if cnt = e.Cnt(); cnt > 0 {
		e.mu.Lock()
		err = errors.Join(e.errs...)
		e.mu.Unlock()
	}
	return
}

func (e *Errs) Error() string {
	cnt := e.Cnt()
	if cnt == 0 {
		return ""
	}
	e.mu.Lock()
	err := e.errs[0]
	e.mu.Unlock()
	if cnt > 1 {
		return fmt.Sprintf("%v (and %d more error%s)", err, cnt-1, Plural(cnt-1))
	}
	return err.Error()
}

func (e *Errs) Unwrap() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.errs)
}

func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
