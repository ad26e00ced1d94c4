// Package transport provides the rank-to-rank communicator used by collective
// transfers: tagged point-to-point messages (blocking and non-blocking), a
// small set of collectives, and sub-communicators. Two worlds implement it:
// in-process (goroutine per rank) and TCP (process per rank).
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"fmt"

	"github.com/NVIDIA/obsxfer/cmn/cos"

	"github.com/pkg/errors"
)

// Undefined is the Split color of ranks that do not join any sub-communicator.
const Undefined = -1

type (
	// Comm is an ordered group of ranks. Messages between a given pair of
	// ranks with a given tag are delivered in the order they were sent.
	// Collectives must be entered by every rank of the Comm in the same order.
	Comm interface {
		Rank() int
		Size() int
		// WorldRank translates a rank of this Comm into a rank of the world.
		WorldRank(rank int) int

		// Isend posts buf for delivery; buf may be reused once the request completes.
		Isend(buf []byte, dst, tag int) *Request
		// Irecv receives into buf, which must be large enough for the message.
		Irecv(buf []byte, src, tag int) *Request
		Send(buf []byte, dst, tag int) error
		// Recv returns a message of any size.
		Recv(src, tag int) ([]byte, error)

		Barrier() error
		Bcast(buf []byte, root int) ([]byte, error)
		Gather(own []byte, root int) ([][]byte, error)
		AllGather(own []byte) ([][]byte, error)
		AllReduceMax(val int64) (int64, error)
		AllGatherInt(val int) ([]int, error)

		// Split partitions the ranks by color and orders each part by key
		// (ties broken by current rank). Returns nil for color Undefined.
		Split(color, key int) (Comm, error)

		// Abort fails every pending and future receive on every rank of the
		// world (not only of this Comm) with an error wrapping ErrAborted.
		Abort(cause error)
	}

	// Request is a pending non-blocking operation.
	Request struct {
		done chan struct{}
		err  error
		n    int
	}
)

// ErrAborted is returned by pending operations once any rank of the world failed.
var ErrAborted = errors.New("transport: world aborted")

func abortErr(rank int, cause any) error {
	if err, ok := cause.(error); ok {
		return fmt.Errorf("%w: rank %d failed: %w", ErrAborted, rank, err)
	}
	return fmt.Errorf("%w: rank %d failed: %v", ErrAborted, rank, cause)
}

func completed(n int, err error) *Request {
	r := &Request{done: make(chan struct{}), n: n, err: err}
	close(r.done)
	return r
}

// Wait blocks until the request completes and returns the number of bytes moved.
func (r *Request) Wait() (int, error) {
	<-r.done
	return r.n, r.err
}

// WaitAll waits for every request and returns the errors, if any, joined.
func WaitAll(reqs []*Request) error {
	errs := cos.NewErrs()
	for _, r := range reqs {
		if _, err := r.Wait(); err != nil {
			errs.Add(err)
		}
	}
	if errs.Cnt() == 0 {
		return nil
	}
	_, err := errs.JoinErr()
	return err
}
